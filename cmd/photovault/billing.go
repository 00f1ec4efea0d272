package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/photovault/svc/notify"
)

var errCatalogDrift = errors.New("catalog does not match gateway prices")

var refundQuoteCmd = &cobra.Command{
	Use:   "refund-quote <subscription-id>",
	Short: "Show the prorated refund for canceling a subscription now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := container.Coordinator.QuoteRefund(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "subscription\t%s\n", q.SubscriptionID)
		fmt.Fprintf(w, "invoice\t%s\n", q.InvoiceID)
		fmt.Fprintf(w, "period\t%s - %s\n", q.PeriodStart.Format(time.DateOnly), q.PeriodEnd.Format(time.DateOnly))
		fmt.Fprintf(w, "paid\t%s\n", notify.FormatAmount(q.Total, q.Currency))
		fmt.Fprintf(w, "refund\t%s\n", notify.FormatAmount(q.Amount, q.Currency))
		return w.Flush()
	},
}

var verifyCatalogCmd = &cobra.Command{
	Use:   "verify-catalog",
	Short: "Compare the plan catalog with the prices known to the gateway",
	RunE: func(cmd *cobra.Command, _ []string) error {
		drift, err := container.VerifyCatalog(cmd.Context())
		if err != nil {
			return err
		}
		for _, d := range drift {
			fmt.Fprintln(cmd.OutOrStdout(), d.String())
		}
		if len(drift) > 0 {
			return fmt.Errorf("%w: %d mismatches", errCatalogDrift, len(drift))
		}
		fmt.Fprintln(cmd.OutOrStdout(), "catalog matches gateway")
		return nil
	},
}
