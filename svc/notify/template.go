package notify

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"
	"github.com/shopspring/decimal"
)

// DunningProps is the data shown in a dunning email.
type DunningProps struct {
	InvoiceID    string
	Amount       string
	AttemptCount int64
	PortalURL    string
	SupportEmail string
}

// DunningEmail renders the payment-failed message.
func DunningEmail(p DunningProps) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<!DOCTYPE html><html><body style="font-family:sans-serif;color:#1f2937">`)
		b.WriteString(`<h1 style="font-size:20px">We could not process your payment</h1>`)
		fmt.Fprintf(&b, `<p>The payment of <strong>%s</strong> for invoice %s did not go through.`,
			templ.EscapeString(p.Amount), templ.EscapeString(p.InvoiceID))
		if p.AttemptCount > 1 {
			fmt.Fprintf(&b, ` This was attempt %d.`, p.AttemptCount)
		}
		b.WriteString(`</p>`)
		b.WriteString(`<p>Your photos and videos stay available while we retry. Update your payment method to keep your plan.</p>`)
		if p.PortalURL != "" {
			fmt.Fprintf(&b, `<p><a href="%s" style="display:inline-block;padding:10px 16px;background:#2563eb;color:#fff;text-decoration:none;border-radius:6px">Update payment method</a></p>`,
				templ.EscapeString(string(templ.URL(p.PortalURL))))
		}
		if p.SupportEmail != "" {
			fmt.Fprintf(&b, `<p style="font-size:12px;color:#6b7280">Questions? Write to %s.</p>`, templ.EscapeString(p.SupportEmail))
		}
		b.WriteString(`</body></html>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

// zeroDecimal lists currencies without minor units.
var zeroDecimal = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// FormatAmount renders a minor-unit amount as "12.50 USD".
func FormatAmount(minor int64, currency string) string {
	currency = strings.ToUpper(currency)
	if zeroDecimal[currency] {
		return strings.TrimSpace(fmt.Sprintf("%d %s", minor, currency))
	}
	return strings.TrimSpace(decimal.New(minor, -2).StringFixed(2) + " " + currency)
}
