package main

import (
	"context"
	"errors"
	"sync"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/photovault/pkg/config"
	"github.com/dmitrymomot/photovault/pkg/httpserver"
)

var noSweep bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the task worker and the entitlement sweep",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var hcfg httpserver.Config
		if err := config.Load(&hcfg); err != nil {
			return err
		}
		srv := httpserver.New(hcfg, log)
		router := container.Router()

		tasks := []func(context.Context) error{
			func(ctx context.Context) error { return srv.Run(ctx, router) },
			container.Worker.Run,
		}
		if !noSweep {
			tasks = append(tasks, func(ctx context.Context) error {
				return container.Sweeper.Schedule(ctx, container.Billing.SweepSchedule)
			})
		}
		return runAll(cmd.Context(), tasks...)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&noSweep, "no-sweep", false, "do not schedule the entitlement sweep")
}

// runAll runs every task until ctx is done or one of them fails; the first
// failure stops the rest.
func runAll(ctx context.Context, tasks ...func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, task := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := task(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				cancel()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
