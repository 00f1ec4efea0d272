// Package app assembles the service from configuration.
//
// Config picks the backends: the entity store (memory, MongoDB or Postgres),
// the blob store (memory or S3) and the email driver (a directory writer or
// Postmark). Redis, when enabled, backs webhook deduplication and the task
// queue; RabbitMQ, when enabled, receives subscription change events. Each
// backend reads its own settings only when selected, so a development run
// needs no environment at all.
//
//	a, err := app.New(ctx, cfg, log)
//	if err != nil {
//		return err
//	}
//	defer a.Close()
//	return httpserver.New(hcfg, log).Run(ctx, a.Router())
package app
