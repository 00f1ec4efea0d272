// Package httpserver serves photovault's HTTP surface with graceful shutdown.
//
// NewRouter returns a chi router carrying the common middleware stack
// (request id, real ip, panic recovery, slog access log) plus liveness,
// readiness and Prometheus endpoints. Feature packages mount their routes on
// it. Server.Run blocks until the context is cancelled, then drains
// in-flight requests within ShutdownTimeout.
//
//	r := httpserver.NewRouter(log, httpserver.WithReadiness(pg.Healthcheck(pool)))
//	r.Mount("/webhooks", billingHandler.Routes())
//	err := httpserver.New(cfg, log).Run(ctx, r)
package httpserver
