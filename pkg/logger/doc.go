// Package logger builds *slog.Logger instances for photovault processes.
//
// New applies functional options on top of production defaults (JSON, INFO,
// stdout) and wraps the chosen slog.Handler with a decorator that copies
// request-scoped values out of context.Context on every record. Billing code
// stores the webhook event being processed with WithEvent so that every log
// line emitted while handling it carries event_id and provider without being
// threaded through call sites.
//
//	log := logger.New(logger.WithEnvironment(cfg.Env, "photovault"))
//	ctx = logger.WithEvent(ctx, "evt_123", "stripe")
//	log.InfoContext(ctx, "subscription synced", logger.UserID(user.ID))
//
// Attribute constructors in attr.go keep key names consistent across
// packages. Constructors taking an id return an empty slog.Attr for empty
// values, which slog drops.
package logger
