package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Format is the output encoding.
type Format string

const (
	// FormatJSON writes one JSON object per record, for log aggregation.
	FormatJSON Format = "json"
	// FormatText writes logfmt-style lines for local development.
	FormatText Format = "text"
)

// Environment names understood by WithEnvironment.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Option configures New.
type Option func(*options)

type options struct {
	level      slog.Leveler
	format     Format
	output     io.Writer
	attrs      []slog.Attr
	extractors []ContextExtractor
}

// WithLevel sets the minimum level. A *slog.LevelVar can be passed to change
// the level at runtime. Nil is ignored.
func WithLevel(l slog.Leveler) Option {
	return func(o *options) {
		if l != nil {
			o.level = l
		}
	}
}

// WithFormat panics on unknown formats so misconfiguration fails at startup.
func WithFormat(f Format) Option {
	return func(o *options) {
		switch f {
		case FormatJSON, FormatText:
			o.format = f
		default:
			panic(fmt.Errorf("logger: invalid format %q", f))
		}
	}
}

// WithOutput sets the destination. Nil writers are ignored and the default
// stays os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		if w != nil {
			o.output = w
		}
	}
}

// WithAttr adds static attributes to every record.
func WithAttr(attrs ...slog.Attr) Option {
	return func(o *options) {
		o.attrs = append(o.attrs, attrs...)
	}
}

// WithContextExtractors registers extra context extractors. Nil entries are skipped.
func WithContextExtractors(extractors ...ContextExtractor) Option {
	return func(o *options) {
		for _, ex := range extractors {
			if ex != nil {
				o.extractors = append(o.extractors, ex)
			}
		}
	}
}

// WithEnvironment picks format and level for env and tags records with
// service and env.
//
// Production and staging ("prod" and "stage" are accepted too) log JSON at
// info level. Anything else is treated as development and logs text at debug
// level. Options passed after WithEnvironment override its choices.
//
// Example:
//
//	log := logger.New(
//		logger.WithEnvironment(os.Getenv("APP_ENV"), "photovault"),
//		logger.WithOutput(os.Stderr),
//	)
func WithEnvironment(env, service string) Option {
	return func(o *options) {
		switch env {
		case EnvProduction, "prod", EnvStaging, "stage":
			o.level = slog.LevelInfo
			o.format = FormatJSON
		default:
			env = EnvDevelopment
			o.level = slog.LevelDebug
			o.format = FormatText
		}
		if service != "" {
			o.attrs = append(o.attrs, slog.String("service", service))
		}
		o.attrs = append(o.attrs, slog.String("env", env))
	}
}

// New returns a logger writing through the context-aware decorator.
//
// Without options it writes JSON at info level to os.Stdout. Options are
// applied in order, so later ones win. Every record logged with a context
// carries the gateway event stored by WithEvent, plus whatever the extractors
// registered with WithContextExtractors return.
//
// Example:
//
//	log := logger.New(
//		logger.WithFormat(logger.FormatText),
//		logger.WithLevel(slog.LevelDebug),
//		logger.WithAttr(slog.String("component", "sweep")),
//	)
//	ctx := logger.WithEvent(ctx, "evt_123", "stripe")
//	log.InfoContext(ctx, "plan applied", logger.PlanID("pro"))
func New(opts ...Option) *slog.Logger {
	o := &options{
		level:      slog.LevelInfo,
		format:     FormatJSON,
		output:     os.Stdout,
		extractors: []ContextExtractor{eventExtractor},
	}
	for _, opt := range opts {
		opt(o)
	}

	hopts := &slog.HandlerOptions{Level: o.level}
	var h slog.Handler
	if o.format == FormatText {
		h = slog.NewTextHandler(o.output, hopts)
	} else {
		h = slog.NewJSONHandler(o.output, hopts)
	}
	if len(o.attrs) > 0 {
		h = h.WithAttrs(o.attrs)
	}
	return slog.New(NewContextHandler(h, o.extractors...))
}

// Nop returns a logger that discards everything.
func Nop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// OrNop returns l, or a discarding logger when l is nil. Constructors that
// take an optional *slog.Logger use it so callers may pass nil.
func OrNop(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Nop()
	}
	return l
}

type eventKey struct{}

type eventMeta struct {
	id       string
	provider string
}

// WithEvent stores the gateway event being processed in ctx. Loggers built
// by New add it to every record as an "event" group with id and provider.
func WithEvent(ctx context.Context, eventID, provider string) context.Context {
	return context.WithValue(ctx, eventKey{}, eventMeta{id: eventID, provider: provider})
}

func eventExtractor(ctx context.Context) (slog.Attr, bool) {
	m, ok := ctx.Value(eventKey{}).(eventMeta)
	if !ok {
		return slog.Attr{}, false
	}
	return slog.Group("event", slog.String("id", m.id), slog.String("provider", m.provider)), true
}
