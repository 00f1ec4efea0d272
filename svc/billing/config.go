package billing

import "time"

// Config holds the coordinator and sweep settings.
type Config struct {
	CatalogPath     string        `env:"BILLING_CATALOG_PATH"`
	PortalReturnURL string        `env:"BILLING_PORTAL_RETURN_URL" envDefault:"http://localhost:8080/account/billing"`
	DedupTTL        time.Duration `env:"BILLING_DEDUP_TTL" envDefault:"72h"`
	DedupPrefix     string        `env:"BILLING_DEDUP_PREFIX" envDefault:"billing:event"`
	SweepSchedule   string        `env:"SWEEP_SCHEDULE" envDefault:"@every 1h"`
	SweepPageSize   int           `env:"SWEEP_PAGE_SIZE" envDefault:"100"`
	Providers       []string      `env:"BILLING_PROVIDERS" envDefault:"stripe" envSeparator:","`
}
