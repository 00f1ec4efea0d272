package app

import "time"

const (
	StoreMemory   = "memory"
	StoreMongo    = "mongo"
	StorePostgres = "postgres"

	BlobMemory = "memory"
	BlobS3     = "s3"

	EmailDev      = "dev"
	EmailPostmark = "postmark"
)

// Config selects the backends. Each backend reads its own Config when it is
// selected, so unused backends need no environment.
type Config struct {
	Environment string `env:"APP_ENV" envDefault:"development"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"photovault"`

	Store       string `env:"STORE_DRIVER" envDefault:"memory" validate:"oneof=memory mongo postgres"`
	BlobStore   string `env:"BLOB_DRIVER" envDefault:"memory" validate:"oneof=memory s3"`
	EmailDriver string `env:"EMAIL_DRIVER" envDefault:"dev" validate:"oneof=dev postmark"`
	UseRedis    bool   `env:"REDIS_ENABLED" envDefault:"false"`
	UseRabbitMQ bool   `env:"RABBITMQ_ENABLED" envDefault:"false"`

	MediaBaseURL   string        `env:"MEDIA_BASE_URL" envDefault:"http://localhost:8080/media"`
	MaxUploadBytes int64         `env:"UPLOAD_MAX_BYTES" envDefault:"5368709120"`
	StartupTimeout time.Duration `env:"STARTUP_TIMEOUT" envDefault:"30s"`
}
