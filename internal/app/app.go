package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/dmitrymomot/photovault/pkg/config"
	"github.com/dmitrymomot/photovault/pkg/email"
	"github.com/dmitrymomot/photovault/pkg/eventbus"
	"github.com/dmitrymomot/photovault/pkg/file"
	"github.com/dmitrymomot/photovault/pkg/httpserver"
	"github.com/dmitrymomot/photovault/pkg/logger"
	mongox "github.com/dmitrymomot/photovault/pkg/mongo"
	"github.com/dmitrymomot/photovault/pkg/pg"
	"github.com/dmitrymomot/photovault/pkg/queue"
	"github.com/dmitrymomot/photovault/pkg/redis"
	"github.com/dmitrymomot/photovault/svc/billing"
	"github.com/dmitrymomot/photovault/svc/billing/mongostore"
	"github.com/dmitrymomot/photovault/svc/billing/pgstore"
	"github.com/dmitrymomot/photovault/svc/notify"
	"github.com/dmitrymomot/photovault/svc/upload"
)

var (
	ErrUnknownDriver   = errors.New("unknown driver")
	ErrUnknownProvider = errors.New("unknown billing provider")
	ErrNoPriceLister   = errors.New("no gateway can list prices")
)

// App is the assembled service: every component the commands need.
type App struct {
	Config      Config
	Billing     billing.Config
	Store       billing.Store
	Catalog     *billing.Catalog
	Coordinator *billing.Coordinator
	Quota       *billing.Quota
	Sweeper     *billing.Sweeper
	Uploads     *upload.Service
	Notifier    *notify.Notifier
	Worker      *queue.Worker
	Enqueuer    *queue.Enqueuer
	Registry    *prometheus.Registry
	PriceLister billing.PriceLister

	log     *slog.Logger
	pool    *pgxpool.Pool
	db      *mongo.Database
	checks  []func(context.Context) error
	closers []func() error
}

type options struct {
	billing *billing.Config
	queue   *queue.Config
	email   *email.Config
}

type Option func(*options)

// WithBillingConfig uses cfg instead of reading billing settings from the environment.
func WithBillingConfig(cfg billing.Config) Option {
	return func(o *options) { o.billing = &cfg }
}

func WithQueueConfig(cfg queue.Config) Option {
	return func(o *options) { o.queue = &cfg }
}

func WithEmailConfig(cfg email.Config) Option {
	return func(o *options) { o.email = &cfg }
}

// load returns override when set, otherwise the environment-parsed value.
func load[T any](override *T) (T, error) {
	if override != nil {
		return *override, nil
	}
	var v T
	err := config.Load(&v)
	return v, err
}

// New connects the configured backends and wires the services. On error every
// backend opened so far is closed.
func New(ctx context.Context, cfg Config, log *slog.Logger, opts ...Option) (_ *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		Config:   cfg,
		Registry: prometheus.NewRegistry(),
		log:      logger.OrNop(log),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if a.Billing, err = load(o.billing); err != nil {
		return nil, err
	}
	if a.Catalog, err = billing.LoadCatalog(a.Billing.CatalogPath); err != nil {
		return nil, err
	}

	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := billing.NewMetrics(a.Registry)

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	var rdb *goredis.Client
	if cfg.UseRedis {
		var rcfg redis.Config
		if err := config.Load(&rcfg); err != nil {
			return nil, err
		}
		if rdb, err = redis.Connect(ctx, rcfg); err != nil {
			return nil, err
		}
		a.checks = append(a.checks, redis.Healthcheck(rdb))
		a.closers = append(a.closers, rdb.Close)
	}

	qcfg, err := load(o.queue)
	if err != nil {
		return nil, err
	}
	var qstore queue.Storage = queue.NewMemoryStorage()
	if rdb != nil {
		qstore = queue.NewRedisStorage(rdb, qcfg.RedisPrefix)
	}
	enqOpts := []queue.EnqueuerOption{queue.WithMaxAttempts(qcfg.MaxAttempts)}
	if len(qcfg.Queues) > 0 {
		enqOpts = append(enqOpts, queue.WithDefaultQueue(qcfg.Queues[0]))
	}
	if a.Enqueuer, err = queue.NewEnqueuer(qstore, enqOpts...); err != nil {
		return nil, err
	}
	if a.Worker, err = queue.NewWorker(qstore, append(qcfg.WorkerOptions(), queue.WithLogger(a.log))...); err != nil {
		return nil, err
	}

	var dedup billing.Deduplicator = billing.NewMemoryDeduplicator(a.Billing.DedupTTL)
	if rdb != nil {
		dedup = billing.NewRedisDeduplicator(rdb, a.Billing.DedupPrefix, a.Billing.DedupTTL)
	}

	copts := []billing.CoordinatorOption{
		billing.WithDeduplicator(dedup),
		billing.WithEnqueuer(a.Enqueuer),
		billing.WithPortalReturnURL(a.Billing.PortalReturnURL),
		billing.WithLogger(a.log),
		billing.WithMetrics(metrics),
	}
	if cfg.UseRabbitMQ {
		var ecfg eventbus.Config
		if err := config.Load(&ecfg); err != nil {
			return nil, err
		}
		pub, err := eventbus.NewRabbitMQPublisher(ecfg, a.log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pub.Close)
		copts = append(copts, billing.WithPublisher(pub))
	}
	gwOpts, err := a.gateways()
	if err != nil {
		return nil, err
	}
	copts = append(copts, gwOpts...)

	a.Coordinator = billing.NewCoordinator(a.Store, a.Catalog, copts...)
	a.Quota = billing.NewQuota(a.Store, billing.WithQuotaMetrics(metrics))
	a.Sweeper = billing.NewSweeper(a.Store, a.Coordinator.Synchronizer(),
		billing.WithSweepPageSize(a.Billing.SweepPageSize),
		billing.WithSweepMetrics(metrics),
		billing.WithSweepLogger(a.log),
	)

	blobs, err := a.openBlobs(ctx)
	if err != nil {
		return nil, err
	}
	uopts := []upload.Option{upload.WithLogger(a.log)}
	if cfg.MaxUploadBytes > 0 {
		uopts = append(uopts, upload.WithMaxSize(cfg.MaxUploadBytes))
	}
	a.Uploads = upload.NewService(a.Quota, a.Store, blobs, uopts...)

	ecfg, err := load(o.email)
	if err != nil {
		return nil, err
	}
	sender, err := a.openSender(ecfg)
	if err != nil {
		return nil, err
	}
	a.Notifier = notify.New(sender,
		notify.WithUsers(a.Store),
		notify.WithSupportEmail(ecfg.SupportEmail),
		notify.WithLogger(a.log),
	)
	a.Worker.Register(a.Notifier.Handler())

	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	switch a.Config.Store {
	case StoreMemory, "":
		a.Store = billing.NewMemoryStore()
	case StoreMongo:
		var mcfg mongox.Config
		if err := config.Load(&mcfg); err != nil {
			return err
		}
		db, err := mongox.Connect(ctx, mcfg)
		if err != nil {
			return err
		}
		a.db = db
		a.Store = mongostore.New(db)
		a.checks = append(a.checks, mongox.Healthcheck(db))
		a.closers = append(a.closers, func() error {
			return db.Client().Disconnect(context.Background())
		})
	case StorePostgres:
		var pcfg pg.Config
		if err := config.Load(&pcfg); err != nil {
			return err
		}
		pool, err := pg.Connect(ctx, pcfg)
		if err != nil {
			return err
		}
		a.pool = pool
		a.Store = pgstore.New(pool)
		a.checks = append(a.checks, pg.Healthcheck(pool))
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
	default:
		return fmt.Errorf("%w: store %q", ErrUnknownDriver, a.Config.Store)
	}
	return nil
}

// gateways builds the coordinator options for the configured providers. The
// first provider with a full gateway serves checkout, portal and refunds;
// a decoder-only provider fills checkout and portal when no gateway does.
func (a *App) gateways() ([]billing.CoordinatorOption, error) {
	var (
		opts     []billing.CoordinatorOption
		decoders []billing.EventDecoder
		full     bool
		paddle   *billing.PaddleGateway
	)
	for _, name := range a.Billing.Providers {
		switch name {
		case billing.ProviderStripe:
			var scfg billing.StripeConfig
			if err := config.Load(&scfg); err != nil {
				return nil, err
			}
			g, err := billing.NewStripeGateway(scfg, billing.WithStripeLogger(a.log))
			if err != nil {
				return nil, err
			}
			decoders = append(decoders, g)
			if !full {
				full = true
				a.PriceLister = g
				opts = append(opts, billing.WithGateway(g))
			}
		case billing.ProviderPaddle:
			var pcfg billing.PaddleConfig
			if err := config.Load(&pcfg); err != nil {
				return nil, err
			}
			g, err := billing.NewPaddleGateway(pcfg)
			if err != nil {
				return nil, err
			}
			decoders = append(decoders, g)
			paddle = g
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
		}
	}
	if paddle != nil && !full {
		opts = append(opts, billing.WithCheckout(paddle), billing.WithPortalLinker(paddle))
	}
	if len(decoders) > 0 {
		opts = append(opts, billing.WithDecoders(decoders...))
	}
	return opts, nil
}

func (a *App) openBlobs(ctx context.Context) (file.Storage, error) {
	switch a.Config.BlobStore {
	case BlobMemory, "":
		return file.NewMemoryStorage(a.Config.MediaBaseURL), nil
	case BlobS3:
		var scfg file.S3Config
		if err := config.Load(&scfg); err != nil {
			return nil, err
		}
		return file.NewS3Storage(ctx, scfg)
	default:
		return nil, fmt.Errorf("%w: blob store %q", ErrUnknownDriver, a.Config.BlobStore)
	}
}

func (a *App) openSender(cfg email.Config) (email.Sender, error) {
	switch a.Config.EmailDriver {
	case EmailDev, "":
		return email.NewDevSender(cfg.DevDir), nil
	case EmailPostmark:
		return email.NewPostmark(cfg)
	default:
		return nil, fmt.Errorf("%w: email %q", ErrUnknownDriver, a.Config.EmailDriver)
	}
}

// Router mounts the health, metrics, webhook, billing and upload routes.
func (a *App) Router() chi.Router {
	r := httpserver.NewRouter(a.log,
		httpserver.WithReadiness(a.checks...),
		httpserver.WithMetrics(a.Registry),
	)
	billing.MountWebhooks(r, a.Coordinator, a.log)
	billing.MountAPI(r, a.Coordinator, a.log)
	upload.MountRoutes(r, a.Uploads, a.log)
	return r
}

// Migrate applies the schema for the configured store. The memory store
// needs none.
func (a *App) Migrate(ctx context.Context) error {
	switch {
	case a.pool != nil:
		var pcfg pg.Config
		if err := config.Load(&pcfg); err != nil {
			return err
		}
		return pg.Migrate(ctx, a.pool, pgstore.Migrations, pcfg, a.log)
	case a.db != nil:
		return mongostore.EnsureIndexes(ctx, a.db)
	default:
		a.log.InfoContext(ctx, "memory store needs no migrations")
		return nil
	}
}

// VerifyCatalog compares the catalog with the prices known to the gateway.
func (a *App) VerifyCatalog(ctx context.Context) ([]billing.Drift, error) {
	if a.PriceLister == nil {
		return nil, ErrNoPriceLister
	}
	return a.Catalog.VerifyCatalog(ctx, a.PriceLister)
}

// Close releases backends in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for _, c := range slices.Backward(a.closers) {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
