package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/dmitrymomot/photovault/pkg/filter"
	"github.com/dmitrymomot/photovault/pkg/logger"
)

// SweepResult counts what one sweep did.
type SweepResult struct {
	UsersReverted  int `json:"users_reverted"`
	SpacesReverted int `json:"spaces_reverted"`
	Unchanged      int `json:"unchanged"`
	Failed         int `json:"failed"`
}

// Sweeper reverts entitlements whose subscription or one-off grant has lapsed.
type Sweeper struct {
	store    Store
	sync     *Synchronizer
	pageSize int
	metrics  *Metrics
	log      *slog.Logger
	now      func() time.Time
}

type SweeperOption func(*Sweeper)

func WithSweepPageSize(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

func WithSweepMetrics(m *Metrics) SweeperOption {
	return func(s *Sweeper) { s.metrics = m }
}

func WithSweepLogger(l *slog.Logger) SweeperOption {
	return func(s *Sweeper) { s.log = l }
}

func WithSweepClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSweeper creates a sweeper reverting through sync.
func NewSweeper(store Store, sync *Synchronizer, opts ...SweeperOption) *Sweeper {
	if store == nil || sync == nil {
		panic("billing: Store and Synchronizer are required")
	}
	s := &Sweeper{store: store, sync: sync, pageSize: filter.MaxPageSize, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.OrNop(s.log).With(logger.Component("billing.sweep"))
	return s
}

// Sweep reverts every user and space whose entitlement lapsed before now.
// Candidates are collected before any write so reverted entities dropping
// out of the filter do not shift later pages. Per-entity failures are
// counted and joined into the returned error; the sweep continues past them.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	now := s.now().UTC()
	start := time.Now()
	var res SweepResult

	userIDs := make(map[uuid.UUID]struct{})
	for _, field := range []string{"subscriptionExpiresAt", "planExpiresAt"} {
		err := s.collectUsers(ctx, filter.Filter{}.Less(field, now), userIDs)
		if err != nil {
			return res, err
		}
	}
	spaceIDs := make(map[uuid.UUID]struct{})
	pending := filter.Filter{}.Less("deactivatedAt", now).Missing("downgradedAt")
	if err := s.collectSpaces(ctx, pending, spaceIDs); err != nil {
		return res, err
	}

	var errs []error
	revert := func(owner Owner) {
		changed, err := s.sync.Revert(ctx, owner, now)
		switch {
		case err != nil:
			res.Failed++
			errs = append(errs, err)
			s.log.ErrorContext(ctx, "revert failed", slog.String("owner", owner.String()), logger.Error(err))
		case !changed:
			res.Unchanged++
		case owner.Kind == OwnerUser:
			res.UsersReverted++
			s.metrics.reverted(owner.Kind)
		default:
			res.SpacesReverted++
			s.metrics.reverted(owner.Kind)
		}
	}

	for id := range userIDs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		revert(Owner{Kind: OwnerUser, ID: id})
	}
	for id := range spaceIDs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		revert(Owner{Kind: OwnerSpace, ID: id})
	}

	s.log.InfoContext(ctx, "sweep finished",
		slog.Int("users_reverted", res.UsersReverted),
		slog.Int("spaces_reverted", res.SpacesReverted),
		slog.Int("unchanged", res.Unchanged),
		slog.Int("failed", res.Failed),
		logger.Duration(time.Since(start)),
	)
	return res, errors.Join(errs...)
}

func (s *Sweeper) collectUsers(ctx context.Context, f filter.Filter, into map[uuid.UUID]struct{}) error {
	q := filter.Query{Filter: f, Sort: filter.Sort{Field: "id"}, Page: 1, PageSize: s.pageSize}
	for {
		page, err := s.store.FindUsers(ctx, q)
		if err != nil {
			return err
		}
		for _, u := range page.Items {
			into[u.ID] = struct{}{}
		}
		if !page.HasNext() {
			return nil
		}
		q.Page++
	}
}

func (s *Sweeper) collectSpaces(ctx context.Context, f filter.Filter, into map[uuid.UUID]struct{}) error {
	q := filter.Query{Filter: f, Sort: filter.Sort{Field: "id"}, Page: 1, PageSize: s.pageSize}
	for {
		page, err := s.store.FindSpaces(ctx, q)
		if err != nil {
			return err
		}
		for _, sp := range page.Items {
			into[sp.ID] = struct{}{}
		}
		if !page.HasNext() {
			return nil
		}
		q.Page++
	}
}

// Schedule runs Sweep on the cron schedule until ctx is done. Overlapping
// runs are skipped.
func (s *Sweeper) Schedule(ctx context.Context, schedule string) error {
	cl := cronLogger{s.log}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.log.ErrorContext(ctx, "scheduled sweep failed", logger.Error(err))
		}
	}); err != nil {
		return err
	}

	s.log.InfoContext(ctx, "sweep scheduled", slog.String("schedule", schedule))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ log *slog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(keysAndValues, logger.Error(err))...)
}
