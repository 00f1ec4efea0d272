package pgstore

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/photovault/pkg/filter"
	"github.com/dmitrymomot/photovault/pkg/pg"
	"github.com/dmitrymomot/photovault/svc/billing"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrations holds the goose migrations at the FS root.
var Migrations = mustSub(migrations, "migrations")

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}

// DB is the subset of pgxpool.Pool and pgx.Tx the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Column maps keyed by the public filter field names.
var (
	userColumns = filter.Fields{
		"id":                    "id",
		"email":                 "email",
		"gatewayCustomerId":     "gateway_customer_id",
		"gatewaySubscriptionId": "gateway_subscription_id",
		"gatewayPlanId":         "gateway_plan_id",
		"subscriptionExpiresAt": "subscription_expires_at",
		"planExpiresAt":         "plan_expires_at",
		"downgradedAt":          "downgraded_at",
		"createdAt":             "created_at",
	}
	spaceColumns = filter.Fields{
		"id":                    "id",
		"name":                  "name",
		"createdByUserId":       "created_by_user_id",
		"gatewayCustomerId":     "gateway_customer_id",
		"gatewaySubscriptionId": "gateway_subscription_id",
		"gatewayPlanId":         "gateway_plan_id",
		"pausedAt":              "paused_at",
		"deactivatedAt":         "deactivated_at",
		"downgradedAt":          "downgraded_at",
		"createdAt":             "created_at",
	}
	contentColumns = filter.Fields{
		"id":              "id",
		"spaceId":         "space_id",
		"createdByUserId": "created_by_user_id",
		"kind":            "kind",
		"sizeBytes":       "size_bytes",
		"aiGenerated":     "ai_generated",
		"status":          "status",
		"createdAt":       "created_at",
	}
)

const (
	userSelect = `id, email, max_storage_mb, max_spaces, max_users, max_ai_generations_per_month,
		COALESCE(gateway_customer_id, ''), COALESCE(gateway_subscription_id, ''), COALESCE(gateway_plan_id, ''),
		subscription_expires_at, plan_expires_at, paused_at, COALESCE(last_payment_id, ''),
		gateway_synced_at, downgraded_at, version, created_at, updated_at`

	spaceSelect = `id, name, created_by_user_id, total_storage_mb, used_storage_bytes, users_allowed, ai_generations_per_month,
		COALESCE(gateway_customer_id, ''), COALESCE(gateway_subscription_id, ''), COALESCE(gateway_plan_id, ''),
		paused_at, deactivated_at, gateway_synced_at, downgraded_at, version, created_at, updated_at`

	contentSelect = `id, space_id, created_by_user_id, kind, object_key, size_bytes, ai_generated, status, created_at`

	subscriptionSelect = `id, customer_id, plan_id, status, start_date, end_date, auto_renew, owner_kind, owner_id, updated_at`
)

var _ billing.Store = (*Store)(nil)

// Store implements billing.Store on PostgreSQL.
type Store struct {
	db  DB
	now func() time.Time
}

type Option func(*Store)

// WithClock sets the clock used for created_at/updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a store over db, usually a *pgxpool.Pool.
func New(db DB, opts ...Option) *Store {
	if db == nil {
		panic("pgstore: db is required")
	}
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Users

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (billing.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userSelect+` FROM users WHERE id = $1`, id))
	if err != nil {
		return billing.User{}, notFound("get user", err)
	}
	return u, nil
}

func (s *Store) FindUsers(ctx context.Context, q filter.Query) (filter.Page[billing.User], error) {
	return find(ctx, s.db, "users", userSelect, userColumns, q, scanUser)
}

func (s *Store) CountUsers(ctx context.Context, f filter.Filter) (int64, error) {
	return count(ctx, s.db, "users", userColumns, f)
}

func (s *Store) SaveUser(ctx context.Context, u billing.User) (billing.User, error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := s.now().UTC()
	u.Version = 1
	u.CreatedAt, u.UpdatedAt = now, now

	_, err := s.db.Exec(ctx, `
		INSERT INTO users (
			id, email, max_storage_mb, max_spaces, max_users, max_ai_generations_per_month,
			gateway_customer_id, gateway_subscription_id, gateway_plan_id,
			subscription_expires_at, plan_expires_at, paused_at, last_payment_id,
			gateway_synced_at, downgraded_at, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''),
			$10, $11, $12, NULLIF($13, ''),
			$14, $15, $16, $17, $18
		)`,
		u.ID, u.Email, u.MaxStorageMB, u.MaxSpaces, u.MaxUsers, u.MaxAIGenerationsPerMonth,
		u.GatewayCustomerID, u.GatewaySubscriptionID, u.GatewayPlanID,
		u.SubscriptionExpiresAt, u.PlanExpiresAt, u.PausedAt, u.LastPaymentID,
		u.GatewaySyncedAt, u.DowngradedAt, u.Version, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return billing.User{}, insertErr("save user", err)
	}
	return u, nil
}

func (s *Store) SwapUser(ctx context.Context, u billing.User) (billing.User, error) {
	expected := u.Version
	u.Version++
	u.UpdatedAt = s.now().UTC()

	tag, err := s.db.Exec(ctx, `
		UPDATE users SET
			email = $3, max_storage_mb = $4, max_spaces = $5, max_users = $6, max_ai_generations_per_month = $7,
			gateway_customer_id = NULLIF($8, ''), gateway_subscription_id = NULLIF($9, ''), gateway_plan_id = NULLIF($10, ''),
			subscription_expires_at = $11, plan_expires_at = $12, paused_at = $13, last_payment_id = NULLIF($14, ''),
			gateway_synced_at = $15, downgraded_at = $16, version = $17, updated_at = $18
		WHERE id = $1 AND version = $2`,
		u.ID, expected, u.Email, u.MaxStorageMB, u.MaxSpaces, u.MaxUsers, u.MaxAIGenerationsPerMonth,
		u.GatewayCustomerID, u.GatewaySubscriptionID, u.GatewayPlanID,
		u.SubscriptionExpiresAt, u.PlanExpiresAt, u.PausedAt, u.LastPaymentID,
		u.GatewaySyncedAt, u.DowngradedAt, u.Version, u.UpdatedAt,
	)
	if err != nil {
		return billing.User{}, fmt.Errorf("swap user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.User{}, s.swapMiss(ctx, "users", u.ID)
	}
	return u, nil
}

// Spaces

func (s *Store) GetSpace(ctx context.Context, id uuid.UUID) (billing.Space, error) {
	sp, err := scanSpace(s.db.QueryRow(ctx, `SELECT `+spaceSelect+` FROM spaces WHERE id = $1`, id))
	if err != nil {
		return billing.Space{}, notFound("get space", err)
	}
	return sp, nil
}

func (s *Store) FindSpaces(ctx context.Context, q filter.Query) (filter.Page[billing.Space], error) {
	return find(ctx, s.db, "spaces", spaceSelect, spaceColumns, q, scanSpace)
}

func (s *Store) CountSpaces(ctx context.Context, f filter.Filter) (int64, error) {
	return count(ctx, s.db, "spaces", spaceColumns, f)
}

func (s *Store) SaveSpace(ctx context.Context, sp billing.Space) (billing.Space, error) {
	if sp.ID == uuid.Nil {
		sp.ID = uuid.New()
	}
	now := s.now().UTC()
	sp.Version = 1
	sp.CreatedAt, sp.UpdatedAt = now, now

	_, err := s.db.Exec(ctx, `
		INSERT INTO spaces (
			id, name, created_by_user_id, total_storage_mb, used_storage_bytes, users_allowed, ai_generations_per_month,
			gateway_customer_id, gateway_subscription_id, gateway_plan_id,
			paused_at, deactivated_at, gateway_synced_at, downgraded_at, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''),
			$11, $12, $13, $14, $15, $16, $17
		)`,
		sp.ID, sp.Name, sp.OwnerID, sp.TotalStorageMB, sp.UsedStorageBytes, sp.UsersAllowed, sp.AIGenerationsPerMonth,
		sp.GatewayCustomerID, sp.GatewaySubscriptionID, sp.GatewayPlanID,
		sp.PausedAt, sp.DeactivatedAt, sp.GatewaySyncedAt, sp.DowngradedAt, sp.Version, sp.CreatedAt, sp.UpdatedAt,
	)
	if err != nil {
		return billing.Space{}, insertErr("save space", err)
	}
	return sp, nil
}

// SwapSpace writes every column except used_storage_bytes, which only
// CommitStorage and ReleaseStorage change.
func (s *Store) SwapSpace(ctx context.Context, sp billing.Space) (billing.Space, error) {
	expected := sp.Version
	sp.Version++
	sp.UpdatedAt = s.now().UTC()

	saved, err := scanSpace(s.db.QueryRow(ctx, `
		UPDATE spaces SET
			name = $3, created_by_user_id = $4, total_storage_mb = $5, users_allowed = $6, ai_generations_per_month = $7,
			gateway_customer_id = NULLIF($8, ''), gateway_subscription_id = NULLIF($9, ''), gateway_plan_id = NULLIF($10, ''),
			paused_at = $11, deactivated_at = $12, gateway_synced_at = $13, downgraded_at = $14,
			version = $15, updated_at = $16
		WHERE id = $1 AND version = $2
		RETURNING `+spaceSelect,
		sp.ID, expected, sp.Name, sp.OwnerID, sp.TotalStorageMB, sp.UsersAllowed, sp.AIGenerationsPerMonth,
		sp.GatewayCustomerID, sp.GatewaySubscriptionID, sp.GatewayPlanID,
		sp.PausedAt, sp.DeactivatedAt, sp.GatewaySyncedAt, sp.DowngradedAt,
		sp.Version, sp.UpdatedAt,
	))
	if pg.IsNotFoundError(err) {
		return billing.Space{}, s.swapMiss(ctx, "spaces", sp.ID)
	}
	if err != nil {
		return billing.Space{}, fmt.Errorf("swap space: %w", err)
	}
	return saved, nil
}

// CommitStorage increments used_storage_bytes in one conditional UPDATE.
func (s *Store) CommitStorage(ctx context.Context, id uuid.UUID, bytes int64) (billing.Space, error) {
	sp, err := scanSpace(s.db.QueryRow(ctx, `
		UPDATE spaces SET
			used_storage_bytes = used_storage_bytes + $2,
			version = version + 1,
			updated_at = $3
		WHERE id = $1
		  AND (total_storage_mb = $4 OR used_storage_bytes + $2 < total_storage_mb * $5)
		RETURNING `+spaceSelect,
		id, bytes, s.now().UTC(), billing.Unlimited, billing.BytesPerMB,
	))
	if pg.IsNotFoundError(err) {
		cur, gerr := s.GetSpace(ctx, id)
		if gerr != nil {
			return billing.Space{}, gerr
		}
		return cur, billing.ErrInsufficientCapacity
	}
	if err != nil {
		return billing.Space{}, fmt.Errorf("commit storage: %w", err)
	}
	return sp, nil
}

// ReleaseStorage decrements used_storage_bytes, flooring at zero.
func (s *Store) ReleaseStorage(ctx context.Context, id uuid.UUID, bytes int64) (billing.Space, error) {
	sp, err := scanSpace(s.db.QueryRow(ctx, `
		UPDATE spaces SET
			used_storage_bytes = GREATEST(used_storage_bytes - $2, 0),
			version = version + 1,
			updated_at = $3
		WHERE id = $1
		RETURNING `+spaceSelect,
		id, bytes, s.now().UTC(),
	))
	if err != nil {
		return billing.Space{}, notFound("release storage", err)
	}
	return sp, nil
}

// Content

func (s *Store) SaveContent(ctx context.Context, c billing.ContentItem) (billing.ContentItem, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now().UTC()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO content_items (`+contentSelect+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.SpaceID, c.CreatedByUserID, string(c.Kind), c.ObjectKey, c.SizeBytes, c.AIGenerated, string(c.Status), c.CreatedAt,
	)
	if err != nil {
		return billing.ContentItem{}, insertErr("save content", err)
	}
	return c, nil
}

func (s *Store) FindContent(ctx context.Context, q filter.Query) (filter.Page[billing.ContentItem], error) {
	return find(ctx, s.db, "content_items", contentSelect, contentColumns, q, scanContent)
}

func (s *Store) CountContent(ctx context.Context, f filter.Filter) (int64, error) {
	return count(ctx, s.db, "content_items", contentColumns, f)
}

// Subscriptions

func (s *Store) GetSubscription(ctx context.Context, id string) (billing.Subscription, error) {
	var (
		sub          billing.Subscription
		status, kind string
	)
	err := s.db.QueryRow(ctx, `SELECT `+subscriptionSelect+` FROM subscriptions WHERE id = $1`, id).Scan(
		&sub.ID, &sub.CustomerID, &sub.PlanID, &status, &sub.StartDate, &sub.EndDate,
		&sub.AutoRenew, &kind, &sub.OwnerID, &sub.UpdatedAt,
	)
	if err != nil {
		return billing.Subscription{}, notFound("get subscription", err)
	}
	sub.Status = billing.SubscriptionStatus(status)
	sub.OwnerKind = billing.OwnerKind(kind)
	sub.StartDate, sub.EndDate, sub.UpdatedAt = sub.StartDate.UTC(), sub.EndDate.UTC(), sub.UpdatedAt.UTC()
	return sub, nil
}

func (s *Store) SaveSubscription(ctx context.Context, sub billing.Subscription) error {
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = s.now().UTC()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionSelect+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			customer_id = EXCLUDED.customer_id,
			plan_id = EXCLUDED.plan_id,
			status = EXCLUDED.status,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			auto_renew = EXCLUDED.auto_renew,
			owner_kind = EXCLUDED.owner_kind,
			owner_id = EXCLUDED.owner_id,
			updated_at = EXCLUDED.updated_at`,
		sub.ID, sub.CustomerID, sub.PlanID, string(sub.Status), sub.StartDate, sub.EndDate,
		sub.AutoRenew, string(sub.OwnerKind), sub.OwnerID, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	return nil
}

// swapMiss tells a missing row from a version mismatch.
func (s *Store) swapMiss(ctx context.Context, table string, id uuid.UUID) error {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("swap %s: %w", table, err)
	}
	if !exists {
		return billing.ErrNotFound
	}
	return billing.ErrConcurrentUpdate
}

func find[T any](ctx context.Context, db DB, table, columns string, fields filter.Fields, q filter.Query, scan func(pgx.Row) (T, error)) (filter.Page[T], error) {
	q = q.Normalize()
	where, args, err := filter.ToSQL(q.Filter, fields, 0)
	if err != nil {
		return filter.Page[T]{}, err
	}
	order, err := filter.OrderBy(q.Sort, fields)
	if err != nil {
		return filter.Page[T]{}, err
	}

	var total int64
	if err := db.QueryRow(ctx, `SELECT count(*) FROM `+table+` WHERE `+where, args...).Scan(&total); err != nil {
		return filter.Page[T]{}, fmt.Errorf("count %s: %w", table, err)
	}

	rows, err := db.Query(ctx, `SELECT `+columns+` FROM `+table+` WHERE `+where+` `+order+` `+filter.LimitOffset(q), args...)
	if err != nil {
		return filter.Page[T]{}, fmt.Errorf("find %s: %w", table, err)
	}
	items, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (T, error) { return scan(r) })
	if err != nil {
		return filter.Page[T]{}, fmt.Errorf("scan %s: %w", table, err)
	}
	return filter.NewPage(items, q, total), nil
}

func count(ctx context.Context, db DB, table string, fields filter.Fields, f filter.Filter) (int64, error) {
	where, args, err := filter.ToSQL(f, fields, 0)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.QueryRow(ctx, `SELECT count(*) FROM `+table+` WHERE `+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func scanUser(row pgx.Row) (billing.User, error) {
	var u billing.User
	err := row.Scan(
		&u.ID, &u.Email, &u.MaxStorageMB, &u.MaxSpaces, &u.MaxUsers, &u.MaxAIGenerationsPerMonth,
		&u.GatewayCustomerID, &u.GatewaySubscriptionID, &u.GatewayPlanID,
		&u.SubscriptionExpiresAt, &u.PlanExpiresAt, &u.PausedAt, &u.LastPaymentID,
		&u.GatewaySyncedAt, &u.DowngradedAt, &u.Version, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return billing.User{}, err
	}
	u.SubscriptionExpiresAt = utc(u.SubscriptionExpiresAt)
	u.PlanExpiresAt = utc(u.PlanExpiresAt)
	u.PausedAt = utc(u.PausedAt)
	u.GatewaySyncedAt = utc(u.GatewaySyncedAt)
	u.DowngradedAt = utc(u.DowngradedAt)
	u.CreatedAt, u.UpdatedAt = u.CreatedAt.UTC(), u.UpdatedAt.UTC()
	return u, nil
}

func scanSpace(row pgx.Row) (billing.Space, error) {
	var sp billing.Space
	err := row.Scan(
		&sp.ID, &sp.Name, &sp.OwnerID, &sp.TotalStorageMB, &sp.UsedStorageBytes, &sp.UsersAllowed, &sp.AIGenerationsPerMonth,
		&sp.GatewayCustomerID, &sp.GatewaySubscriptionID, &sp.GatewayPlanID,
		&sp.PausedAt, &sp.DeactivatedAt, &sp.GatewaySyncedAt, &sp.DowngradedAt, &sp.Version, &sp.CreatedAt, &sp.UpdatedAt,
	)
	if err != nil {
		return billing.Space{}, err
	}
	sp.PausedAt = utc(sp.PausedAt)
	sp.DeactivatedAt = utc(sp.DeactivatedAt)
	sp.GatewaySyncedAt = utc(sp.GatewaySyncedAt)
	sp.DowngradedAt = utc(sp.DowngradedAt)
	sp.CreatedAt, sp.UpdatedAt = sp.CreatedAt.UTC(), sp.UpdatedAt.UTC()
	return sp, nil
}

func scanContent(row pgx.Row) (billing.ContentItem, error) {
	var (
		c            billing.ContentItem
		kind, status string
	)
	err := row.Scan(&c.ID, &c.SpaceID, &c.CreatedByUserID, &kind, &c.ObjectKey, &c.SizeBytes, &c.AIGenerated, &status, &c.CreatedAt)
	if err != nil {
		return billing.ContentItem{}, err
	}
	c.Kind = billing.ContentKind(kind)
	c.Status = billing.ContentStatus(status)
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func notFound(op string, err error) error {
	if pg.IsNotFoundError(err) {
		return billing.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func insertErr(op string, err error) error {
	if pg.IsDuplicateKeyError(err) {
		return errors.Join(billing.ErrAlreadyExists, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
