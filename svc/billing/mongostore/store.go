package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/photovault/pkg/filter"
	mongox "github.com/dmitrymomot/photovault/pkg/mongo"
	"github.com/dmitrymomot/photovault/svc/billing"
)

const (
	colUsers         = "users"
	colSpaces        = "spaces"
	colContent       = "content_items"
	colSubscriptions = "subscriptions"
)

var _ billing.Store = (*Store)(nil)

// Store implements billing.Store on MongoDB.
type Store struct {
	users   *mongo.Collection
	spaces  *mongo.Collection
	content *mongo.Collection
	subs    *mongo.Collection
	now     func() time.Time
}

type Option func(*Store)

// WithClock sets the clock used for createdAt/updatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a store over db.
func New(db *mongo.Database, opts ...Option) *Store {
	if db == nil {
		panic("mongostore: database is required")
	}
	s := &Store{
		users:   db.Collection(colUsers),
		spaces:  db.Collection(colSpaces),
		content: db.Collection(colContent),
		subs:    db.Collection(colSubscriptions),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Indexes returns the indexes the store relies on.
func Indexes() []mongox.Index {
	return []mongox.Index{
		{Collection: colUsers, Keys: bson.D{{Key: "email", Value: 1}}, Unique: true},
		{Collection: colUsers, Keys: bson.D{{Key: "gatewayCustomerId", Value: 1}}, Sparse: true},
		{Collection: colUsers, Keys: bson.D{{Key: "gatewaySubscriptionId", Value: 1}}, Sparse: true},
		{Collection: colUsers, Keys: bson.D{{Key: "subscriptionExpiresAt", Value: 1}}, Sparse: true},
		{Collection: colUsers, Keys: bson.D{{Key: "planExpiresAt", Value: 1}}, Sparse: true},
		{Collection: colSpaces, Keys: bson.D{{Key: "createdByUserId", Value: 1}}},
		{Collection: colSpaces, Keys: bson.D{{Key: "gatewaySubscriptionId", Value: 1}}, Sparse: true},
		{Collection: colSpaces, Keys: bson.D{{Key: "deactivatedAt", Value: 1}}, Sparse: true},
		{Collection: colContent, Keys: bson.D{{Key: "spaceId", Value: 1}, {Key: "createdAt", Value: 1}}},
		{Collection: colSubscriptions, Keys: bson.D{{Key: "customerId", Value: 1}}},
	}
}

// EnsureIndexes creates the store's indexes on db.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	return mongox.EnsureIndexes(ctx, db, Indexes()...)
}

// Users

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (billing.User, error) {
	var m userModel
	if err := s.users.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&m); err != nil {
		return billing.User{}, notFound("get user", err)
	}
	return m.toUser()
}

func (s *Store) FindUsers(ctx context.Context, q filter.Query) (filter.Page[billing.User], error) {
	return find(ctx, s.users, q, billing.UserFields, userModel.toUser)
}

func (s *Store) CountUsers(ctx context.Context, f filter.Filter) (int64, error) {
	return count(ctx, s.users, f, billing.UserFields)
}

func (s *Store) SaveUser(ctx context.Context, u billing.User) (billing.User, error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := s.now().UTC()
	u.Version = 1
	u.CreatedAt, u.UpdatedAt = now, now
	if _, err := s.users.InsertOne(ctx, toUserModel(u)); err != nil {
		return billing.User{}, insertErr("save user", err)
	}
	return u, nil
}

func (s *Store) SwapUser(ctx context.Context, u billing.User) (billing.User, error) {
	expected := u.Version
	u.Version++
	u.UpdatedAt = s.now().UTC()
	if err := s.swap(ctx, s.users, u.ID, expected, toUserModel(u)); err != nil {
		return billing.User{}, err
	}
	return u, nil
}

// Spaces

func (s *Store) GetSpace(ctx context.Context, id uuid.UUID) (billing.Space, error) {
	var m spaceModel
	if err := s.spaces.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&m); err != nil {
		return billing.Space{}, notFound("get space", err)
	}
	return m.toSpace()
}

func (s *Store) FindSpaces(ctx context.Context, q filter.Query) (filter.Page[billing.Space], error) {
	return find(ctx, s.spaces, q, billing.SpaceFields, spaceModel.toSpace)
}

func (s *Store) CountSpaces(ctx context.Context, f filter.Filter) (int64, error) {
	return count(ctx, s.spaces, f, billing.SpaceFields)
}

func (s *Store) SaveSpace(ctx context.Context, sp billing.Space) (billing.Space, error) {
	if sp.ID == uuid.Nil {
		sp.ID = uuid.New()
	}
	now := s.now().UTC()
	sp.Version = 1
	sp.CreatedAt, sp.UpdatedAt = now, now
	if _, err := s.spaces.InsertOne(ctx, toSpaceModel(sp)); err != nil {
		return billing.Space{}, insertErr("save space", err)
	}
	return sp, nil
}

func (s *Store) SwapSpace(ctx context.Context, sp billing.Space) (billing.Space, error) {
	expected := sp.Version
	sp.Version++
	sp.UpdatedAt = s.now().UTC()
	if err := s.swap(ctx, s.spaces, sp.ID, expected, toSpaceModel(sp)); err != nil {
		return billing.Space{}, err
	}
	return sp, nil
}

// CommitStorage increments usedStorageBytes in one conditional update that
// matches only while used+bytes stays below the ceiling.
func (s *Store) CommitStorage(ctx context.Context, id uuid.UUID, bytes int64) (billing.Space, error) {
	cond := bson.M{
		"_id": id.String(),
		"$or": bson.A{
			bson.M{"totalStorageMb": billing.Unlimited},
			bson.M{"$expr": bson.M{"$lt": bson.A{
				bson.M{"$add": bson.A{"$usedStorageBytes", bytes}},
				bson.M{"$multiply": bson.A{"$totalStorageMb", billing.BytesPerMB}},
			}}},
		},
	}
	update := bson.M{
		"$inc": bson.M{"usedStorageBytes": bytes, "version": 1},
		"$set": bson.M{"updatedAt": s.now().UTC()},
	}

	var m spaceModel
	err := s.spaces.FindOneAndUpdate(ctx, cond, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if mongox.IsNotFound(err) {
		cur, gerr := s.GetSpace(ctx, id)
		if gerr != nil {
			return billing.Space{}, gerr
		}
		return cur, billing.ErrInsufficientCapacity
	}
	if err != nil {
		return billing.Space{}, fmt.Errorf("commit storage: %w", err)
	}
	return m.toSpace()
}

// ReleaseStorage decrements usedStorageBytes, flooring at zero.
func (s *Store) ReleaseStorage(ctx context.Context, id uuid.UUID, bytes int64) (billing.Space, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"usedStorageBytes": bson.M{"$max": bson.A{0, bson.M{"$subtract": bson.A{"$usedStorageBytes", bytes}}}},
			"version":          bson.M{"$add": bson.A{"$version", 1}},
			"updatedAt":        s.now().UTC(),
		}}},
	}

	var m spaceModel
	err := s.spaces.FindOneAndUpdate(ctx, bson.M{"_id": id.String()}, pipeline,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err != nil {
		return billing.Space{}, notFound("release storage", err)
	}
	return m.toSpace()
}

// Content

func (s *Store) SaveContent(ctx context.Context, c billing.ContentItem) (billing.ContentItem, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now().UTC()
	}
	if _, err := s.content.InsertOne(ctx, toContentModel(c)); err != nil {
		return billing.ContentItem{}, insertErr("save content", err)
	}
	return c, nil
}

func (s *Store) FindContent(ctx context.Context, q filter.Query) (filter.Page[billing.ContentItem], error) {
	return find(ctx, s.content, q, billing.ContentFields, contentModel.toContent)
}

func (s *Store) CountContent(ctx context.Context, f filter.Filter) (int64, error) {
	return count(ctx, s.content, f, billing.ContentFields)
}

// Subscriptions

func (s *Store) GetSubscription(ctx context.Context, id string) (billing.Subscription, error) {
	var m subscriptionModel
	if err := s.subs.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		return billing.Subscription{}, notFound("get subscription", err)
	}
	return m.toSubscription()
}

func (s *Store) SaveSubscription(ctx context.Context, sub billing.Subscription) error {
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = s.now().UTC()
	}
	_, err := s.subs.ReplaceOne(ctx, bson.M{"_id": sub.ID}, toSubscriptionModel(sub), options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	return nil
}

// swap replaces the document only while its version equals expected.
func (s *Store) swap(ctx context.Context, coll *mongo.Collection, id uuid.UUID, expected int64, doc any) error {
	res, err := coll.ReplaceOne(ctx, bson.M{"_id": id.String(), "version": expected}, doc)
	if err != nil {
		return fmt.Errorf("swap %s: %w", coll.Name(), err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	n, err := coll.CountDocuments(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return fmt.Errorf("swap %s: %w", coll.Name(), err)
	}
	if n == 0 {
		return billing.ErrNotFound
	}
	return billing.ErrConcurrentUpdate
}

func find[M, T any](ctx context.Context, coll *mongo.Collection, q filter.Query, fields filter.Fields, conv func(M) (T, error)) (filter.Page[T], error) {
	q = q.Normalize()
	cond, err := filter.ToBSON(q.Filter, fields)
	if err != nil {
		return filter.Page[T]{}, err
	}
	opts, err := filter.FindOptions(q, fields)
	if err != nil {
		return filter.Page[T]{}, err
	}

	total, err := coll.CountDocuments(ctx, cond)
	if err != nil {
		return filter.Page[T]{}, fmt.Errorf("count %s: %w", coll.Name(), err)
	}
	cur, err := coll.Find(ctx, cond, opts)
	if err != nil {
		return filter.Page[T]{}, fmt.Errorf("find %s: %w", coll.Name(), err)
	}
	var models []M
	if err := cur.All(ctx, &models); err != nil {
		return filter.Page[T]{}, fmt.Errorf("decode %s: %w", coll.Name(), err)
	}

	items := make([]T, 0, len(models))
	for _, m := range models {
		item, err := conv(m)
		if err != nil {
			return filter.Page[T]{}, fmt.Errorf("decode %s: %w", coll.Name(), err)
		}
		items = append(items, item)
	}
	return filter.NewPage(items, q, total), nil
}

func count(ctx context.Context, coll *mongo.Collection, f filter.Filter, fields filter.Fields) (int64, error) {
	cond, err := filter.ToBSON(f, fields)
	if err != nil {
		return 0, err
	}
	n, err := coll.CountDocuments(ctx, cond)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", coll.Name(), err)
	}
	return n, nil
}

func notFound(op string, err error) error {
	if mongox.IsNotFound(err) {
		return billing.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func insertErr(op string, err error) error {
	if mongox.IsDuplicateKey(err) {
		return errors.Join(billing.ErrAlreadyExists, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
