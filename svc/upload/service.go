package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dmitrymomot/photovault/pkg/file"
	"github.com/dmitrymomot/photovault/pkg/logger"
	"github.com/dmitrymomot/photovault/svc/billing"
)

// Quota is the part of billing.Quota the upload flow needs.
type Quota interface {
	HasCapacity(ctx context.Context, subjectID uuid.UUID, amount int64, dim billing.Dimension) (bool, error)
	Commit(ctx context.Context, spaceID uuid.UUID, bytes int64) (billing.Space, error)
	Release(ctx context.Context, spaceID uuid.UUID, bytes int64) (billing.Space, error)
}

// Request describes one upload. Body must yield exactly Size bytes.
type Request struct {
	SpaceID     uuid.UUID `validate:"required"`
	UserID      uuid.UUID `validate:"required"`
	Filename    string    `validate:"required,max=255"`
	ContentType string
	Size        int64 `validate:"gt=0"`
	Body        io.Reader
	AIGenerated bool
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Service runs uploads against a space's quota.
type Service struct {
	quota   Quota
	content billing.ContentStore
	files   file.Storage
	maxSize int64
	log     *slog.Logger
	now     func() time.Time
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithMaxSize caps a single upload in bytes. Zero means no cap.
func WithMaxSize(n int64) Option {
	return func(s *Service) { s.maxSize = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates an upload service.
func NewService(quota Quota, content billing.ContentStore, files file.Storage, opts ...Option) *Service {
	if quota == nil {
		panic("upload: Quota is required")
	}
	if content == nil {
		panic("upload: ContentStore is required")
	}
	if files == nil {
		panic("upload: file.Storage is required")
	}
	s := &Service{quota: quota, content: content, files: files, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.OrNop(s.log).With(logger.Component("upload"))
	return s
}

// Upload stores req.Body in the space and records it as a content item.
// On any failure after the commit the bytes are released again.
func (s *Service) Upload(ctx context.Context, req Request) (billing.ContentItem, error) {
	kind, contentType, body, err := s.check(req)
	if err != nil {
		return billing.ContentItem{}, err
	}

	log := s.log.With(logger.SpaceID(req.SpaceID), logger.UserID(req.UserID))

	if req.AIGenerated {
		ok, err := s.quota.HasCapacity(ctx, req.SpaceID, 1, billing.DimensionAIGenerations)
		if err != nil {
			return billing.ContentItem{}, err
		}
		if !ok {
			return billing.ContentItem{}, ErrAIGenerationsQuota
		}
	}

	ok, err := s.quota.HasCapacity(ctx, req.SpaceID, req.Size, billing.DimensionStorage)
	if err != nil {
		return billing.ContentItem{}, err
	}
	if !ok {
		return billing.ContentItem{}, ErrStorageQuota
	}

	// The pre-check can race with other uploads; Commit is the real gate.
	if _, err := s.quota.Commit(ctx, req.SpaceID, req.Size); err != nil {
		if errors.Is(err, billing.ErrInsufficientCapacity) {
			return billing.ContentItem{}, ErrStorageQuota
		}
		return billing.ContentItem{}, err
	}

	id := uuid.New()
	key := objectKey(req.SpaceID, id, contentType)
	if _, err := s.files.Put(ctx, key, body, req.Size, contentType); err != nil {
		s.release(ctx, log, req.SpaceID, req.Size)
		return billing.ContentItem{}, fmt.Errorf("store object: %w", err)
	}

	item, err := s.content.SaveContent(ctx, billing.ContentItem{
		ID:              id,
		SpaceID:         req.SpaceID,
		CreatedByUserID: req.UserID,
		Kind:            kind,
		ObjectKey:       key,
		SizeBytes:       req.Size,
		AIGenerated:     req.AIGenerated,
		Status:          billing.ContentSucceeded,
		CreatedAt:       s.now().UTC(),
	})
	if err != nil {
		cleanup := context.WithoutCancel(ctx)
		if derr := s.files.Delete(cleanup, key); derr != nil {
			log.ErrorContext(ctx, "orphaned object", slog.String("key", key), logger.Error(derr))
		}
		s.release(ctx, log, req.SpaceID, req.Size)
		return billing.ContentItem{}, fmt.Errorf("record content: %w", err)
	}

	log.InfoContext(ctx, "content uploaded",
		slog.String("key", key),
		slog.Int64("bytes", req.Size),
		slog.String("kind", string(kind)),
	)
	return item, nil
}

// URL returns the public URL of a stored item.
func (s *Service) URL(item billing.ContentItem) string {
	return s.files.URL(item.ObjectKey)
}

func (s *Service) check(req Request) (billing.ContentKind, string, io.Reader, error) {
	if err := validate.Struct(req); err != nil {
		return "", "", nil, errors.Join(ErrInvalidRequest, err)
	}
	if req.Body == nil {
		return "", "", nil, fmt.Errorf("%w: empty body", ErrInvalidRequest)
	}
	if s.maxSize > 0 && req.Size > s.maxSize {
		return "", "", nil, fmt.Errorf("%w: %d bytes exceeds the %d byte limit", ErrInvalidRequest, req.Size, s.maxSize)
	}

	contentType, body := req.ContentType, req.Body
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mime.TypeByExtension(strings.ToLower(path.Ext(req.Filename)))
	}
	if !file.IsImage(contentType) && !file.IsVideo(contentType) {
		var err error
		contentType, body, err = file.DetectContentType(req.Body)
		if err != nil {
			return "", "", nil, errors.Join(ErrInvalidRequest, err)
		}
	}

	switch {
	case file.IsImage(contentType):
		return billing.ContentPhoto, contentType, body, nil
	case file.IsVideo(contentType):
		return billing.ContentVideo, contentType, body, nil
	}
	return "", "", nil, fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
}

func (s *Service) release(ctx context.Context, log *slog.Logger, spaceID uuid.UUID, bytes int64) {
	if _, err := s.quota.Release(context.WithoutCancel(ctx), spaceID, bytes); err != nil {
		log.ErrorContext(ctx, "release storage", slog.Int64("bytes", bytes), logger.Error(err))
	}
}

func objectKey(spaceID, id uuid.UUID, contentType string) string {
	return path.Join("spaces", spaceID.String(), id.String()+file.ExtensionFor(contentType))
}
