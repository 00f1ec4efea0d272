package upload

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/photovault/pkg/logger"
	"github.com/dmitrymomot/photovault/svc/billing"
)

// Header names read by the upload endpoint. Authentication happens upstream;
// the gateway in front of this service sets UserHeader.
const (
	UserHeader     = "X-User-ID"
	FilenameHeader = "X-Filename"
)

// MountRoutes registers PUT /spaces/{spaceID}/content on r. The request body
// is the raw blob and Content-Length is required.
func MountRoutes(r chi.Router, svc *Service, log *slog.Logger) {
	r.Put("/spaces/{spaceID}/content", Handler(svc, log))
}

type response struct {
	ID          uuid.UUID `json:"id"`
	Kind        string    `json:"kind"`
	SizeBytes   int64     `json:"size_bytes"`
	URL         string    `json:"url"`
	AIGenerated bool      `json:"ai_generated"`
}

// Handler serves a single upload.
func Handler(svc *Service, log *slog.Logger) http.HandlerFunc {
	log = logger.OrNop(log).With(logger.Component("upload.http"))

	return func(w http.ResponseWriter, r *http.Request) {
		spaceID, err := uuid.Parse(chi.URLParam(r, "spaceID"))
		if err != nil {
			http.Error(w, "invalid space id", http.StatusBadRequest)
			return
		}
		userID, err := uuid.Parse(r.Header.Get(UserHeader))
		if err != nil {
			http.Error(w, "missing user", http.StatusUnauthorized)
			return
		}
		if r.ContentLength <= 0 {
			http.Error(w, http.StatusText(http.StatusLengthRequired), http.StatusLengthRequired)
			return
		}
		ai, _ := strconv.ParseBool(r.URL.Query().Get("ai"))

		item, err := svc.Upload(r.Context(), Request{
			SpaceID:     spaceID,
			UserID:      userID,
			Filename:    r.Header.Get(FilenameHeader),
			ContentType: r.Header.Get("Content-Type"),
			Size:        r.ContentLength,
			Body:        r.Body,
			AIGenerated: ai,
		})
		if err != nil {
			status := errorStatus(err)
			if status >= http.StatusInternalServerError {
				log.ErrorContext(r.Context(), "upload failed", logger.SpaceID(spaceID), logger.Error(err))
			}
			http.Error(w, err.Error(), status)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(response{
			ID:          item.ID,
			Kind:        string(item.Kind),
			SizeBytes:   item.SizeBytes,
			URL:         svc.URL(item),
			AIGenerated: item.AIGenerated,
		})
	}
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrAIGenerationsQuota):
		return http.StatusTooManyRequests
	case errors.Is(err, billing.ErrInsufficientCapacity):
		return http.StatusInsufficientStorage
	case errors.Is(err, billing.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
