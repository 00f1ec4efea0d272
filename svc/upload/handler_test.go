package upload_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/photovault/svc/billing"
	"github.com/dmitrymomot/photovault/svc/upload"
)

func TestHandler(t *testing.T) {
	t.Parallel()

	e := newEnv(t, billing.Space{TotalStorageMB: 1, AIGenerationsPerMonth: 0})
	r := chi.NewRouter()
	upload.MountRoutes(r, e.svc, nil)

	do := func(spaceID, user, name, query string, body []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPut, "/spaces/"+spaceID+"/content"+query, bytes.NewReader(body))
		if user != "" {
			req.Header.Set(upload.UserHeader, user)
		}
		req.Header.Set(upload.FilenameHeader, name)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}
	user := uuid.NewString()
	space := e.space.ID.String()

	t.Run("created", func(t *testing.T) {
		rec := do(space, user, "a.jpg", "", bytes.Repeat([]byte{1}, 64))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var out struct {
			ID        uuid.UUID `json:"id"`
			Kind      string    `json:"kind"`
			SizeBytes int64     `json:"size_bytes"`
			URL       string    `json:"url"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		assert.Equal(t, "photo", out.Kind)
		assert.Equal(t, int64(64), out.SizeBytes)
		assert.Contains(t, out.URL, "https://media.test/spaces/"+space+"/")
	})

	tests := []struct {
		name   string
		space  string
		user   string
		file   string
		query  string
		body   []byte
		status int
	}{
		{"bad space id", "nope", user, "a.jpg", "", []byte{1}, http.StatusBadRequest},
		{"missing user", space, "", "a.jpg", "", []byte{1}, http.StatusUnauthorized},
		{"empty body", space, user, "a.jpg", "", nil, http.StatusLengthRequired},
		{"unknown space", uuid.NewString(), user, "a.jpg", "", []byte{1}, http.StatusNotFound},
		{"unsupported", space, user, "a.txt", "", []byte("plain words"), http.StatusUnsupportedMediaType},
		{"missing filename", space, user, "", "", []byte{1}, http.StatusBadRequest},
		{"storage full", space, user, "a.jpg", "", bytes.Repeat([]byte{1}, int(billing.BytesPerMB)), http.StatusInsufficientStorage},
		{"ai allowance", space, user, "a.jpg", "?ai=true", []byte{1}, http.StatusTooManyRequests},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(tt.space, tt.user, tt.file, tt.query, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}
