package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/photovault/pkg/logger"
)

// MaxWebhookBody is the largest accepted webhook payload.
const MaxWebhookBody = 1 << 20

// signatureHeaders maps providers to the header carrying the signature.
var signatureHeaders = map[string]string{
	ProviderStripe: "Stripe-Signature",
	ProviderPaddle: "Paddle-Signature",
}

// WebhookProcessor handles a verified gateway payload.
type WebhookProcessor interface {
	HandleProviderWebhook(ctx context.Context, provider string, payload []byte, signature string) error
}

// MountWebhooks registers POST /webhooks/{provider} on r.
func MountWebhooks(r chi.Router, p WebhookProcessor, log *slog.Logger) {
	r.Post("/webhooks/{provider}", WebhookHandler(p, log))
}

// WebhookHandler reads the raw body, passes it with the provider signature
// to p and maps the outcome to a status code the gateway understands: 2xx
// stops redelivery, 4xx marks the payload as rejected, 5xx asks for a retry.
func WebhookHandler(p WebhookProcessor, log *slog.Logger) http.HandlerFunc {
	log = logger.OrNop(log).With(logger.Component("billing.webhook"))

	return func(w http.ResponseWriter, r *http.Request) {
		provider := chi.URLParam(r, "provider")
		header, ok := signatureHeaders[provider]
		if !ok {
			http.Error(w, "unknown provider", http.StatusNotFound)
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "unreadable payload", http.StatusBadRequest)
			return
		}

		err = p.HandleProviderWebhook(r.Context(), provider, payload, r.Header.Get(header))
		status := webhookStatus(err)
		if status >= http.StatusInternalServerError {
			log.ErrorContext(r.Context(), "webhook failed", slog.String("provider", provider), slog.Int("status", status), logger.Error(err))
		}
		if err != nil {
			http.Error(w, http.StatusText(status), status)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func webhookStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidSignature), errors.Is(err, ErrMalformed):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrGateway), errors.Is(err, ErrGatewayUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
