package billing

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/photovault/pkg/logger"
)

const maxAPIBody = 64 << 10

// MountAPI registers the outbound billing endpoints under /billing on r.
// Callers are trusted; authentication happens upstream.
func MountAPI(r chi.Router, c *Coordinator, log *slog.Logger) {
	h := &apiHandler{c: c, log: logger.OrNop(log).With(logger.Component("billing.api"))}
	r.Route("/billing", func(r chi.Router) {
		r.Post("/checkout", h.checkout)
		r.Post("/portal", h.portal)
		r.Get("/subscriptions/{id}/refund-quote", h.refundQuote)
		r.Post("/subscriptions/{id}/cancel", h.cancel)
	})
}

type apiHandler struct {
	c   *Coordinator
	log *slog.Logger
}

type checkoutBody struct {
	UserID     uuid.UUID `json:"user_id"`
	SpaceID    uuid.UUID `json:"space_id"`
	PlanID     string    `json:"plan_id"`
	PriceID    string    `json:"price_id"`
	SuccessURL string    `json:"success_url"`
	CancelURL  string    `json:"cancel_url"`
}

type sessionResponse struct {
	ID        string     `json:"id,omitempty"`
	URL       string     `json:"url"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type quoteResponse struct {
	SubscriptionID string    `json:"subscription_id"`
	InvoiceID      string    `json:"invoice_id"`
	Currency       string    `json:"currency"`
	Total          int64     `json:"total"`
	Amount         int64     `json:"amount"`
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
	QuotedAt       time.Time `json:"quoted_at"`
}

type cancelResponse struct {
	SubscriptionID    string         `json:"subscription_id"`
	Status            string         `json:"status"`
	CancelAtPeriodEnd bool           `json:"cancel_at_period_end"`
	Quote             *quoteResponse `json:"quote,omitempty"`
	RefundID          string         `json:"refund_id,omitempty"`
	RefundAmount      int64          `json:"refund_amount,omitempty"`
}

func (h *apiHandler) checkout(w http.ResponseWriter, r *http.Request) {
	var body checkoutBody
	if !h.decode(w, r, &body) {
		return
	}
	if body.UserID == uuid.Nil || body.PlanID == "" {
		h.fail(w, r, ErrInvalidCheckout)
		return
	}
	s, err := h.c.CreateCheckout(r.Context(), CheckoutRequest(body))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{ID: s.ID, URL: s.URL, ExpiresAt: nonZero(s.ExpiresAt)})
}

func (h *apiHandler) portal(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CustomerID string `json:"customer_id"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	s, err := h.c.PortalLink(r.Context(), body.CustomerID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{URL: s.URL, ExpiresAt: nonZero(s.ExpiresAt)})
}

func (h *apiHandler) refundQuote(w http.ResponseWriter, r *http.Request) {
	q, err := h.c.QuoteRefund(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toQuoteResponse(q))
}

func (h *apiHandler) cancel(w http.ResponseWriter, r *http.Request) {
	immediately, _ := strconv.ParseBool(r.URL.Query().Get("immediately"))
	res, err := h.c.CancelSubscription(r.Context(), chi.URLParam(r, "id"), immediately)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := cancelResponse{
		SubscriptionID:    res.Subscription.ID,
		Status:            res.Subscription.Status,
		CancelAtPeriodEnd: res.Subscription.CancelAtPeriodEnd,
	}
	if immediately {
		q := toQuoteResponse(res.Quote)
		out.Quote = &q
	}
	if res.Refund != nil {
		out.RefundID, out.RefundAmount = res.Refund.ID, res.Refund.Amount
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *apiHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAPIBody)).Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (h *apiHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apiStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.ErrorContext(r.Context(), "billing request failed", slog.String("path", r.URL.Path), slog.Int("status", status), logger.Error(err))
	}
	http.Error(w, err.Error(), status)
}

func apiStatus(err error) int {
	var gerr *GatewayError
	switch {
	case errors.Is(err, ErrInvalidCheckout):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrPaymentDataMissing):
		return http.StatusConflict
	case errors.Is(err, ErrGatewayUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &gerr) && gerr.StatusCode == http.StatusNotFound:
		return http.StatusNotFound
	case errors.Is(err, ErrGateway), errors.Is(err, ErrNoCheckoutURL), errors.Is(err, ErrNoPortalURL):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func toQuoteResponse(q RefundQuote) quoteResponse {
	return quoteResponse{
		SubscriptionID: q.SubscriptionID,
		InvoiceID:      q.InvoiceID,
		Currency:       q.Currency,
		Total:          q.Total,
		Amount:         q.Amount,
		PeriodStart:    q.PeriodStart,
		PeriodEnd:      q.PeriodEnd,
		QuotedAt:       q.QuotedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func nonZero(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
