package billing

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("entity not found")
	ErrAlreadyExists        = errors.New("entity already exists")
	ErrPlanNotFound         = fmt.Errorf("%w: subscription plan", ErrNotFound)
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	ErrInvalidDimension     = errors.New("invalid quota dimension")
	ErrConcurrentUpdate     = errors.New("concurrent update")
	ErrStaleEvent           = errors.New("stale gateway event")

	ErrPaymentDataMissing = errors.New("invoice has no completed payment")
	ErrMalformed          = errors.New("malformed gateway payload")
	ErrInvalidSignature   = errors.New("webhook signature verification failed")
	ErrGateway            = errors.New("payment gateway error")
	ErrGatewayUnavailable = errors.New("payment gateway not configured")
	ErrNoCheckoutURL      = errors.New("no checkout URL returned from gateway")
	ErrNoPortalURL        = errors.New("no portal URL returned from gateway")

	ErrInvalidCatalog    = errors.New("invalid plan catalog")
	ErrFailedToLoadPlans = errors.New("failed to load plan catalog")
	ErrMissingAPIKey     = errors.New("gateway API key is required")
	ErrMissingSecret     = errors.New("gateway webhook secret is required")
	ErrInvalidCheckout   = errors.New("invalid checkout request")
)

// GatewayError is a failure reported by the payment provider.
// It matches ErrGateway with errors.Is.
type GatewayError struct {
	Op         string
	Code       string
	Message    string
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("gateway %s: %s (%s)", e.Op, msg, e.Code)
	}
	return fmt.Sprintf("gateway %s: %s", e.Op, msg)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Is(target error) bool { return target == ErrGateway }
