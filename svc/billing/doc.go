// Package billing keeps payment gateway subscription state and local quota
// records consistent.
//
// Gateway webhooks are delivered at least once and possibly out of order,
// uploads commit storage concurrently, and plans change mid-cycle. The package
// turns that into a small set of absolute-state transitions on two
// independently stored aggregates, the User (default payer) and the Space
// (billing unit).
//
// # Architecture
//
//   - Coordinator: verifies and decodes webhooks, classifies events and routes
//     them to the Synchronizer or the refund calculator
//   - Synchronizer: narrow compare-and-swap mutators on one User or Space
//   - Quota: read-only capacity checks plus atomic storage commits
//   - Catalog: immutable plan catalog loaded from YAML
//   - Gateway: the payment provider (Stripe, with Paddle for webhooks and links)
//   - Sweeper: scheduled reversion of expired entitlements to the free tier
//
// Storage backends live in the mongostore and pgstore subpackages; MemoryStore
// serves tests and local development.
//
// # Events
//
// Raw provider payloads are decoded into a closed set of variants before any
// business logic runs:
//
//	switch e := event.(type) {
//	case billing.SubscriptionCreated:
//	case billing.SubscriptionDeleted:
//	case billing.Unrecognized:
//	}
//
// Every transition sets fields to the value implied by the event, so replays
// are safe. Events older than the owner's last applied event are discarded as
// stale.
//
// # Quota
//
// Storage is tracked in bytes and compared against the megabyte ceiling with a
// strict less-than. Commit is a single conditional increment at the storage
// layer:
//
//	if err := quota.Commit(ctx, spaceID, size); errors.Is(err, billing.ErrInsufficientCapacity) {
//		// reject upload
//	}
//
// # Errors
//
// Failures are reported with sentinel errors (ErrNotFound, ErrInsufficientCapacity,
// ErrPaymentDataMissing, ErrGateway, ErrMalformed). Provider failures carry a
// *GatewayError with the provider's error code.
package billing
