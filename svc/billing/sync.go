package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/photovault/pkg/logger"
)

// Synchronizer applies gateway state onto User and Space aggregates.
// Each mutator is one compare-and-swap read-modify-write on a single
// aggregate and sets absolute values, so applying the same event twice is
// the same as applying it once. Mutators report whether the entitlement
// state changed.
type Synchronizer struct {
	users   UserStore
	spaces  SpaceStore
	catalog *Catalog
	log     *slog.Logger
}

// NewSynchronizer creates a synchronizer. A nil logger discards output.
func NewSynchronizer(users UserStore, spaces SpaceStore, catalog *Catalog, log *slog.Logger) *Synchronizer {
	if users == nil || spaces == nil {
		panic("billing: UserStore and SpaceStore are required")
	}
	if catalog == nil {
		panic("billing: Catalog is required")
	}
	return &Synchronizer{
		users:   users,
		spaces:  spaces,
		catalog: catalog,
		log:     logger.OrNop(log).With(logger.Component("billing.sync")),
	}
}

// ApplyPlan sets the owner's ceilings from plan, links the subscription and
// clears pause, deactivation and expiry markers. A space also loses its
// downgrade marker, so only a downgrade of the current lifecycle is recorded.
func (s *Synchronizer) ApplyPlan(ctx context.Context, owner Owner, snap SubscriptionSnapshot, plan Plan, at time.Time) (bool, error) {
	switch owner.Kind {
	case OwnerUser:
		return s.mutateUser(ctx, owner.ID, at, func(u *User) (bool, error) {
			if expiredBy(u.SubscriptionExpiresAt, u.GatewaySubscriptionID, snap, at) {
				return false, fmt.Errorf("%w: subscription %s already expired", ErrStaleEvent, snap.ID)
			}
			before := *u
			plan.applyToUser(u)
			u.GatewaySubscriptionID = snap.ID
			u.GatewayPlanID = plan.ID
			if snap.CustomerID != "" {
				u.GatewayCustomerID = snap.CustomerID
			}
			u.SubscriptionExpiresAt = nil
			u.PausedAt = nil
			return !sameUser(before, *u), nil
		})
	case OwnerSpace:
		return s.mutateSpace(ctx, owner.ID, at, func(sp *Space) (bool, error) {
			if expiredBy(sp.DeactivatedAt, sp.GatewaySubscriptionID, snap, at) {
				return false, fmt.Errorf("%w: subscription %s already expired", ErrStaleEvent, snap.ID)
			}
			before := *sp
			plan.applyToSpace(sp)
			sp.GatewaySubscriptionID = snap.ID
			sp.GatewayPlanID = plan.ID
			if snap.CustomerID != "" {
				sp.GatewayCustomerID = snap.CustomerID
			}
			sp.DeactivatedAt = nil
			sp.PausedAt = nil
			sp.DowngradedAt = nil
			return !sameSpace(before, *sp), nil
		})
	}
	return false, fmt.Errorf("%w: owner kind %q", ErrNotFound, owner.Kind)
}

// Expire marks the owner's subscription as ended at at. Ceilings are left
// untouched until the sweep reverts them. An existing expiry is kept and
// owners without a linked subscription are left alone.
func (s *Synchronizer) Expire(ctx context.Context, owner Owner, subscriptionID string, at time.Time) (bool, error) {
	return s.expire(ctx, owner, subscriptionID, at, at)
}

// expire sets the expiry to at. A zero syncAt skips the ordering guard and
// leaves GatewaySyncedAt alone, for expiries stamped by the local clock.
func (s *Synchronizer) expire(ctx context.Context, owner Owner, subscriptionID string, at, syncAt time.Time) (bool, error) {
	switch owner.Kind {
	case OwnerUser:
		return s.mutateUser(ctx, owner.ID, syncAt, func(u *User) (bool, error) {
			if err := sameSubscription(u.GatewaySubscriptionID, subscriptionID); err != nil {
				return false, err
			}
			if u.GatewaySubscriptionID == "" || u.SubscriptionExpiresAt != nil {
				return false, nil
			}
			u.SubscriptionExpiresAt = timePtr(at)
			return true, nil
		})
	case OwnerSpace:
		return s.mutateSpace(ctx, owner.ID, syncAt, func(sp *Space) (bool, error) {
			if err := sameSubscription(sp.GatewaySubscriptionID, subscriptionID); err != nil {
				return false, err
			}
			if sp.GatewaySubscriptionID == "" || sp.DeactivatedAt != nil {
				return false, nil
			}
			sp.DeactivatedAt = timePtr(at)
			return true, nil
		})
	}
	return false, fmt.Errorf("%w: owner kind %q", ErrNotFound, owner.Kind)
}

// Pause sets PausedAt unless already paused.
func (s *Synchronizer) Pause(ctx context.Context, owner Owner, subscriptionID string, at time.Time) (bool, error) {
	return s.togglePause(ctx, owner, subscriptionID, at, true)
}

// Resume clears PausedAt. For spaces it also clears DeactivatedAt.
func (s *Synchronizer) Resume(ctx context.Context, owner Owner, subscriptionID string, at time.Time) (bool, error) {
	return s.togglePause(ctx, owner, subscriptionID, at, false)
}

func (s *Synchronizer) togglePause(ctx context.Context, owner Owner, subscriptionID string, at time.Time, pause bool) (bool, error) {
	switch owner.Kind {
	case OwnerUser:
		return s.mutateUser(ctx, owner.ID, at, func(u *User) (bool, error) {
			if err := sameSubscription(u.GatewaySubscriptionID, subscriptionID); err != nil {
				return false, err
			}
			switch {
			case pause && u.PausedAt == nil:
				u.PausedAt = timePtr(at)
				return true, nil
			case !pause && u.PausedAt != nil:
				u.PausedAt = nil
				return true, nil
			}
			return false, nil
		})
	case OwnerSpace:
		return s.mutateSpace(ctx, owner.ID, at, func(sp *Space) (bool, error) {
			if err := sameSubscription(sp.GatewaySubscriptionID, subscriptionID); err != nil {
				return false, err
			}
			if pause {
				if sp.PausedAt != nil {
					return false, nil
				}
				sp.PausedAt = timePtr(at)
				return true, nil
			}
			if sp.PausedAt == nil && sp.DeactivatedAt == nil {
				return false, nil
			}
			sp.PausedAt = nil
			sp.DeactivatedAt = nil
			return true, nil
		})
	}
	return false, fmt.Errorf("%w: owner kind %q", ErrNotFound, owner.Kind)
}

// GrantOneOff applies a one-off plan purchase to a user with a fixed
// OneOffGrantPeriod expiry. A replay of the same payment is a no-op. Users
// with an active subscription keep every ceiling that is already higher.
func (s *Synchronizer) GrantOneOff(ctx context.Context, plan Plan, userID uuid.UUID, paymentID string, at time.Time) (bool, error) {
	if paymentID == "" {
		return false, fmt.Errorf("%w: one-off grant without payment id", ErrMalformed)
	}
	return s.mutateUserUnordered(ctx, userID, func(u *User) (bool, error) {
		if u.LastPaymentID == paymentID {
			return false, nil
		}
		if subscriptionActive(*u) {
			plan.raiseUser(u)
		} else {
			plan.applyToUser(u)
			u.GatewayPlanID = plan.ID
		}
		expires := at.Add(OneOffGrantPeriod)
		if u.PlanExpiresAt == nil || expires.After(*u.PlanExpiresAt) {
			u.PlanExpiresAt = timePtr(expires)
		}
		u.LastPaymentID = paymentID
		u.DowngradedAt = nil
		return true, nil
	})
}

// Revert drops lapsed entitlements as of now. Users fall back to their still
// active subscription plan, keep an unexpired one-off grant, or get the free
// plan. Spaces deactivated before now get the free plan once per
// subscription lifecycle.
func (s *Synchronizer) Revert(ctx context.Context, owner Owner, now time.Time) (bool, error) {
	free := s.catalog.Free()
	switch owner.Kind {
	case OwnerUser:
		return s.mutateUserUnordered(ctx, owner.ID, func(u *User) (bool, error) {
			subLapsed := u.SubscriptionExpiresAt != nil && !u.SubscriptionExpiresAt.After(now)
			grantLapsed := u.PlanExpiresAt != nil && !u.PlanExpiresAt.After(now)
			if !subLapsed && !grantLapsed {
				return false, nil
			}
			if subLapsed {
				u.GatewaySubscriptionID = ""
				u.SubscriptionExpiresAt = nil
				u.PausedAt = nil
			}
			if grantLapsed {
				u.PlanExpiresAt = nil
			}

			switch {
			case u.PlanExpiresAt != nil:
				// unexpired one-off grant keeps its ceilings
			case subscriptionActive(*u):
				if p, err := s.catalog.Plan(u.GatewayPlanID); err == nil {
					p.applyToUser(u)
				}
			default:
				free.applyToUser(u)
				u.GatewayPlanID = ""
				u.DowngradedAt = timePtr(now)
			}
			return true, nil
		})
	case OwnerSpace:
		return s.mutateSpaceUnordered(ctx, owner.ID, func(sp *Space) (bool, error) {
			if sp.DeactivatedAt == nil || sp.DeactivatedAt.After(now) || sp.DowngradedAt != nil {
				return false, nil
			}
			free.applyToSpace(sp)
			sp.GatewaySubscriptionID = ""
			sp.GatewayPlanID = ""
			sp.DowngradedAt = timePtr(now)
			return true, nil
		})
	}
	return false, fmt.Errorf("%w: owner kind %q", ErrNotFound, owner.Kind)
}

// mutateUser wraps fn with the ordering guard: events older than the last
// applied gateway event are rejected with ErrStaleEvent, and GatewaySyncedAt
// advances to at.
func (s *Synchronizer) mutateUser(ctx context.Context, id uuid.UUID, at time.Time, fn func(*User) (bool, error)) (bool, error) {
	var changed bool
	_, err := UpdateUser(ctx, s.users, id, func(u *User) (bool, error) {
		changed = false
		if err := checkOrder(u.GatewaySyncedAt, at); err != nil {
			s.log.DebugContext(ctx, "out-of-order event discarded", logger.UserID(id), logger.Error(err))
			return false, err
		}
		c, err := fn(u)
		if err != nil {
			return false, err
		}
		changed = c
		advanced := advanceSync(&u.GatewaySyncedAt, at)
		return c || advanced, nil
	})
	return changed, err
}

func (s *Synchronizer) mutateSpace(ctx context.Context, id uuid.UUID, at time.Time, fn func(*Space) (bool, error)) (bool, error) {
	var changed bool
	_, err := UpdateSpace(ctx, s.spaces, id, func(sp *Space) (bool, error) {
		changed = false
		if err := checkOrder(sp.GatewaySyncedAt, at); err != nil {
			s.log.DebugContext(ctx, "out-of-order event discarded", logger.SpaceID(id), logger.Error(err))
			return false, err
		}
		c, err := fn(sp)
		if err != nil {
			return false, err
		}
		changed = c
		advanced := advanceSync(&sp.GatewaySyncedAt, at)
		return c || advanced, nil
	})
	return changed, err
}

func (s *Synchronizer) mutateUserUnordered(ctx context.Context, id uuid.UUID, fn func(*User) (bool, error)) (bool, error) {
	var changed bool
	_, err := UpdateUser(ctx, s.users, id, func(u *User) (bool, error) {
		c, err := fn(u)
		changed = c
		return c, err
	})
	return changed, err
}

func (s *Synchronizer) mutateSpaceUnordered(ctx context.Context, id uuid.UUID, fn func(*Space) (bool, error)) (bool, error) {
	var changed bool
	_, err := UpdateSpace(ctx, s.spaces, id, func(sp *Space) (bool, error) {
		c, err := fn(sp)
		changed = c
		return c, err
	})
	return changed, err
}

func checkOrder(synced *time.Time, at time.Time) error {
	if synced != nil && !at.IsZero() && at.Before(*synced) {
		return fmt.Errorf("%w: event at %s, last applied %s", ErrStaleEvent,
			at.Format(time.RFC3339), synced.Format(time.RFC3339))
	}
	return nil
}

func advanceSync(synced **time.Time, at time.Time) bool {
	if at.IsZero() || (*synced != nil && !at.After(**synced)) {
		return false
	}
	*synced = timePtr(at)
	return true
}

// expiredBy reports whether snap belongs to the subscription that already
// expired at expiredAt. Such a snapshot revives the subscription only when
// the event is strictly newer than the expiry and its period extends past it.
func expiredBy(expiredAt *time.Time, linkedID string, snap SubscriptionSnapshot, at time.Time) bool {
	if expiredAt == nil || linkedID != snap.ID {
		return false
	}
	if !at.IsZero() && !at.After(*expiredAt) {
		return true
	}
	return !snap.CurrentPeriodEnd.After(*expiredAt)
}

// sameSubscription rejects lifecycle events for a subscription the owner is
// no longer linked to.
func sameSubscription(linkedID, eventID string) error {
	if linkedID != "" && eventID != "" && linkedID != eventID {
		return fmt.Errorf("%w: owner linked to %s, event for %s", ErrStaleEvent, linkedID, eventID)
	}
	return nil
}

func subscriptionActive(u User) bool {
	return u.GatewaySubscriptionID != "" && u.SubscriptionExpiresAt == nil
}

func sameUser(a, b User) bool {
	return a.MaxStorageMB == b.MaxStorageMB &&
		a.MaxSpaces == b.MaxSpaces &&
		a.MaxUsers == b.MaxUsers &&
		a.MaxAIGenerationsPerMonth == b.MaxAIGenerationsPerMonth &&
		a.GatewayCustomerID == b.GatewayCustomerID &&
		a.GatewaySubscriptionID == b.GatewaySubscriptionID &&
		a.GatewayPlanID == b.GatewayPlanID &&
		sameTime(a.SubscriptionExpiresAt, b.SubscriptionExpiresAt) &&
		sameTime(a.PlanExpiresAt, b.PlanExpiresAt) &&
		sameTime(a.PausedAt, b.PausedAt)
}

func sameSpace(a, b Space) bool {
	return a.TotalStorageMB == b.TotalStorageMB &&
		a.UsersAllowed == b.UsersAllowed &&
		a.AIGenerationsPerMonth == b.AIGenerationsPerMonth &&
		a.GatewayCustomerID == b.GatewayCustomerID &&
		a.GatewaySubscriptionID == b.GatewaySubscriptionID &&
		a.GatewayPlanID == b.GatewayPlanID &&
		sameTime(a.PausedAt, b.PausedAt) &&
		sameTime(a.DeactivatedAt, b.DeactivatedAt) &&
		sameTime(a.DowngradedAt, b.DowngradedAt)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
