package logger

import (
	"fmt"
	"log/slog"
	"time"
)

func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func UserID(id any) slog.Attr {
	return idAttr("user_id", id)
}

func SpaceID(id any) slog.Attr {
	return idAttr("space_id", id)
}

func SubscriptionID(id string) slog.Attr {
	return idAttr("subscription_id", id)
}

func CustomerID(id string) slog.Attr {
	return idAttr("customer_id", id)
}

func PlanID(id string) slog.Attr {
	return idAttr("plan_id", id)
}

// EventKind records the normalized gateway event kind.
func EventKind(kind string) slog.Attr {
	return slog.String("event_kind", kind)
}

func Topic(name string) slog.Attr {
	return slog.String("topic", name)
}

func TaskID(id any) slog.Attr {
	return idAttr("task_id", id)
}

func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Amount records a monetary amount in minor units with its currency.
func Amount(minor int64, currency string) slog.Attr {
	return slog.Group("amount", slog.Int64("minor", minor), slog.String("currency", currency))
}

func idAttr(key string, id any) slog.Attr {
	switch v := id.(type) {
	case nil:
		return slog.Attr{}
	case string:
		if v == "" {
			return slog.Attr{}
		}
		return slog.String(key, v)
	case fmt.Stringer:
		return slog.String(key, v.String())
	default:
		return slog.Any(key, v)
	}
}
