package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
)

const DefaultQueue = "default"

// Task is a unit of background work.
type Task struct {
	ID          uuid.UUID       `json:"id"`
	Queue       string          `json:"queue"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	RunAt       time.Time       `json:"run_at"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Storage persists tasks between enqueue and completion.
type Storage interface {
	Push(ctx context.Context, task *Task) error
	// Claim locks the next due task of any of the queues for lock duration.
	// It returns ErrNoTask when nothing is due.
	Claim(ctx context.Context, queues []string, lock time.Duration) (*Task, error)
	Ack(ctx context.Context, task *Task) error
	// Retry releases the lock and makes the task due again at task.RunAt.
	Retry(ctx context.Context, task *Task) error
	// Bury moves the task to the dead letter queue.
	Bury(ctx context.Context, task *Task) error
}

// Handler processes tasks of a single name.
type Handler interface {
	Name() string
	Handle(ctx context.Context, payload json.RawMessage) error
}

type typedHandler[T any] struct {
	name string
	fn   func(ctx context.Context, payload T) error
}

// NewTaskHandler adapts fn to a Handler named after T. The task payload is
// decoded into T before fn runs; a decode failure counts as a failed attempt.
//
// Example:
//
//	worker.Register(queue.NewTaskHandler(func(ctx context.Context, n billing.DunningNotice) error {
//		return notifier.Notify(ctx, n)
//	}))
func NewTaskHandler[T any](fn func(ctx context.Context, payload T) error) Handler {
	return &typedHandler[T]{name: TaskName[T](), fn: fn}
}

func (h *typedHandler[T]) Name() string { return h.name }

func (h *typedHandler[T]) Handle(ctx context.Context, payload json.RawMessage) error {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return fmt.Errorf("decode %s payload: %w", h.name, err)
	}
	return h.fn(ctx, v)
}

// TaskName returns the qualified type name used to route payloads of type T.
func TaskName[T any]() string {
	return qualifiedName(reflect.TypeFor[T]())
}

func qualifiedName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}
