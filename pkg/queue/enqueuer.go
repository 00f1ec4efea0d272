package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Enqueuer stores typed payloads as tasks for a Worker to pick up.
type Enqueuer struct {
	storage     Storage
	queue       string
	maxAttempts int
	now         func() time.Time
}

type EnqueuerOption func(*Enqueuer)

// WithDefaultQueue sets the queue used when Enqueue gets no InQueue option.
func WithDefaultQueue(name string) EnqueuerOption {
	return func(e *Enqueuer) {
		if name != "" {
			e.queue = name
		}
	}
}

// WithMaxAttempts sets how many runs a task gets before it is buried.
func WithMaxAttempts(n int) EnqueuerOption {
	return func(e *Enqueuer) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// NewEnqueuer creates an enqueuer writing to storage. Tasks go to
// DefaultQueue with five attempts unless options say otherwise.
// It returns ErrStorageNil when storage is nil.
//
// Example:
//
//	enq, err := queue.NewEnqueuer(queue.NewRedisStorage(client, "photovault:queue"),
//		queue.WithMaxAttempts(cfg.MaxAttempts),
//	)
func NewEnqueuer(storage Storage, opts ...EnqueuerOption) (*Enqueuer, error) {
	if storage == nil {
		return nil, ErrStorageNil
	}
	e := &Enqueuer{storage: storage, queue: DefaultQueue, maxAttempts: 5, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// EnqueueOption adjusts a single task.
type EnqueueOption func(*Task)

// InQueue routes the task to name instead of the default queue.
func InQueue(name string) EnqueueOption {
	return func(t *Task) { t.Queue = name }
}

// Delay postpones the first run by d.
func Delay(d time.Duration) EnqueueOption {
	return func(t *Task) { t.RunAt = t.RunAt.Add(d) }
}

// Enqueue stores payload as a task named after its type.
//
// The payload is JSON-encoded and routed by its qualified type name, so the
// worker needs a handler built with NewTaskHandler for the same type. Pointer
// payloads are named after the element type. A nil payload returns
// ErrPayloadNil and an unencodable one wraps ErrPayloadMarshal.
//
// Example:
//
//	err := enq.Enqueue(ctx, billing.DunningNotice{CustomerID: "cus_1"},
//		queue.Delay(time.Minute),
//	)
func (e *Enqueuer) Enqueue(ctx context.Context, payload any, opts ...EnqueueOption) error {
	if payload == nil {
		return ErrPayloadNil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Join(ErrPayloadMarshal, err)
	}

	now := e.now()
	task := &Task{
		ID:          uuid.New(),
		Queue:       e.queue,
		Name:        qualifiedName(reflect.TypeOf(payload)),
		Payload:     raw,
		MaxAttempts: e.maxAttempts,
		RunAt:       now,
		CreatedAt:   now,
	}
	for _, opt := range opts {
		opt(task)
	}
	if err := e.storage.Push(ctx, task); err != nil {
		return fmt.Errorf("enqueue %s: %w", task.Name, err)
	}
	return nil
}
