package queue_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrymomot/photovault/pkg/queue"
)

type receiptPayload struct {
	InvoiceID string `json:"invoice_id"`
	Email     string `json:"email"`
}

// Example_processNext enqueues a task and drains it synchronously.
func Example_processNext() {
	ctx := context.Background()
	storage := queue.NewMemoryStorage()

	enq, err := queue.NewEnqueuer(storage, queue.WithMaxAttempts(3))
	if err != nil {
		panic(err)
	}
	if err := enq.Enqueue(ctx, receiptPayload{InvoiceID: "in_1", Email: "owner@example.com"}); err != nil {
		panic(err)
	}

	worker, err := queue.NewWorker(storage)
	if err != nil {
		panic(err)
	}
	worker.Register(queue.NewTaskHandler(func(_ context.Context, p receiptPayload) error {
		fmt.Printf("receipt %s sent to %s\n", p.InvoiceID, p.Email)
		return nil
	}))

	if err := worker.ProcessNext(ctx); err != nil {
		panic(err)
	}
	err = worker.ProcessNext(ctx)
	fmt.Println(errors.Is(err, queue.ErrNoTask), storage.Pending())

	// Output:
	// receipt in_1 sent to owner@example.com
	// true 0
}
