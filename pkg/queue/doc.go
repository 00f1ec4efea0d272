// Package queue runs background tasks with retries and a dead letter queue.
//
// An Enqueuer serializes a typed payload into a Task and stores it. A Worker
// polls the Storage, dispatches each claimed task to the Handler registered
// under the task's name and records the outcome: Ack on success, Retry with
// linear backoff on failure, Bury once the attempts are exhausted or no
// handler exists.
//
// Task names default to the payload's qualified type name, so a handler
// built with NewTaskHandler[T] receives exactly the tasks enqueued with a T:
//
//	enq := queue.NewEnqueuer(storage)
//	_ = enq.Enqueue(ctx, billing.DunningNotice{UserID: id})
//
//	w, _ := queue.NewWorker(storage, queue.WithConcurrency(4))
//	w.Register(queue.NewTaskHandler(notifier.SendDunning))
//	go w.Run(ctx)
//
// MemoryStorage serves tests and single-process development; RedisStorage
// persists tasks across restarts and recovers tasks whose lock expired.
package queue
