// Package notify sends the dunning email queued when a renewal payment
// fails.
//
// Notifier.Handler adapts Notify to a queue.Handler for billing.DunningNotice
// tasks, so a failed send is retried by the queue worker with backoff:
//
//	n := notify.New(sender, notify.WithUsers(store), notify.WithLogger(log))
//	worker.Register(n.Handler())
//
// The message body is the DunningEmail templ component.
package notify
