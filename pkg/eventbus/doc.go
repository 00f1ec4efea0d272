// Package eventbus publishes domain events to other photovault services.
//
// Billing emits user.subscribed, space.subscribed, subscription.ended and
// similar topics after a gateway event has been applied. In production they
// go to a durable RabbitMQ topic exchange with the topic as routing key;
// tests and local runs use MemoryPublisher.
//
// Publishing is fire-and-forget from the caller's point of view: callers log
// a failed Publish and carry on, because the state change it announces has
// already been persisted.
package eventbus
