// Package redis opens go-redis clients for photovault.
//
// The client backs webhook event de-duplication and the persistent task
// queue. Connect parses a redis:// URL and retries the first ping until
// ConnectTimeout elapses.
package redis
