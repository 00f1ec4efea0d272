package eventbus

import "errors"

var (
	ErrConnect = errors.New("failed to connect to message broker")
	ErrPublish = errors.New("failed to publish event")
	ErrClosed  = errors.New("publisher is closed")
)
