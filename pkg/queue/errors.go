package queue

import "errors"

var (
	ErrStorageNil      = errors.New("queue storage cannot be nil")
	ErrPayloadNil      = errors.New("payload cannot be nil")
	ErrPayloadMarshal  = errors.New("failed to marshal task payload")
	ErrNoTask          = errors.New("no task available")
	ErrTaskNotFound    = errors.New("task not found")
	ErrHandlerNotFound = errors.New("no handler registered for task")
	ErrNoHandlers      = errors.New("no task handlers registered")
	ErrAlreadyRunning  = errors.New("worker already running")
)
