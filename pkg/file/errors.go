package file

import "errors"

var (
	ErrInvalidKey    = errors.New("invalid object key")
	ErrNotFound      = errors.New("object not found")
	ErrEmptyObject   = errors.New("object is empty")
	ErrInvalidConfig = errors.New("invalid storage configuration")

	ErrFailedToLoadConfig = errors.New("failed to load AWS config")
	ErrFailedToRead       = errors.New("failed to read object body")

	ErrBucketNotFound     = errors.New("bucket not found")
	ErrAccessDenied       = errors.New("access denied")
	ErrServiceUnavailable = errors.New("storage temporarily unavailable")
	ErrOperationTimeout   = errors.New("storage operation timed out")
	ErrOperationCanceled  = errors.New("storage operation canceled")
)
