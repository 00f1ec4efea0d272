package email

import "errors"

var (
	ErrSend           = errors.New("failed to send email")
	ErrInvalidConfig  = errors.New("invalid email config")
	ErrInvalidMessage = errors.New("invalid email message")
	ErrRender         = errors.New("failed to render email body")
)
