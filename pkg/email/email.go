package email

import (
	"bytes"
	"context"
	"errors"

	"github.com/a-h/templ"
	"github.com/go-playground/validator/v10"
)

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Message is an outbound transactional email.
type Message struct {
	To      string `json:"to" validate:"required,email"`
	Subject string `json:"subject" validate:"required,max=200"`
	HTML    string `json:"-" validate:"required"`
	Tag     string `json:"tag,omitempty" validate:"omitempty,max=64"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the message before it is handed to a provider.
func (m Message) Validate() error {
	if err := validate.Struct(m); err != nil {
		return errors.Join(ErrInvalidMessage, err)
	}
	return nil
}

// Render renders c into the message's HTML body.
func Render(ctx context.Context, c templ.Component) (string, error) {
	var buf bytes.Buffer
	if err := c.Render(ctx, &buf); err != nil {
		return "", errors.Join(ErrRender, err)
	}
	return buf.String(), nil
}

type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"SENDER_EMAIL" envDefault:"billing@photovault.local" validate:"email"`
	SupportEmail         string `env:"SUPPORT_EMAIL" envDefault:"support@photovault.local" validate:"email"`
	DevDir               string `env:"EMAIL_DEV_DIR" envDefault:"./tmp/emails"`
}
