package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/photovault/pkg/email"
	"github.com/dmitrymomot/photovault/pkg/logger"
	"github.com/dmitrymomot/photovault/pkg/queue"
	"github.com/dmitrymomot/photovault/svc/billing"
)

var ErrNoRecipient = errors.New("dunning notice has no recipient")

const dunningSubject = "Action needed: your PhotoVault payment failed"

// Notifier turns dunning notices into emails.
type Notifier struct {
	sender  email.Sender
	users   billing.UserStore
	support string
	log     *slog.Logger
}

type Option func(*Notifier)

// WithUsers resolves the recipient from the user record when the notice
// carries no email.
func WithUsers(users billing.UserStore) Option {
	return func(n *Notifier) { n.users = users }
}

func WithSupportEmail(addr string) Option {
	return func(n *Notifier) { n.support = addr }
}

func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) { n.log = l }
}

// New creates a notifier sending through sender.
func New(sender email.Sender, opts ...Option) *Notifier {
	if sender == nil {
		panic("notify: email.Sender is required")
	}
	n := &Notifier{sender: sender}
	for _, opt := range opts {
		opt(n)
	}
	n.log = logger.OrNop(n.log).With(logger.Component("notify"))
	return n
}

// Handler returns the queue handler for billing.DunningNotice tasks.
func (n *Notifier) Handler() queue.Handler {
	return queue.NewTaskHandler(n.Notify)
}

// Notify sends the dunning email for notice.
func (n *Notifier) Notify(ctx context.Context, notice billing.DunningNotice) error {
	to, err := n.recipient(ctx, notice)
	if err != nil {
		return err
	}

	html, err := email.Render(ctx, DunningEmail(DunningProps{
		InvoiceID:    notice.InvoiceID,
		Amount:       FormatAmount(notice.AmountDue, notice.Currency),
		AttemptCount: notice.AttemptCount,
		PortalURL:    notice.PortalURL,
		SupportEmail: n.support,
	}))
	if err != nil {
		return err
	}

	if err := n.sender.Send(ctx, email.Message{
		To:      to,
		Subject: dunningSubject,
		HTML:    html,
		Tag:     "dunning",
	}); err != nil {
		return fmt.Errorf("send dunning email for invoice %s: %w", notice.InvoiceID, err)
	}

	n.log.InfoContext(ctx, "dunning email sent",
		logger.UserID(notice.UserID),
		logger.SubscriptionID(notice.SubscriptionID),
		logger.Amount(notice.AmountDue, notice.Currency),
		logger.Attempt(int(notice.AttemptCount)),
	)
	return nil
}

func (n *Notifier) recipient(ctx context.Context, notice billing.DunningNotice) (string, error) {
	if notice.Email != "" {
		return notice.Email, nil
	}
	if n.users == nil {
		return "", ErrNoRecipient
	}
	u, err := n.users.GetUser(ctx, notice.UserID)
	if err != nil {
		return "", fmt.Errorf("resolve dunning recipient: %w", err)
	}
	if u.Email == "" {
		return "", ErrNoRecipient
	}
	return u.Email, nil
}
