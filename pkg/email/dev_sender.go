package email

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// DevSender writes messages to a directory instead of sending them.
type DevSender struct {
	dir string
	now func() time.Time
}

func NewDevSender(dir string) *DevSender {
	return &DevSender{dir: dir, now: time.Now}
}

type devMeta struct {
	SentAt  time.Time `json:"sent_at"`
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Tag     string    `json:"tag,omitempty"`
}

func (d *DevSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return errors.Join(ErrSend, err)
	}

	now := d.now().UTC()
	label := msg.Tag
	if label == "" {
		label = msg.Subject
	}
	base := filepath.Join(d.dir, now.Format("20060102T150405.000000000")+"_"+slug(label))

	if err := os.WriteFile(base+".html", []byte(msg.HTML), 0o644); err != nil {
		return errors.Join(ErrSend, err)
	}
	meta, err := json.MarshalIndent(devMeta{SentAt: now, To: msg.To, Subject: msg.Subject, Tag: msg.Tag}, "", "  ")
	if err != nil {
		return errors.Join(ErrSend, err)
	}
	if err := os.WriteFile(base+".json", meta, 0o644); err != nil {
		return errors.Join(ErrSend, err)
	}
	return nil
}

var unsafeChars = regexp.MustCompile(`[^a-z0-9\-_.]+`)

func slug(s string) string {
	s = unsafeChars.ReplaceAllString(strings.ToLower(strings.ReplaceAll(s, " ", "_")), "")
	if len(s) > 80 {
		s = s[:80]
	}
	if s == "" {
		return "email"
	}
	return s
}
