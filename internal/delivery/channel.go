// Package delivery sends rendered messages to one recipient.
//
// A Channel is the only place that talks to a provider. The dispatcher gets
// one injected at construction; development setups inject LogChannel so no
// code path branches on environment.
package delivery

import (
	"context"
	"errors"
	"strings"
	"sync"

	logx "finpipe/pkg/logx"
)

// Message is addressed content ready for a provider.
type Message struct {
	To      string
	ReplyTo string
	Subject string
	HTML    string
	Text    string
}

// Channel delivers one message per call. Implementations must be safe for
// concurrent use and should honor ctx.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

var ErrNoRecipient = errors.New("recipient address is empty")

// LogChannel logs instead of sending and always succeeds.
type LogChannel struct {
	log logx.Logger

	mu   sync.Mutex
	sent []Message
	keep int
}

// NewLogChannel keeps the last keep messages for inspection (0 keeps none).
func NewLogChannel(log logx.Logger, keep int) *LogChannel {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogChannel{log: log.With(logx.String("comp", "delivery.log")), keep: keep}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return ErrNoRecipient
	}
	c.log.Info("message not sent (log channel)",
		logx.String("to", msg.To),
		logx.String("reply_to", msg.ReplyTo),
		logx.String("subject", msg.Subject),
		logx.Int("text_len", len(msg.Text)),
	)
	if c.keep > 0 {
		c.mu.Lock()
		c.sent = append(c.sent, msg)
		if over := len(c.sent) - c.keep; over > 0 {
			c.sent = append([]Message(nil), c.sent[over:]...)
		}
		c.mu.Unlock()
	}
	return nil
}

// Sent returns a copy of the retained messages.
func (c *LogChannel) Sent() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.sent...)
}

// Tee sends through Primary and mirrors to Mirror. Only Primary decides the
// result; mirror failures are logged.
type Tee struct {
	Primary Channel
	Mirror  Channel
	Log     logx.Logger
}

func (t Tee) Name() string {
	if t.Mirror == nil {
		return t.Primary.Name()
	}
	return t.Primary.Name() + "+" + t.Mirror.Name()
}

func (t Tee) Send(ctx context.Context, msg Message) error {
	err := t.Primary.Send(ctx, msg)
	if t.Mirror != nil {
		if merr := t.Mirror.Send(ctx, msg); merr != nil && !t.Log.IsZero() {
			t.Log.Warn("mirror delivery failed",
				logx.String("channel", t.Mirror.Name()),
				logx.String("subject", msg.Subject),
				logx.Err(merr),
			)
		}
	}
	return err
}
