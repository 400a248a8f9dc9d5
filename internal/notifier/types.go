package notifier

import (
	"time"

	"finpipe/internal/delivery"
)

// Config controls dispatch.
type Config struct {
	// SendTimeout bounds one channel call. Zero means no bound beyond ctx.
	SendTimeout time.Duration
	// AdminEmail receives admin alerts and maturity summaries.
	AdminEmail  string
	HistorySize int
}

// Recipient is who a delivery is for.
type Recipient string

const (
	RecipientUser  Recipient = "user"
	RecipientAdmin Recipient = "admin"
)

// Outcome is the result of one delivery to one recipient. It is also the
// payload of notify.sent / notify.failed bus events, so keep it small.
type Outcome struct {
	Recipient Recipient     `json:"recipient"`
	Address   string        `json:"address,omitempty"`
	Event     string        `json:"event"`
	RequestID string        `json:"request_id,omitempty"`
	Channel   string        `json:"channel,omitempty"`
	Attempted bool          `json:"attempted"`
	Succeeded bool          `json:"succeeded"`
	Error     string        `json:"error,omitempty"`
	Code      delivery.Code `json:"code,omitempty"`
	At        time.Time     `json:"at"`
}

// Result collects every outcome of one Dispatch call.
type Result struct {
	ID       string    `json:"id"`
	Outcomes []Outcome `json:"outcomes"`
}

// UserSent reports whether any user delivery succeeded.
func (r Result) UserSent() bool { return r.anySent(RecipientUser) }

// AdminSent reports whether any admin delivery succeeded.
func (r Result) AdminSent() bool { return r.anySent(RecipientAdmin) }

func (r Result) anySent(rc Recipient) bool {
	for _, o := range r.Outcomes {
		if o.Recipient == rc && o.Succeeded {
			return true
		}
	}
	return false
}

// Sent counts successful deliveries.
func (r Result) Sent() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Succeeded {
			n++
		}
	}
	return n
}

// Failed counts deliveries that did not succeed, attempted or not.
func (r Result) Failed() int { return len(r.Outcomes) - r.Sent() }
