package lifecycle

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"

	"finpipe/internal/eventbus"
	"finpipe/internal/model"
	"finpipe/internal/notifier"
	logx "finpipe/pkg/logx"
)

// Dispatcher is the notifier as seen by the coordinator.
type Dispatcher interface {
	Dispatch(ctx context.Context, events ...model.NotificationEvent) notifier.Result
}

// Transition describes one state change of a request.
type Transition struct {
	Kind            model.Kind
	Action          model.Action
	User            model.UserRef
	Investment      *model.InvestmentRequest
	Withdrawal      *model.WithdrawalRequestRef
	Reason          string
	TransactionHash string
}

// Report is the outcome of NotifyTransition.
type Report struct {
	Success        bool               `json:"success"`
	Message        string             `json:"message"`
	UserEmailSent  bool               `json:"userEmailSent"`
	AdminEmailSent bool               `json:"adminEmailSent"`
	DispatchID     string             `json:"dispatchId,omitempty"`
	Outcomes       []notifier.Outcome `json:"outcomes,omitempty"`
}

// MaturityBatch is the input of ProcessMaturity.
type MaturityBatch struct {
	Matured []model.MaturedInvestment
	Summary string
}

type BatchReport struct {
	Success      bool               `json:"success"`
	Message      string             `json:"message"`
	EmailsSent   int                `json:"emailsSent"`
	EmailsFailed int                `json:"emailsFailed"`
	Outcomes     []notifier.Outcome `json:"outcomes,omitempty"`
}

// Coordinator validates transitions and asks the dispatcher to notify. It
// only observes state; it never writes records.
type Coordinator struct {
	d   Dispatcher
	log logx.Logger
	bus eventbus.Bus
}

func NewCoordinator(d Dispatcher, log logx.Logger, bus eventbus.Bus) *Coordinator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Coordinator{d: d, log: log.With(logx.String("comp", "lifecycle")), bus: bus}
}

// NotifyTransition sends the notifications for tr.
//
// A request notifies the user and the administrator; approve, reject and
// matured notify the user. Success means at least one delivery went out.
// Invalid input returns *ValidationError and sends nothing; an unexpected
// failure returns *CriticalError.
func (c *Coordinator) NotifyTransition(ctx context.Context, tr Transition) (rep Report, err error) {
	if verr := Validate(tr); verr != nil {
		return Report{}, verr
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.Error("notification panicked",
				logx.String("kind", string(tr.Kind)),
				logx.String("action", string(tr.Action)),
				logx.String("user", tr.User.ID),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			rep = Report{}
			err = &CriticalError{Action: actionNoun(tr), Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	events := eventsFor(tr)
	res := c.d.Dispatch(ctx, events...)

	rep = Report{
		Success:        res.Sent() > 0,
		UserEmailSent:  res.UserSent(),
		AdminEmailSent: res.AdminSent(),
		DispatchID:     res.ID,
		Outcomes:       res.Outcomes,
	}
	rep.Message = fmt.Sprintf("%s %s notifications processed (user: %t, admin: %t)",
		titleCase(string(tr.Kind)), tr.Action, rep.UserEmailSent, rep.AdminEmailSent)
	if !rep.Success {
		c.log.Warn("no notification delivered",
			logx.String("kind", string(tr.Kind)),
			logx.String("action", string(tr.Action)),
			logx.String("dispatch_id", res.ID),
		)
	}
	return rep, nil
}

// ProcessMaturity notifies every matured user plus the administrator. It
// always reports success; failures only show in the counts.
func (c *Coordinator) ProcessMaturity(ctx context.Context, b MaturityBatch) (rep BatchReport) {
	expected := len(b.Matured) + 1
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("maturity notification panicked", logx.Any("panic", r), logx.Int("matured", len(b.Matured)))
			rep = BatchReport{
				Success:      true,
				Message:      "Maturity batch processed with errors",
				EmailsFailed: expected,
			}
		}
	}()

	res := c.d.Dispatch(ctx, model.NotificationEvent{
		Kind:    model.KindMaturityBatch,
		Action:  model.ActionMatured,
		Matured: b.Matured,
		Summary: b.Summary,
	})
	rep = BatchReport{
		Success:      true,
		EmailsSent:   res.Sent(),
		EmailsFailed: res.Failed(),
		Outcomes:     res.Outcomes,
	}
	rep.Message = fmt.Sprintf("Maturity batch processed: %d matured, %d emails sent, %d failed",
		len(b.Matured), rep.EmailsSent, rep.EmailsFailed)
	eventbus.Emit(c.bus, eventbus.TopicMaturityProcessed, map[string]int{
		"matured": len(b.Matured),
		"sent":    rep.EmailsSent,
		"failed":  rep.EmailsFailed,
	})
	return rep
}

func eventsFor(tr Transition) []model.NotificationEvent {
	base := model.NotificationEvent{
		Kind:            tr.Kind,
		Action:          tr.Action,
		User:            tr.User,
		Investment:      tr.Investment,
		Withdrawal:      tr.Withdrawal,
		Reason:          strings.TrimSpace(tr.Reason),
		TransactionHash: strings.TrimSpace(tr.TransactionHash),
	}
	if tr.Action != model.ActionRequest {
		return []model.NotificationEvent{base}
	}
	alert := base
	alert.Action = model.ActionAdminAlert
	return []model.NotificationEvent{base, alert}
}

func actionNoun(tr Transition) string {
	return string(tr.Kind) + " " + string(tr.Action)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
