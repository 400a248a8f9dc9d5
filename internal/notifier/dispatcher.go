package notifier

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"finpipe/internal/delivery"
	"finpipe/internal/eventbus"
	"finpipe/internal/fanout"
	"finpipe/internal/model"
	"finpipe/internal/render"
	logx "finpipe/pkg/logx"
)

// Renderer produces message content for an event.
type Renderer interface {
	Render(ev model.NotificationEvent, generatedAt time.Time) (render.Message, error)
}

type Option func(*Dispatcher)

// WithAdminChannel routes admin deliveries through ch instead of the main
// channel (for example mail mirrored to Telegram).
func WithAdminChannel(ch delivery.Channel) Option {
	return func(d *Dispatcher) { d.admin = ch }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// Dispatcher fans lifecycle events out to their recipients.
//
// It is safe for concurrent use.
type Dispatcher struct {
	mu    sync.Mutex
	cfg   Config
	user  delivery.Channel
	admin delivery.Channel

	render Renderer
	log    logx.Logger
	bus    eventbus.Bus
	now    func() time.Time

	hmu     sync.Mutex
	history []Outcome
}

func New(cfg Config, r Renderer, ch delivery.Channel, log logx.Logger, bus eventbus.Bus, opts ...Option) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		user:   ch,
		admin:  ch,
		render: r,
		log:    log.With(logx.String("comp", "notifier")),
		bus:    bus,
		now:    time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	d.applyLocked(cfg)
	return d
}

// Apply swaps config at runtime.
func (d *Dispatcher) Apply(cfg Config) {
	d.mu.Lock()
	d.applyLocked(cfg)
	d.mu.Unlock()
}

func (d *Dispatcher) applyLocked(cfg Config) {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 300
	}
	if cfg.SendTimeout < 0 {
		cfg.SendTimeout = 0
	}
	cfg.AdminEmail = strings.TrimSpace(cfg.AdminEmail)
	d.cfg = cfg
}

// SetChannels replaces the delivery channels (credential rotation on reload).
// admin nil reuses user.
func (d *Dispatcher) SetChannels(user, admin delivery.Channel) {
	if admin == nil {
		admin = user
	}
	d.mu.Lock()
	d.user, d.admin = user, admin
	d.mu.Unlock()
}

// plannedSend is one recipient of one event.
type plannedSend struct {
	recipient Recipient
	address   string
	event     model.NotificationEvent
	channel   delivery.Channel
}

// Dispatch delivers every event to its recipients and returns one outcome per
// recipient, in plan order. It never fails as a whole.
func (d *Dispatcher) Dispatch(ctx context.Context, events ...model.NotificationEvent) Result {
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.Lock()
	cfg := d.cfg
	userCh, adminCh := d.user, d.admin
	d.mu.Unlock()

	var plan []plannedSend
	for _, ev := range events {
		plan = append(plan, planFor(ev, cfg.AdminEmail, userCh, adminCh)...)
	}

	res := Result{ID: uuid.NewString()}
	if len(plan) == 0 {
		return res
	}

	generatedAt := d.now()
	tasks := make([]fanout.Task[Outcome], len(plan))
	for i, p := range plan {
		p := p
		tasks[i] = func(ctx context.Context) (Outcome, error) {
			return d.deliver(ctx, cfg, p, generatedAt), nil
		}
	}
	settled := fanout.Settle(ctx, 0, tasks...)

	res.Outcomes = make([]Outcome, len(plan))
	for i, s := range settled {
		o := s.Value
		if s.Err != nil {
			// deliver panicked: the provider was called, or was about to be.
			o = d.outcome(plan[i], generatedAt)
			o.Attempted = true
			o.Error = s.Err.Error()
			o.Code = delivery.CodeUnknown
		}
		res.Outcomes[i] = o
		d.record(res.ID, o)
	}

	d.log.Info("dispatch done",
		logx.String("dispatch_id", res.ID),
		logx.Int("sent", res.Sent()),
		logx.Int("failed", res.Failed()),
	)
	return res
}

func (d *Dispatcher) deliver(ctx context.Context, cfg Config, p plannedSend, at time.Time) Outcome {
	o := d.outcome(p, at)
	if p.address == "" {
		o.Error = delivery.ErrNoRecipient.Error()
		o.Code = delivery.CodeInvalidRecipient
		return o
	}
	if p.channel == nil {
		o.Error = "no delivery channel configured"
		o.Code = delivery.CodeUnavailable
		return o
	}

	msg, err := d.render.Render(p.event, at)
	if err != nil {
		o.Error = err.Error()
		o.Code = delivery.CodeRejected
		return o
	}

	o.Attempted = true
	if cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.SendTimeout)
		defer cancel()
	}
	err = p.channel.Send(ctx, delivery.Message{
		To:      p.address,
		ReplyTo: msg.ReplyTo,
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
	})
	if err != nil {
		o.Error = err.Error()
		o.Code = delivery.Classify(err)
		return o
	}
	o.Succeeded = true
	return o
}

func (d *Dispatcher) outcome(p plannedSend, at time.Time) Outcome {
	o := Outcome{
		Recipient: p.recipient,
		Address:   p.address,
		Event:     p.event.Name(),
		RequestID: p.event.RequestID(),
		At:        at,
	}
	if p.channel != nil {
		o.Channel = p.channel.Name()
	}
	return o
}

func (d *Dispatcher) record(dispatchID string, o Outcome) {
	d.mu.Lock()
	limit := d.cfg.HistorySize
	d.mu.Unlock()

	d.hmu.Lock()
	d.history = append(d.history, o)
	if len(d.history) > limit {
		d.history = append([]Outcome(nil), d.history[len(d.history)-limit:]...)
	}
	d.hmu.Unlock()

	topic := eventbus.TopicNotifySent
	if !o.Succeeded {
		topic = eventbus.TopicNotifyFailed
		d.log.Warn("delivery failed",
			logx.String("dispatch_id", dispatchID),
			logx.String("event", o.Event),
			logx.String("recipient", string(o.Recipient)),
			logx.String("code", string(o.Code)),
			logx.String("err", o.Error),
		)
	}
	eventbus.Emit(d.bus, topic, o)
}

// Snapshot returns recent outcomes, oldest first.
func (d *Dispatcher) Snapshot() []Outcome {
	d.hmu.Lock()
	defer d.hmu.Unlock()
	return append([]Outcome(nil), d.history...)
}

func planFor(ev model.NotificationEvent, adminEmail string, userCh, adminCh delivery.Channel) []plannedSend {
	if ev.Kind == model.KindMaturityBatch {
		out := make([]plannedSend, 0, len(ev.Matured)+1)
		for _, m := range ev.Matured {
			out = append(out, plannedSend{
				recipient: RecipientUser,
				address:   strings.TrimSpace(m.User.Email),
				event:     MaturedEvent(m),
				channel:   userCh,
			})
		}
		return append(out, plannedSend{
			recipient: RecipientAdmin,
			address:   adminEmail,
			event:     ev,
			channel:   adminCh,
		})
	}

	switch ev.Action {
	case model.ActionRequest, model.ActionApprove, model.ActionReject, model.ActionMatured:
		return []plannedSend{{
			recipient: RecipientUser,
			address:   strings.TrimSpace(ev.User.Email),
			event:     ev,
			channel:   userCh,
		}}
	case model.ActionAdminAlert:
		return []plannedSend{{
			recipient: RecipientAdmin,
			address:   adminEmail,
			event:     ev,
			channel:   adminCh,
		}}
	}
	return nil
}

// MaturedEvent is the per-user notification for one batch entry.
func MaturedEvent(m model.MaturedInvestment) model.NotificationEvent {
	return model.NotificationEvent{
		Kind:   model.KindInvestment,
		Action: model.ActionMatured,
		User:   m.User,
		Investment: &model.InvestmentRequest{
			ID:             m.InvestmentID,
			PlanName:       m.PlanName,
			AmountUSD:      m.AmountInvested,
			ExpectedReturn: m.ReturnAmount,
			MaturityDate:   m.MaturityDate,
		},
	}
}
