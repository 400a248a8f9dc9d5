package lifecycle

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"finpipe/internal/delivery"
	"finpipe/internal/model"
	"finpipe/internal/notifier"
	"finpipe/internal/render"
	"finpipe/internal/storage"
	logx "finpipe/pkg/logx"
)

const adminEmail = "ops@acme.example"

type recordingChannel struct {
	mu     sync.Mutex
	sent   []delivery.Message
	failTo map[string]bool
}

func (c *recordingChannel) Name() string { return "recording" }

func (c *recordingChannel) Send(_ context.Context, m delivery.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failTo[m.To] {
		return errors.New("service unavailable")
	}
	c.sent = append(c.sent, m)
	return nil
}

func newCoordinator(ch delivery.Channel) *Coordinator {
	d := notifier.New(notifier.Config{AdminEmail: adminEmail}, render.MustNew(render.Options{}), ch, logx.Nop(), nil)
	return NewCoordinator(d, logx.Nop(), nil)
}

func goldPlan() Transition {
	return Transition{
		Kind:   model.KindInvestment,
		Action: model.ActionRequest,
		User:   model.UserRef{ID: "u1", Email: "a@b.com"},
		Investment: &model.InvestmentRequest{
			ID:             "inv-1",
			PlanName:       "Gold Plan",
			AmountUSD:      decimal.NewFromInt(5000),
			ExpectedReturn: decimal.NewFromInt(6000),
			DurationDays:   30,
			InterestRate:   decimal.RequireFromString("1.5"),
			PaymentMethod:  "btc",
			MaturityDate:   "2025-03-01",
		},
	}
}

func TestGoldPlanRequestNotifiesBoth(t *testing.T) {
	t.Parallel()
	ch := &recordingChannel{}
	rep, err := newCoordinator(ch).NotifyTransition(context.Background(), goldPlan())
	if err != nil {
		t.Fatal(err)
	}
	if !rep.Success || !rep.UserEmailSent || !rep.AdminEmailSent {
		t.Fatalf("report = %+v", rep)
	}
	if rep.Message != "Investment request notifications processed (user: true, admin: true)" {
		t.Fatalf("message = %q", rep.Message)
	}
	if len(ch.sent) != 2 {
		t.Fatalf("deliveries = %d, want 2", len(ch.sent))
	}
}

func TestAdminFailureStillSucceeds(t *testing.T) {
	t.Parallel()
	ch := &recordingChannel{failTo: map[string]bool{adminEmail: true}}
	rep, err := newCoordinator(ch).NotifyTransition(context.Background(), goldPlan())
	if err != nil {
		t.Fatal(err)
	}
	if !rep.Success || !rep.UserEmailSent || rep.AdminEmailSent || len(rep.Outcomes) != 2 {
		t.Fatalf("report = %+v", rep)
	}
	if !strings.HasSuffix(rep.Message, "(user: true, admin: false)") {
		t.Fatalf("message = %q", rep.Message)
	}
}

func TestAllDeliveriesFail(t *testing.T) {
	t.Parallel()
	ch := &recordingChannel{failTo: map[string]bool{adminEmail: true, "a@b.com": true}}
	rep, err := newCoordinator(ch).NotifyTransition(context.Background(), goldPlan())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Success {
		t.Fatalf("report = %+v, want failure", rep)
	}
}

func TestValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		mut   func(*Transition)
		field string
	}{
		{"missing user id", func(tr *Transition) { tr.User.ID = "" }, "user.id"},
		{"missing email", func(tr *Transition) { tr.User.Email = "" }, "user.email"},
		{"bad email", func(tr *Transition) { tr.User.Email = "nope" }, "user.email"},
		{"bad kind", func(tr *Transition) { tr.Kind = "loan" }, "type"},
		{"bad action", func(tr *Transition) { tr.Action = "cancel" }, "action"},
		{"admin alert direct", func(tr *Transition) { tr.Action = model.ActionAdminAlert }, "action"},
		{"missing request", func(tr *Transition) { tr.Investment = nil }, "request"},
		{"missing request id", func(tr *Transition) { tr.Investment.ID = "" }, "request.id"},
		{"zero amount", func(tr *Transition) { tr.Investment.AmountUSD = decimal.Zero }, "request.amount_usd"},
		{"withdrawal matured", func(tr *Transition) {
			tr.Kind = model.KindWithdrawal
			tr.Action = model.ActionMatured
		}, "action"},
	}
	for _, tt := range tests {
		ch := &recordingChannel{}
		tr := goldPlan()
		tt.mut(&tr)
		_, err := newCoordinator(ch).NotifyTransition(context.Background(), tr)
		var verr *ValidationError
		if !errors.As(err, &verr) || verr.Field != tt.field {
			t.Fatalf("%s: err = %v, want validation on %s", tt.name, err, tt.field)
		}
		if len(ch.sent) != 0 {
			t.Fatalf("%s: delivery attempted", tt.name)
		}
	}
}

type panickingDispatcher struct{}

func (panickingDispatcher) Dispatch(context.Context, ...model.NotificationEvent) notifier.Result {
	panic("nil map write")
}

func TestCriticalErrorBoundary(t *testing.T) {
	t.Parallel()
	c := NewCoordinator(panickingDispatcher{}, logx.Nop(), nil)
	tr := goldPlan()
	tr.Action = model.ActionApprove
	_, err := c.NotifyTransition(context.Background(), tr)
	var cerr *CriticalError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want *CriticalError", err)
	}
	if !strings.Contains(err.Error(), "investment approve itself was completed") {
		t.Fatalf("message = %q", err.Error())
	}

	rep := c.ProcessMaturity(context.Background(), MaturityBatch{Matured: make([]model.MaturedInvestment, 2)})
	if !rep.Success || rep.EmailsFailed != 3 {
		t.Fatalf("batch report after panic = %+v", rep)
	}
}

func TestProcessMaturityCounts(t *testing.T) {
	t.Parallel()
	ch := &recordingChannel{failTo: map[string]bool{"b@x.com": true}}
	c := newCoordinator(ch)
	batch := MaturityBatch{Summary: "nightly"}
	for _, e := range []string{"a@x.com", "b@x.com", ""} {
		batch.Matured = append(batch.Matured, model.MaturedInvestment{
			User:           model.UserRef{Email: e},
			InvestmentID:   "i",
			AmountInvested: decimal.NewFromInt(100),
			ReturnAmount:   decimal.NewFromInt(110),
		})
	}
	rep := c.ProcessMaturity(context.Background(), batch)
	if !rep.Success {
		t.Fatal("batch must always succeed")
	}
	if rep.EmailsSent+rep.EmailsFailed != len(batch.Matured)+1 {
		t.Fatalf("sent+failed = %d, want %d", rep.EmailsSent+rep.EmailsFailed, len(batch.Matured)+1)
	}
	if rep.EmailsSent != 2 || rep.EmailsFailed != 2 {
		t.Fatalf("sent/failed = %d/%d", rep.EmailsSent, rep.EmailsFailed)
	}
}

// ---- Service ----

func newService(t *testing.T, ch delivery.Channel) (*Service, *storage.SQLStore) {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "f.db")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.UpsertUser(context.Background(), model.User{ID: "u1", Email: "a@b.com", Name: "Ana"}); err != nil {
		t.Fatal(err)
	}
	svc := NewService(st, newCoordinator(ch), logx.Nop())
	svc.SetClock(func() time.Time { return time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC) })
	return svc, st
}

func TestServiceWriteSurvivesNotificationFailure(t *testing.T) {
	t.Parallel()
	ch := &recordingChannel{failTo: map[string]bool{adminEmail: true, "a@b.com": true}}
	svc, st := newService(t, ch)
	ctx := context.Background()

	res, err := svc.SubmitInvestment(ctx, "u1", InvestmentInput{
		PlanName:       "Gold Plan",
		AmountUSD:      decimal.NewFromInt(5000),
		ExpectedReturn: decimal.NewFromInt(6000),
		DurationDays:   30,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Warning == "" {
		t.Fatal("expected warning when nothing was delivered")
	}
	pending, _ := st.ListPendingInvestments(ctx, "u1")
	if len(pending) != 1 {
		t.Fatalf("pending rows = %d, want 1", len(pending))
	}

	rev, err := svc.ReviewInvestment(ctx, res.Pending.ID, Decision{Approve: true})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if rev.Investment == nil || rev.Investment.Status != model.InvestmentActive {
		t.Fatalf("investment = %+v", rev.Investment)
	}
	if _, err := svc.ReviewInvestment(ctx, res.Pending.ID, Decision{}); !errors.Is(err, storage.ErrInvalidState) {
		t.Fatalf("second review err = %v", err)
	}
}

func TestServiceWithdrawalFlow(t *testing.T) {
	t.Parallel()
	ch := &recordingChannel{}
	svc, _ := newService(t, ch)
	ctx := context.Background()

	if _, err := svc.SubmitWithdrawal(ctx, "u1", WithdrawalInput{Amount: decimal.NewFromInt(10)}); err == nil {
		t.Fatal("expected validation error")
	}
	res, err := svc.SubmitWithdrawal(ctx, "u1", WithdrawalInput{Amount: decimal.NewFromInt(250), PaymentMethod: "btc", WalletAddress: "bc1q"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Notification == nil || !res.Notification.AdminEmailSent {
		t.Fatalf("notification = %+v", res.Notification)
	}
	rev, err := svc.ReviewWithdrawal(ctx, res.Withdrawal.ID, Decision{Approve: true, TransactionHash: "0xabc"})
	if err != nil {
		t.Fatal(err)
	}
	if rev.Withdrawal.Status != model.StatusApproved || rev.Warning != "" {
		t.Fatalf("review = %+v", rev)
	}
	last := ch.sent[len(ch.sent)-1]
	if !strings.Contains(last.Text, "0xabc") {
		t.Fatalf("approval mail lacks tx hash: %s", last.Text)
	}
}

func TestServiceRunMaturity(t *testing.T) {
	t.Parallel()
	ch := &recordingChannel{}
	svc, st := newService(t, ch)
	ctx := context.Background()

	sub, err := svc.SubmitInvestment(ctx, "u1", InvestmentInput{
		PlanName: "Silver", AmountUSD: decimal.NewFromInt(1000), ExpectedReturn: decimal.NewFromInt(1200), DurationDays: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ReviewInvestment(ctx, sub.Pending.ID, Decision{Approve: true}); err != nil {
		t.Fatal(err)
	}

	res, err := svc.RunMaturity(ctx, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Completed) != 1 || res.Batch.EmailsSent != 2 || res.Batch.EmailsFailed != 0 {
		t.Fatalf("maturity = %+v", res)
	}
	invs, _ := st.ListInvestments(ctx, "u1")
	if invs[0].Status != model.InvestmentCompleted {
		t.Fatalf("status = %s", invs[0].Status)
	}

	again, err := svc.RunMaturity(ctx, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if len(again.Completed) != 0 || again.Batch.EmailsSent+again.Batch.EmailsFailed != 1 {
		t.Fatalf("second run = %+v", again)
	}
}
