package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"finpipe/internal/eventbus"
	logx "finpipe/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "0 6 * * *", want: "0 6 * * *"},
		{raw: "@daily", want: "@daily"},
		{raw: "cron:*/5 * * * *", want: "*/5 * * * *"},
		{raw: "55m", want: "@every 55m0s"},
		{raw: "02:30", want: "@every 2h30m0s"},
		{raw: "every:1h", want: "@every 1h0m0s"},
		{raw: "", wantErr: true},
		{raw: "soon", wantErr: true},
		{raw: "00:00", wantErr: true},
		{raw: "-5m", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			ps, err := ParseSchedule(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseSchedule(%q) = %+v, want error", tt.raw, ps)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSchedule(%q): %v", tt.raw, err)
			}
			if got := ps.CronSpec(); got != tt.want {
				t.Fatalf("CronSpec = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAddRejectsBadInput(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop(), nil)
	job := func(context.Context) error { return nil }
	if err := s.Add("", "@daily", 0, job); err == nil {
		t.Fatalf("expected name error")
	}
	if err := s.Add("maturity", "@daily", 0, nil); err == nil {
		t.Fatalf("expected job error")
	}
	if err := s.Add("maturity", "61 * * * *", 0, job); err == nil {
		t.Fatalf("expected cron parse error")
	}
}

func TestRunNowRecordsHistory(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	s := New(Config{}, logx.Nop(), bus)
	calls := 0
	if err := s.Add("maturity", "@daily", time.Second, func(ctx context.Context) error {
		calls++
		if _, ok := ctx.Deadline(); !ok {
			t.Errorf("job ctx has no deadline")
		}
		return errors.New("store offline")
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	err := s.RunNow(context.Background(), "maturity")
	if err == nil || !strings.Contains(err.Error(), "store offline") {
		t.Fatalf("RunNow err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d", calls)
	}

	snap := s.Snapshot()
	if len(snap.History) != 1 || snap.History[0].Trigger != "manual" || snap.History[0].Error == "" {
		t.Fatalf("history = %+v", snap.History)
	}
	select {
	case ev := <-events:
		if ev.Type != eventbus.TopicScheduleRun {
			t.Fatalf("event type = %q", ev.Type)
		}
	default:
		t.Fatalf("expected a schedule.run event")
	}

	if err := s.RunNow(context.Background(), "missing"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("RunNow missing = %v", err)
	}
}

func TestRunNowRecoversPanic(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop(), nil)
	_ = s.Add("boom", "@daily", 0, func(context.Context) error { panic("bad batch") })
	err := s.RunNow(context.Background(), "boom")
	if err == nil || !strings.Contains(err.Error(), "bad batch") {
		t.Fatalf("err = %v", err)
	}
}

func TestScheduledJobFires(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Timezone: "UTC"}, logx.Nop(), nil)
	fired := make(chan struct{}, 1)
	if err := s.Add("tick", "@every 1s", 0, func(context.Context) error {
		select {
		case fired <- struct{}{}:
		default:
		}
		return nil
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	snap := s.Snapshot()
	if !snap.Running || len(snap.Schedules) != 1 || snap.Schedules[0].Next.IsZero() {
		t.Fatalf("snapshot = %+v", snap)
	}

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatalf("scheduled job did not fire")
	}
}

func TestApplyDisableStopsCron(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true}, logx.Nop(), nil)
	_ = s.Add("tick", "@hourly", 0, func(context.Context) error { return nil })
	s.Start(context.Background())
	if !s.Snapshot().Running {
		t.Fatalf("expected running")
	}

	s.Apply(Config{Enabled: false})
	if s.Snapshot().Running {
		t.Fatalf("expected stopped after disable")
	}
	s.Apply(Config{Enabled: true, Timezone: "UTC"})
	if !s.Snapshot().Running {
		t.Fatalf("expected running after enable")
	}
	s.Stop(context.Background())
}
