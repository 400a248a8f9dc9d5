package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"finpipe/internal/eventbus"
	logx "finpipe/pkg/logx"
)

var ErrUnknownJob = errors.New("unknown job")

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log.With(logx.String("comp", "scheduler")),
		bus: bus,
		now: time.Now,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		baseCtx: context.Background(),
	}
}

// Add registers job under name, replacing any job with the same name.
//
// Supported schedule formats:
//   - Cron: "0 6 * * *", "@daily", "@every 1h"
//   - Interval duration: "55m", "2h30m"
//   - Interval HH:MM: "02:30" (2 hours 30 minutes)
func (s *Service) Add(name, schedule string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	spec := ps.CronSpec()
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("schedule %q: %w", schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	s.defs = append(s.defs, scheduleDef{name: name, spec: spec, timeout: timeout, job: job})
	if s.c != nil {
		if err := s.addCronLocked(&s.defs[len(s.defs)-1]); err != nil {
			return err
		}
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", spec), logx.Duration("timeout", timeout))
	return nil
}

func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(strings.TrimSpace(name))
}

func (s *Service) removeLocked(name string) bool {
	for i, d := range s.defs {
		if d.name != name {
			continue
		}
		if s.c != nil && d.entryID != 0 {
			s.c.Remove(d.entryID)
		}
		s.defs = append(s.defs[:i], s.defs[i+1:]...)
		return true
	}
	return false
}

// Enabled reports the current config flag.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Start begins triggering when enabled. ctx is the parent of every job run.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	s.baseCtx = ctx
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return
	}
	s.startLocked()
}

func (s *Service) startLocked() {
	if s.c != nil {
		return
	}
	s.loc = s.loadLocationLocked()
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for i := range s.defs {
		if err := s.addCronLocked(&s.defs[i]); err != nil {
			s.log.Error("schedule register failed", logx.String("name", s.defs[i].name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) stopLocked(ctx context.Context) {
	c := s.c
	s.c = nil
	if c == nil {
		return
	}
	for i := range s.defs {
		s.defs[i].entryID = 0
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Stop halts triggering and waits for running jobs until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	s.started = false
	s.stopLocked(ctx)
	s.mu.Unlock()
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// Apply swaps config. A timezone or enabled change restarts cron.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cfg
	s.cfg = cfg
	if !s.started {
		return
	}
	switch {
	case !cfg.Enabled:
		s.stopLocked(context.Background())
	case !old.Enabled || strings.TrimSpace(old.Timezone) != strings.TrimSpace(cfg.Timezone):
		s.stopLocked(context.Background())
		s.startLocked()
	}
}

// RunNow executes the named job synchronously outside its schedule.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var def *scheduleDef
	for i := range s.defs {
		if s.defs[i].name == name {
			d := s.defs[i]
			def = &d
			break
		}
	}
	s.mu.Unlock()
	if def == nil {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, *def, "manual")
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	def := *d
	ctx := s.baseCtx
	eid, err := s.c.AddFunc(d.spec, func() {
		_ = s.run(ctx, def, "schedule")
	})
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

func (s *Service) run(ctx context.Context, d scheduleDef, trigger string) (err error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	started := s.now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panicked", logx.String("name", d.name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
		s.finish(d.name, trigger, started, err)
	}()
	return d.job(ctx)
}

func (s *Service) finish(name, trigger string, started time.Time, err error) {
	r := Run{Name: name, Trigger: trigger, Started: started, Took: s.now().Sub(started)}
	if err != nil {
		r.Error = err.Error()
		s.log.Warn("job failed", logx.String("name", name), logx.String("trigger", trigger), logx.Duration("took", r.Took), logx.Err(err))
	} else {
		s.log.Debug("job finished", logx.String("name", name), logx.String("trigger", trigger), logx.Duration("took", r.Took))
	}

	s.hmu.Lock()
	s.history = append(s.history, r)
	if over := len(s.history) - defaultHistorySize; over > 0 {
		s.history = append([]Run(nil), s.history[over:]...)
	}
	s.hmu.Unlock()

	eventbus.Emit(s.bus, eventbus.TopicScheduleRun, r)
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// cronLogger routes robfig/cron diagnostics into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
