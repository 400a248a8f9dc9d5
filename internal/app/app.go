// Package app wires configuration, storage, delivery and the HTTP API into
// one supervised process.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"finpipe/internal/activity"
	"finpipe/internal/config"
	"finpipe/internal/eventbus"
	"finpipe/internal/httpapi"
	"finpipe/internal/lifecycle"
	"finpipe/internal/notifier"
	"finpipe/internal/render"
	"finpipe/internal/runtime/supervisor"
	"finpipe/internal/storage"
	"finpipe/internal/task/scheduler"
	logx "finpipe/pkg/logx"
	"finpipe/pkg/systemd"
)

const maturityJob = "maturity"

type Options struct {
	ConfigPath string
	// EnvFile is an optional dotenv file read before the environment.
	EnvFile string
	// Lookup replaces the OS keyring; nil uses it.
	Lookup config.Lookup
}

type App struct {
	cfgm    *config.ConfigManager
	secrets config.Secrets

	sup  *supervisor.Supervisor
	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store *storage.SQLStore

	chmu     sync.Mutex
	channels channelSet

	disp  *notifier.Dispatcher
	coord *lifecycle.Coordinator
	svc   *lifecycle.Service
	feed  *activity.Aggregator
	sched *scheduler.Service
	http  *httpapi.Server
}

func New(opts Options) (*App, error) {
	cfgm := config.NewConfigManager(opts.ConfigPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	sec, err := config.LoadSecrets(opts.EnvFile, opts.Lookup)
	if err != nil {
		return nil, err
	}

	// Bootstrap with alerts off: the sender only exists once the channels do.
	baseLogCfg := cfg.Logging.Logx()
	baseLogCfg.Alerts.Enabled = false
	logSvc, log := logx.New(baseLogCfg, nil)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	store, err := openStore(cfg, sec, log)
	if err != nil {
		logSvc.Close()
		return nil, err
	}

	chs, err := buildChannels(cfg, sec, log.With(logx.String("comp", "delivery")))
	if err != nil {
		closeStore(store)
		logSvc.Close()
		return nil, err
	}
	if chs.alerts != nil {
		logSvc.SetAlertSender(chs.alerts)
	}
	logSvc.Apply(cfg.Logging.Logx())

	eng, err := render.New(render.Options{Brand: cfg.Mail.Brand, DashboardURL: cfg.Mail.DashboardURL})
	if err != nil {
		closeStore(store)
		logSvc.Close()
		return nil, fmt.Errorf("loading templates: %w", err)
	}

	disp := notifier.New(notifierConfig(cfg, sec), eng, chs.user, log, bus, notifier.WithAdminChannel(chs.admin))
	coord := lifecycle.NewCoordinator(disp, log, bus)

	a := &App{
		cfgm:     cfgm,
		secrets:  sec,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		channels: chs,
		disp:     disp,
		coord:    coord,
	}

	a.sched = scheduler.New(scheduler.Config{
		Enabled:  cfg.Maturity.Enabled && store != nil,
		Timezone: cfg.Maturity.Timezone,
	}, log, bus)

	deps := httpapi.Deps{
		Notifier: coord,
		History:  disp.Snapshot,
		Health:   a.health,
	}
	if store != nil {
		a.svc = lifecycle.NewService(store, coord, log)
		a.feed = activity.NewAggregator(activity.DefaultSources(store), log, activity.Options{
			Timeout: cfg.Activity.TimeoutOrDefault(),
			Bus:     bus,
		})
		deps.Lifecycle = a.svc
		deps.Feed = a.feed

		if err := a.sched.Add(maturityJob, cfg.Maturity.ScheduleOrDefault(), cfg.Maturity.TimeoutOrDefault(), a.runMaturity); err != nil {
			closeStore(store)
			logSvc.Close()
			return nil, err
		}
	}
	a.http = httpapi.New(deps, log, httpapi.Options{Pprof: cfg.HTTP.Pprof})

	log.Info("app configured",
		logx.String("delivery", chs.mode),
		logx.Bool("storage", store != nil),
		logx.Bool("maturity_schedule", a.sched.Enabled()),
	)
	return a, nil
}

func notifierConfig(cfg *config.Config, sec config.Secrets) notifier.Config {
	return notifier.Config{
		SendTimeout: cfg.Notifier.SendTimeoutOrDefault(),
		AdminEmail:  sec.AdminEmail,
		HistorySize: cfg.Notifier.HistorySize,
	}
}

func (a *App) runMaturity(ctx context.Context) error {
	_, err := a.svc.RunMaturity(ctx, time.Now())
	return err
}

// Service is nil when storage is disabled.
func (a *App) Service() *lifecycle.Service { return a.svc }

// Feed is nil when storage is disabled.
func (a *App) Feed() *activity.Aggregator { return a.feed }

func (a *App) Log() logx.Logger { return a.log }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	cfg := a.cfgm.Get()
	read, write, shutdown := cfg.HTTP.Durations()
	a.sup.Go("http", func(c context.Context) error {
		return a.http.Serve(c, httpapi.ServeConfig{
			Addr:            cfg.HTTP.AddrOrDefault(),
			ReadTimeout:     read,
			WriteTimeout:    write,
			ShutdownTimeout: shutdown,
			Ready: func(addr string) {
				if ok, err := systemd.Ready(); err != nil {
					a.log.Warn("sd_notify ready failed", logx.Err(err))
				} else if ok {
					_, _ = systemd.Status("serving on " + addr)
				}
			},
		})
	})

	a.sched.Start(a.sup.Context())

	a.sup.GoRestart("systemd.watchdog", supervisor.RestartPolicy{MinBackoff: time.Second, MaxBackoff: 30 * time.Second}, systemd.Watchdog)

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go("eventbus.log", func(c context.Context) error {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return nil
				case e, ok := <-events:
					if !ok {
						return nil
					}
					// Keep this debug-level; every delivery emits one.
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.GoRestart("config.watch", supervisor.RestartPolicy{MinBackoff: time.Second, MaxBackoff: time.Minute}, a.cfgm.Watch)

	a.log.Info("app started")
	return nil
}

func (a *App) health() any {
	a.chmu.Lock()
	chs := a.channels
	a.chmu.Unlock()

	out := map[string]any{"delivery": chs.mode}
	if a.sup != nil {
		out["supervisor"] = a.sup.Snapshot()
	}
	out["scheduler"] = a.sched.Snapshot()
	if chs.breaker != nil {
		fails, open := chs.breaker.State()
		out["breaker"] = map[string]any{"failures": fails, "open": open}
	}
	return out
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.Close()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
				max = time.Until(dl)
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// The scheduler goes first so no maturity run starts while the
	// listener drains.
	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("supervisor", 15*time.Second, func(c context.Context) error { return a.sup.Stop(c) })
	step("storage", time.Second, func(context.Context) error { return closeStore(a.store) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// Close releases resources for one-shot commands that never call Start.
func (a *App) Close() {
	_ = closeStore(a.store)
	if a.logs != nil {
		a.logs.Close()
	}
}

func closeStore(st *storage.SQLStore) error {
	if st == nil {
		return nil
	}
	return st.Close()
}
