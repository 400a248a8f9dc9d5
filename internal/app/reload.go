package app

import (
	"context"
	"slices"
	"strings"

	"finpipe/internal/config"
	"finpipe/internal/eventbus"
	"finpipe/internal/task/scheduler"
	logx "finpipe/pkg/logx"
	"finpipe/pkg/systemd"
)

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig pushes a validated config into the running components. The
// listener and the store keep their startup settings.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready() }()

	changed := func(name string) bool { return slices.Contains(sections, name) }

	if changed("http") || changed("storage") {
		a.log.Warn("http or storage config changed; restart required for changes to take effect")
	}

	if changed("notifier") || changed("mail") {
		chs, err := buildChannels(newCfg, a.secrets, a.log.With(logx.String("comp", "delivery")))
		if err != nil {
			a.log.Warn("invalid delivery config; keeping previous channels", logx.Err(err))
		} else {
			a.disp.SetChannels(chs.user, chs.admin)
			a.chmu.Lock()
			a.channels = chs
			a.chmu.Unlock()
			if chs.alerts != nil {
				a.logs.SetAlertSender(chs.alerts)
			}
		}
		a.disp.Apply(notifierConfig(newCfg, a.secrets))
	}

	if changed("logging") {
		a.logs.Apply(newCfg.Logging.Logx())
	}

	if changed("activity") && a.feed != nil {
		a.feed.SetTimeout(newCfg.Activity.TimeoutOrDefault())
	}

	if changed("maturity") && a.svc != nil {
		a.sched.Remove(maturityJob)
		if err := a.sched.Add(maturityJob, newCfg.Maturity.ScheduleOrDefault(), newCfg.Maturity.TimeoutOrDefault(), a.runMaturity); err != nil {
			a.log.Warn("invalid maturity schedule; job removed", logx.Err(err))
		}
		a.sched.Apply(scheduler.Config{Enabled: newCfg.Maturity.Enabled, Timezone: newCfg.Maturity.Timezone})
	}

	eventbus.Emit(a.bus, eventbus.TopicConfigReloaded, sections)
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
