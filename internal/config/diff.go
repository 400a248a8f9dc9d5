package config

import (
	"sort"
	"strings"

	logx "finpipe/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// attrs for logging. Secrets are not part of Config, so nothing here can
// leak a credential.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.HTTP != newCfg.HTTP {
		// the listener is not rebound on reload
		changed = append(changed, "http")
		attrs = append(attrs, logx.String("http.addr", newCfg.HTTP.AddrOrDefault()), logx.Bool("http.restart_required", true))
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alerts_enabled", newCfg.Logging.Alerts.Enabled),
		)
	}

	if !strings.EqualFold(strings.TrimSpace(oldCfg.Storage.Driver), strings.TrimSpace(newCfg.Storage.Driver)) ||
		strings.TrimSpace(oldCfg.Storage.Path) != strings.TrimSpace(newCfg.Storage.Path) ||
		strings.TrimSpace(oldCfg.Storage.BusyTimeout) != strings.TrimSpace(newCfg.Storage.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.Bool("storage.restart_required", true),
		)
	}

	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.dev_mode", newCfg.Notifier.DevMode),
			logx.Duration("notifier.send_timeout", newCfg.Notifier.SendTimeoutOrDefault()),
			logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
			logx.Int("notifier.breaker_trip", newCfg.Notifier.Breaker.Trip),
			logx.Bool("notifier.telegram_enabled", newCfg.Notifier.Telegram.Enabled),
		)
	}

	if oldCfg.Mail != newCfg.Mail {
		changed = append(changed, "mail")
		attrs = append(attrs,
			logx.String("mail.host", strings.TrimSpace(newCfg.Mail.Host)),
			logx.Int("mail.port", newCfg.Mail.Port),
			logx.Bool("mail.username_set", strings.TrimSpace(newCfg.Mail.Username) != ""),
			logx.String("mail.brand", newCfg.Mail.Brand),
		)
	}

	if oldCfg.Activity != newCfg.Activity {
		changed = append(changed, "activity")
		attrs = append(attrs, logx.String("activity.timeout", strings.TrimSpace(newCfg.Activity.Timeout)))
	}

	if oldCfg.Maturity != newCfg.Maturity {
		changed = append(changed, "maturity")
		attrs = append(attrs,
			logx.Bool("maturity.enabled", newCfg.Maturity.Enabled),
			logx.String("maturity.schedule", newCfg.Maturity.ScheduleOrDefault()),
			logx.String("maturity.timezone", strings.TrimSpace(newCfg.Maturity.Timezone)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
