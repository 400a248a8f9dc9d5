package config

import (
	"fmt"
	"strings"
	"time"

	"finpipe/internal/delivery"
	"finpipe/internal/storage"
	logx "finpipe/pkg/logx"
)

// Config is the file part of the service configuration. Secrets never live
// here; see Secrets.
type Config struct {
	HTTP     HTTPConfig     `json:"http"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Notifier NotifierConfig `json:"notifier"`
	Mail     MailConfig     `json:"mail"`
	Activity ActivityConfig `json:"activity"`
	Maturity MaturityConfig `json:"maturity"`
}

// HTTPConfig controls the API listener. Durations are Go duration strings.
type HTTPConfig struct {
	Addr            string `json:"addr"` // default ":8080"
	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
	// Pprof mounts /debug/pprof for loopback clients only.
	Pprof bool `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Alerts  LoggingAlerts `json:"alerts"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlerts forwards log lines at or above MinLevel to the admin channel.
type LoggingAlerts struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the record store. The postgres DSN comes from
// FINPIPE_DATABASE_DSN.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/finpipe.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// NotifierConfig controls delivery.
//
// Defaults (when fields are omitted/zero):
//   - send_timeout: "15s"
//   - rate_per_sec: 0 (unlimited)
//   - history_size: 300
//   - breaker.trip: 5 consecutive failures (negative disables)
type NotifierConfig struct {
	// DevMode forces the logging channel. FINPIPE_DEV_MODE=true has the same effect.
	DevMode     bool           `json:"dev_mode"`
	SendTimeout string         `json:"send_timeout,omitempty"`
	RatePerSec  int            `json:"rate_per_sec,omitempty"`
	HistorySize int            `json:"history_size,omitempty"`
	Breaker     BreakerConfig  `json:"breaker"`
	Telegram    TelegramTarget `json:"telegram"`
}

type BreakerConfig struct {
	Trip       int    `json:"trip,omitempty"`
	BaseDelay  string `json:"base_delay,omitempty"`
	MaxDelay   string `json:"max_delay,omitempty"`
	ResetAfter string `json:"reset_after,omitempty"`
}

// TelegramTarget mirrors admin messages and log alerts to a chat. The bot
// token comes from FINPIPE_TELEGRAM_TOKEN.
type TelegramTarget struct {
	Enabled  bool  `json:"enabled"`
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty"`
}

// MailConfig describes the SMTP relay and the message branding. The sender
// address and the relay password come from the environment.
type MailConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port,omitempty"` // default 587
	Username     string `json:"username,omitempty"`
	FromName     string `json:"from_name,omitempty"`
	DialTimeout  string `json:"dial_timeout,omitempty"`
	Brand        string `json:"brand,omitempty"`
	DashboardURL string `json:"dashboard_url,omitempty"`
}

type ActivityConfig struct {
	// Timeout bounds one whole aggregation. "0s" disables it.
	Timeout string `json:"timeout,omitempty"`
}

// MaturityConfig controls the scheduled maturity batch.
type MaturityConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a cron expression or an "@every"/"@daily" descriptor.
	Schedule string `json:"schedule"`
	Timezone string `json:"timezone,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

const (
	DefaultHTTPAddr        = ":8080"
	DefaultSendTimeout     = 15 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultMaturitySpec    = "0 6 * * *"
)

// Validate checks the fields that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	durations := map[string]string{
		"http.read_timeout":            c.HTTP.ReadTimeout,
		"http.write_timeout":           c.HTTP.WriteTimeout,
		"http.shutdown_timeout":        c.HTTP.ShutdownTimeout,
		"storage.busy_timeout":         c.Storage.BusyTimeout,
		"notifier.send_timeout":        c.Notifier.SendTimeout,
		"notifier.breaker.base_delay":  c.Notifier.Breaker.BaseDelay,
		"notifier.breaker.max_delay":   c.Notifier.Breaker.MaxDelay,
		"notifier.breaker.reset_after": c.Notifier.Breaker.ResetAfter,
		"mail.dial_timeout":            c.Mail.DialTimeout,
		"activity.timeout":             c.Activity.Timeout,
		"maturity.timeout":             c.Maturity.Timeout,
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "none", "sqlite", "sqlite3", "postgres", "postgresql", "pgx":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if c.Notifier.RatePerSec < 0 {
		return fmt.Errorf("notifier.rate_per_sec must be >= 0")
	}
	if c.Notifier.Telegram.Enabled && c.Notifier.Telegram.ChatID == 0 {
		return fmt.Errorf("notifier.telegram.chat_id is required when telegram is enabled")
	}
	if tz := strings.TrimSpace(c.Maturity.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("maturity.timezone: %w", err)
		}
	}
	return nil
}

func (c LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
		Alerts: logx.AlertConfig{
			Enabled:    c.Alerts.Enabled,
			MinLevel:   c.Alerts.MinLevel,
			RatePerSec: c.Alerts.RatePerSec,
		},
	}
}

// StorageOptions merges the file section with the DSN secret.
func (c *Config) StorageOptions(dsn string) storage.Config {
	busy, _ := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	return storage.Config{
		Driver:      c.Storage.Driver,
		Path:        c.Storage.Path,
		DSN:         dsn,
		BusyTimeout: busy,
	}
}

func (c BreakerConfig) Delivery() delivery.BreakerConfig {
	base, _ := ParseDurationField("notifier.breaker.base_delay", c.BaseDelay)
	maxDelay, _ := ParseDurationField("notifier.breaker.max_delay", c.MaxDelay)
	reset, _ := ParseDurationField("notifier.breaker.reset_after", c.ResetAfter)
	return delivery.BreakerConfig{Trip: c.Trip, BaseDelay: base, MaxDelay: maxDelay, ResetAfter: reset}
}

// MailOptions merges the relay section with the sender and password secrets.
func (c *Config) MailOptions(s Secrets) delivery.MailConfig {
	dial, _ := ParseDurationField("mail.dial_timeout", c.Mail.DialTimeout)
	return delivery.MailConfig{
		Host:        c.Mail.Host,
		Port:        c.Mail.Port,
		Username:    c.Mail.Username,
		Password:    s.MailAPIKey,
		From:        s.MailFrom,
		FromName:    c.Mail.FromName,
		DialTimeout: dial,
	}
}

func (c NotifierConfig) SendTimeoutOrDefault() time.Duration {
	d, err := ParseDurationOrDefault("notifier.send_timeout", c.SendTimeout, DefaultSendTimeout)
	if err != nil {
		return DefaultSendTimeout
	}
	return d
}

// Durations returns the parsed listener timeouts.
func (c HTTPConfig) Durations() (read, write, shutdown time.Duration) {
	read, _ = ParseDurationField("http.read_timeout", c.ReadTimeout)
	write, _ = ParseDurationField("http.write_timeout", c.WriteTimeout)
	shutdown, _ = ParseDurationOrDefault("http.shutdown_timeout", c.ShutdownTimeout, DefaultShutdownTimeout)
	return read, write, shutdown
}

func (c HTTPConfig) AddrOrDefault() string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return DefaultHTTPAddr
}

func (c MaturityConfig) ScheduleOrDefault() string {
	if s := strings.TrimSpace(c.Schedule); s != "" {
		return s
	}
	return DefaultMaturitySpec
}

// TimeoutOrDefault is 10s when unset; an explicit "0s" disables the bound.
func (c ActivityConfig) TimeoutOrDefault() time.Duration {
	if strings.TrimSpace(c.Timeout) == "" {
		return 10 * time.Second
	}
	d, _ := ParseDurationField("activity.timeout", c.Timeout)
	return d
}

func (c MaturityConfig) TimeoutOrDefault() time.Duration {
	d, err := ParseDurationOrDefault("maturity.timeout", c.Timeout, 5*time.Minute)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}
