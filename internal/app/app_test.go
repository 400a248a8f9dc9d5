package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func devEnv(t *testing.T) {
	t.Helper()
	t.Setenv("FINPIPE_DEV_MODE", "true")
	t.Setenv("FINPIPE_ADMIN_EMAIL", "ops@acme.example")
	t.Setenv("FINPIPE_KEYRING", "false")
}

func sqliteConfig(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "finpipe.db")
	return `{
  "http": {"addr": "127.0.0.1:0"},
  "logging": {"level": "error"},
  "storage": {"driver": "sqlite", "path": ` + quote(db) + `},
  "maturity": {"enabled": true, "schedule": "@daily"}
}`
}

func quote(s string) string { return `"` + filepath.ToSlash(s) + `"` }

func TestNewDevModeWiresEverything(t *testing.T) {
	devEnv(t)
	a, err := New(Options{ConfigPath: writeConfig(t, sqliteConfig(t))})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if a.Service() == nil || a.Feed() == nil {
		t.Fatalf("store-backed components missing")
	}
	if a.channels.mode != "dev" {
		t.Fatalf("delivery mode = %q, want dev", a.channels.mode)
	}
	snap := a.sched.Snapshot()
	if !snap.Enabled || len(snap.Schedules) != 1 || snap.Schedules[0].Name != maturityJob {
		t.Fatalf("scheduler = %+v", snap)
	}
}

func TestNewWithoutStorage(t *testing.T) {
	devEnv(t)
	a, err := New(Options{ConfigPath: writeConfig(t, `{"logging":{"level":"error"},"storage":{"driver":"none"},"maturity":{"enabled":true}}`)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if a.Service() != nil || a.Feed() != nil {
		t.Fatalf("expected no store-backed components")
	}
	if a.sched.Enabled() {
		t.Fatalf("maturity schedule must stay off without a store")
	}
}

func TestNewFallsBackToLogChannelWithoutCredential(t *testing.T) {
	t.Setenv("FINPIPE_DEV_MODE", "false")
	t.Setenv("FINPIPE_MAIL_API_KEY", "")
	t.Setenv("FINPIPE_MAIL_FROM", "")
	t.Setenv("FINPIPE_KEYRING", "false")

	a, err := New(Options{ConfigPath: writeConfig(t, `{"logging":{"level":"error"},"mail":{"host":"smtp.example.com"}}`)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()
	if a.channels.mode != "log" {
		t.Fatalf("delivery mode = %q, want log", a.channels.mode)
	}
}

func TestNewUsesSMTPWithCredential(t *testing.T) {
	t.Setenv("FINPIPE_DEV_MODE", "false")
	t.Setenv("FINPIPE_MAIL_API_KEY", "key-123")
	t.Setenv("FINPIPE_MAIL_FROM", "noreply@acme.example")
	t.Setenv("FINPIPE_KEYRING", "false")

	a, err := New(Options{ConfigPath: writeConfig(t, `{"logging":{"level":"error"},"mail":{"host":"smtp.example.com"}}`)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()
	if a.channels.mode != "smtp" || a.channels.breaker == nil {
		t.Fatalf("channels = %+v", a.channels)
	}
}

func TestPostgresNeedsDSN(t *testing.T) {
	devEnv(t)
	t.Setenv("FINPIPE_DATABASE_DSN", "")
	_, err := New(Options{ConfigPath: writeConfig(t, `{"storage":{"driver":"postgres"}}`)})
	if err == nil {
		t.Fatalf("expected missing DSN error")
	}
}

func TestStartStop(t *testing.T) {
	devEnv(t)
	t.Setenv("NOTIFY_SOCKET", "")
	a, err := New(Options{ConfigPath: writeConfig(t, sqliteConfig(t))})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Stop(ctx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := a.Err(); err != nil {
		t.Fatalf("Err after clean stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatalf("Done not closed after Stop")
	}
}

func TestApplyConfig(t *testing.T) {
	devEnv(t)
	a, err := New(Options{ConfigPath: writeConfig(t, sqliteConfig(t))})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	oldCfg := a.cfgm.Get()
	next := *oldCfg
	next.Notifier.RatePerSec = 3
	next.Maturity.Enabled = false
	next.Maturity.Schedule = "2h"
	next.Activity.Timeout = "0s"

	before := a.channels.user
	a.applyConfig(oldCfg, &next)

	if a.channels.user == before {
		t.Fatalf("notifier change did not rebuild channels")
	}
	if a.sched.Enabled() {
		t.Fatalf("scheduler still enabled")
	}
	snap := a.sched.Snapshot()
	if len(snap.Schedules) != 1 || snap.Schedules[0].Spec != "@every 2h0m0s" {
		t.Fatalf("schedules = %+v", snap.Schedules)
	}

	h, ok := a.health().(map[string]any)
	if !ok || h["delivery"] != "dev" {
		t.Fatalf("health = %v", a.health())
	}
}

func TestApplyConfigNoChanges(t *testing.T) {
	devEnv(t)
	a, err := New(Options{ConfigPath: writeConfig(t, sqliteConfig(t))})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	cfg := a.cfgm.Get()
	same := *cfg
	before := a.channels.user
	a.applyConfig(cfg, &same)
	if a.channels.user != before {
		t.Fatalf("unchanged config rebuilt channels")
	}
}
