package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
listen: "127.0.0.1:8080"
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: /var/lib/mailbot/state.db
  busy_timeout: 5s
quota:
  daily_limit: 200
  window: 12h
dispatch:
  backoff: 30s
  pause_poll: 2s
events:
  max_log: 500
  replay_limit: 100
transport:
  dial_timeout: 10s
maintenance:
  schedule: "@daily"
identities:
  - address: a@gmail.com
    password: app-pass
  - address: b@custom.io
    password: p2
    host: mail.custom.io
    port: 2525
    enabled: false
`)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:8080" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected top-level fields: %+v", cfg)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Quota.DailyLimit != 200 {
		t.Fatalf("unexpected storage/quota: %+v", cfg)
	}
	if len(cfg.Identities) != 2 {
		t.Fatalf("identities = %d, want 2", len(cfg.Identities))
	}
	if !cfg.Identities[0].IsEnabled() {
		t.Fatal("omitted enabled should mean true")
	}
	if cfg.Identities[1].IsEnabled() {
		t.Fatal("enabled: false not honored")
	}
	if cfg.Identities[1].Host != "mail.custom.io" || cfg.Identities[1].Port != 2525 {
		t.Fatalf("endpoint override lost: %+v", cfg.Identities[1])
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "listen: \":8080\"\nlisten_addr: \":9090\"\n")
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "negative limit",
			body: "quota:\n  daily_limit: -1\n",
			want: "daily_limit",
		},
		{
			name: "bad duration",
			body: "quota:\n  window: soon\n",
			want: "quota.window",
		},
		{
			name: "negative duration",
			body: "dispatch:\n  backoff: -5s\n",
			want: "dispatch.backoff",
		},
		{
			name: "identity without address",
			body: "identities:\n  - password: p\n",
			want: "address is required",
		},
		{
			name: "identity not an address",
			body: "identities:\n  - address: nodomain\n    password: p\n",
			want: "not an address",
		},
		{
			name: "duplicate identity",
			body: "identities:\n  - address: a@x.com\n    password: p\n  - address: a@x.com\n    password: q\n",
			want: "duplicate",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := writeConfig(t, tt.body)
			_, err := NewManager(path).Load()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestParseDurationOr(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationOr("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("empty: %v, %v", d, err)
	}
	if d, err := ParseDurationOr("x", "0", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("zero: %v, %v", d, err)
	}
	if d, err := ParseDurationOr("x", "90s", time.Minute); err != nil || d != 90*time.Second {
		t.Fatalf("90s: %v, %v", d, err)
	}
	if _, err := ParseDurationOr("x", "-1s", time.Minute); err == nil {
		t.Fatal("negative should be rejected")
	}
	if _, err := ParseDurationOr("x", "later", time.Minute); err == nil {
		t.Fatal("garbage should be rejected")
	}
}

func TestIdentitiesFromEnv(t *testing.T) {
	t.Setenv("MAILBOT_EMAIL1", "one@gmail.com")
	t.Setenv("MAILBOT_APP_PASSWORD1", "p1")
	t.Setenv("MAILBOT_EMAIL2", "Two@gmail.com")
	t.Setenv("MAILBOT_APP_PASSWORD2", "p2")
	// Index 3 is missing, so index 4 must not be picked up.
	t.Setenv("MAILBOT_EMAIL4", "four@gmail.com")
	t.Setenv("MAILBOT_APP_PASSWORD4", "p4")

	got := IdentitiesFromEnv(nil)
	if len(got) != 2 {
		t.Fatalf("identities = %d, want 2 (scan stops at the gap)", len(got))
	}
	if got[0].Address != "one@gmail.com" || got[1].Address != "Two@gmail.com" {
		t.Fatalf("unexpected identities: %+v", got)
	}

	// File config wins over the environment, case-insensitively.
	got = IdentitiesFromEnv([]IdentityConfig{{Address: "two@gmail.com", Password: "file"}})
	if len(got) != 1 || got[0].Address != "one@gmail.com" {
		t.Fatalf("expected only the non-duplicate, got %+v", got)
	}
}

func TestIdentitiesFromEnvMissingPassword(t *testing.T) {
	t.Setenv("MAILBOT_EMAIL1", "one@gmail.com")
	t.Setenv("MAILBOT_APP_PASSWORD1", "")
	if got := IdentitiesFromEnv(nil); len(got) != 0 {
		t.Fatalf("half a pair should stop the scan, got %+v", got)
	}
}
