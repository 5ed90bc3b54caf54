package config

import (
	"errors"
	"fmt"
	"strings"
)

type Config struct {
	Listen  string        `json:"listen"`
	Logging LoggingConfig `json:"logging"`

	Storage StorageConfig `json:"storage"`

	// Quota controls the per-identity rolling send budget.
	Quota QuotaConfig `json:"quota"`

	// Dispatch controls worker timing knobs that are not per-job.
	Dispatch DispatchConfig `json:"dispatch"`

	Events    EventsConfig    `json:"events"`
	Transport TransportConfig `json:"transport"`

	// Maintenance is the cron spec for the periodic prune/trim/compact pass.
	Maintenance MaintenanceConfig `json:"maintenance"`

	// Identities is the seed sender registry. Identities found in the
	// environment (MAILBOT_EMAIL1/MAILBOT_APP_PASSWORD1, ...) are appended
	// after these, in index order.
	Identities []IdentityConfig `json:"identities"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Driver values:
//   - "file": snapshot + journal files, no extra dependencies at runtime
//   - "sqlite": single SQLite database file
//   - "" or "none": disabled; the engine runs memory-only
type StorageConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
	// BusyTimeout is a Go duration string (sqlite only).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type QuotaConfig struct {
	// DailyLimit is the max sends per identity inside the trailing window.
	DailyLimit int `json:"daily_limit"`
	// Window is a Go duration string; default "24h".
	Window string `json:"window,omitempty"`
}

type DispatchConfig struct {
	// Backoff is how long the worker sleeps when every identity is at quota.
	Backoff string `json:"backoff,omitempty"`
	// PausePoll is how often the worker re-checks a paused run.
	PausePoll string `json:"pause_poll,omitempty"`
}

type EventsConfig struct {
	// MaxLog bounds the durable progress-event log (oldest dropped first).
	MaxLog int `json:"max_log,omitempty"`
	// ReplayLimit is the default history depth served to new subscribers.
	ReplayLimit int `json:"replay_limit,omitempty"`
}

type TransportConfig struct {
	// DialTimeout is a Go duration string for the SMTP connection attempt.
	DialTimeout string `json:"dial_timeout,omitempty"`
}

type MaintenanceConfig struct {
	// Schedule is a robfig/cron spec; default "@hourly".
	Schedule string `json:"schedule,omitempty"`
}

type IdentityConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	// Host/Port override the endpoint inferred from the address domain.
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
	// Enabled is a pointer so "omitted" means true.
	Enabled *bool `json:"enabled,omitempty"`
}

func (ic IdentityConfig) IsEnabled() bool {
	return ic.Enabled == nil || *ic.Enabled
}

// Validate rejects configs that cannot produce a working process. It is also
// used as the Watch() gate so a broken edit never reaches subscribers.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Quota.DailyLimit < 0 {
		return errors.New("quota.daily_limit must be >= 0")
	}
	if _, err := ParseDurationOr("quota.window", c.Quota.Window, 0); err != nil {
		return err
	}
	if _, err := ParseDurationOr("dispatch.backoff", c.Dispatch.Backoff, 0); err != nil {
		return err
	}
	if _, err := ParseDurationOr("dispatch.pause_poll", c.Dispatch.PausePoll, 0); err != nil {
		return err
	}
	if _, err := ParseDurationOr("transport.dial_timeout", c.Transport.DialTimeout, 0); err != nil {
		return err
	}
	if _, err := ParseDurationOr("storage.busy_timeout", c.Storage.BusyTimeout, 0); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Identities))
	for i, ic := range c.Identities {
		addr := strings.TrimSpace(ic.Address)
		if addr == "" {
			return fmt.Errorf("identities[%d]: address is required", i)
		}
		if !strings.Contains(addr, "@") {
			return fmt.Errorf("identities[%d]: %q is not an address", i, addr)
		}
		if seen[addr] {
			return fmt.Errorf("identities[%d]: duplicate address %q", i, addr)
		}
		seen[addr] = true
	}
	return nil
}
