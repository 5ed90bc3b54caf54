package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"mailbot/pkg/logx"
)

// Store is the persistence API used by the dispatch engine.
//
// All methods must be safe for concurrent use. Implementations are expected
// to complete quickly; the engine calls them inline from its hot paths.
type Store interface {
	// SaveRecipients atomically replaces the durable recipient snapshot.
	SaveRecipients(ctx context.Context, snap RecipientSnapshot) error
	// LoadRecipients returns the last snapshot; missing state loads as empty.
	LoadRecipients(ctx context.Context) (RecipientSnapshot, error)

	// AppendUsage durably records one send for an identity. It must return
	// only after the record is on disk (the quota check depends on it).
	AppendUsage(ctx context.Context, identityID string, at time.Time) error
	LoadUsage(ctx context.Context) (map[string][]time.Time, error)
	// PruneUsage drops usage entries strictly older than before.
	PruneUsage(ctx context.Context, before time.Time) error

	AppendEvent(ctx context.Context, ev EventRecord) error
	// RecentEvents returns up to limit events, oldest first.
	RecentEvents(ctx context.Context, limit int) ([]EventRecord, error)
	// TrimEvents drops all but the newest keep events.
	TrimEvents(ctx context.Context, keep int) error

	// Compact reclaims journal/file space. Safe to call on a schedule.
	Compact(ctx context.Context) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
