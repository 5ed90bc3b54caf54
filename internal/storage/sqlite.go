package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"mailbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- recipients ----

func (s *sqliteStore) SaveRecipients(ctx context.Context, snap RecipientSnapshot) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM recipients`); err != nil {
		return err
	}
	ins, err := tx.PrepareContext(ctx,
		`INSERT INTO recipients(queue, pos, email, name, real_name) VALUES(?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer ins.Close()

	for i, r := range snap.Pending {
		if _, err := ins.ExecContext(ctx, "pending", i, r.Email, nullStr(r.Name), nullStr(r.RealName)); err != nil {
			return err
		}
	}
	for i, r := range snap.Completed {
		if _, err := ins.ExecContext(ctx, "completed", i, r.Email, nullStr(r.Name), nullStr(r.RealName)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) LoadRecipients(ctx context.Context) (RecipientSnapshot, error) {
	var snap RecipientSnapshot
	if s == nil || s.db == nil {
		return snap, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT queue, email, COALESCE(name,''), COALESCE(real_name,'') FROM recipients ORDER BY queue, pos`)
	if err != nil {
		return snap, err
	}
	defer rows.Close()

	for rows.Next() {
		var queue string
		var r RecipientRecord
		if err := rows.Scan(&queue, &r.Email, &r.Name, &r.RealName); err != nil {
			return snap, err
		}
		if queue == "completed" {
			snap.Completed = append(snap.Completed, r)
		} else {
			snap.Pending = append(snap.Pending, r)
		}
	}
	return snap, rows.Err()
}

// ---- usage ----

func (s *sqliteStore) AppendUsage(ctx context.Context, identityID string, at time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if strings.TrimSpace(identityID) == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage(identity, at) VALUES(?,?)`, identityID, at.UnixMilli())
	return err
}

func (s *sqliteStore) LoadUsage(ctx context.Context) (map[string][]time.Time, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT identity, at FROM usage ORDER BY identity, at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string][]time.Time{}
	for rows.Next() {
		var id string
		var ms int64
		if err := rows.Scan(&id, &ms); err != nil {
			return nil, err
		}
		out[id] = append(out[id], time.UnixMilli(ms))
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneUsage(ctx context.Context, before time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM usage WHERE at < ?`, before.UnixMilli())
	return err
}

// ---- events ----

func (s *sqliteStore) AppendEvent(ctx context.Context, ev EventRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(at, kind, recipient, identity, message) VALUES(?,?,?,?,?)`,
		ev.At.Format(time.RFC3339Nano), ev.Kind, nullStr(ev.Recipient), nullStr(ev.Identity), ev.Message)
	return err
}

func (s *sqliteStore) RecentEvents(ctx context.Context, limit int) ([]EventRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = maxEventsInMemory
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, kind, COALESCE(recipient,''), COALESCE(identity,''), message
		 FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var ev EventRecord
		var at string
		if err := rows.Scan(&at, &ev.Kind, &ev.Recipient, &ev.Identity, &ev.Message); err != nil {
			return nil, err
		}
		if t, perr := time.Parse(time.RFC3339Nano, at); perr == nil {
			ev.At = t
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Query returned newest-first; callers expect oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *sqliteStore) TrimEvents(ctx context.Context, keep int) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if keep < 0 {
		keep = 0
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE id NOT IN (SELECT id FROM events ORDER BY id DESC LIMIT ?)`, keep)
	return err
}

func (s *sqliteStore) Compact(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
