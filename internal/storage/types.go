package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free backend (json snapshot + jsonl journals)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled and Open returns
// (nil, nil); callers must treat a nil Store as memory-only.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RecipientRecord is the persisted shape of one recipient.
// Keep it compact and schema-stable.
type RecipientRecord struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	RealName string `json:"real_name,omitempty"`
}

// RecipientSnapshot is the full durable state of the recipient queues.
// It is written whole after every membership mutation; a crash loses at most
// the one in-flight recipient that was popped but not yet re-filed.
type RecipientSnapshot struct {
	Pending   []RecipientRecord `json:"pending"`
	Completed []RecipientRecord `json:"completed"`
}

// EventRecord is the persisted shape of one progress event.
type EventRecord struct {
	At        time.Time `json:"at"`
	Kind      string    `json:"kind"`
	Recipient string    `json:"recipient,omitempty"`
	Identity  string    `json:"identity,omitempty"`
	Message   string    `json:"message"`
}
