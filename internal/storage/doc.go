// Package storage provides the persistence layer behind the dispatch engine.
//
// It currently records:
//   - Recipient queue snapshots (pending + completed, rewritten on mutation)
//   - Per-identity usage timestamps (append-only, pruned past the quota window)
//   - The bounded progress-event log (replay source for reconnecting clients)
package storage
