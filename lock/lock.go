// Package lock provides named, timeout-bound advisory locks keyed by
// source id. A lock only guards against the orchestrator running twice
// for the same source; it does not serialize entity store writes.
package lock

import (
	"database/sql"
	"sync"
	"time"

	"github.com/quarrylabs/quarry/errors"
)

// Notifier is told whenever the set of locked sources changes, so
// dependent views (listings, UIs) can invalidate whatever they cache.
type Notifier interface {
	LocksChanged()
}

// Manager acquires and releases per-source import locks backed by the
// source_locks table. Expired locks are treated as absent.
type Manager struct {
	db       *sql.DB
	mu       sync.Mutex
	notifier Notifier
}

// NewManager creates a lock manager. notifier may be nil.
func NewManager(db *sql.DB, notifier Notifier) *Manager {
	return &Manager{db: db, notifier: notifier}
}

// Acquire installs a lock for key expiring after timeout. Returns false
// when a live lock already exists; callers must treat that as fatal for
// the current import attempt.
func (m *Manager) Acquire(key string, timeout time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()

	// Drop an expired lock before attempting the insert.
	if _, err := m.db.Exec(
		"DELETE FROM source_locks WHERE key = ? AND expires_at <= ?", key, now); err != nil {
		return false, errors.Wrap(err, "failed to expire stale lock")
	}

	_, err := m.db.Exec(
		"INSERT INTO source_locks (key, acquired_at, expires_at) VALUES (?, ?, ?)",
		key, now, now.Add(timeout))
	if err != nil {
		// Primary key conflict: a live lock holds the key.
		var exists bool
		checkErr := m.db.QueryRow(
			"SELECT EXISTS(SELECT 1 FROM source_locks WHERE key = ? AND expires_at > ?)",
			key, now).Scan(&exists)
		if checkErr == nil && exists {
			return false, nil
		}
		return false, errors.Wrap(err, "failed to acquire lock")
	}

	m.notify()
	return true, nil
}

// Release removes the lock for key. Idempotent: releasing a lock that
// does not exist is not an error.
func (m *Manager) Release(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.db.Exec("DELETE FROM source_locks WHERE key = ?", key); err != nil {
		return errors.Wrap(err, "failed to release lock")
	}

	m.notify()
	return nil
}

// IsAvailable reports whether no live lock exists for key.
func (m *Manager) IsAvailable(key string) (bool, error) {
	var exists bool
	err := m.db.QueryRow(
		"SELECT EXISTS(SELECT 1 FROM source_locks WHERE key = ? AND expires_at > ?)",
		key, time.Now().UTC()).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check lock availability")
	}
	return !exists, nil
}

func (m *Manager) notify() {
	if m.notifier != nil {
		m.notifier.LocksChanged()
	}
}
