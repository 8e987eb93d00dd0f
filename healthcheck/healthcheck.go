// Package healthcheck maintains a record in the key-value store announcing a
// running coordinator instance. Writing it at startup proves the store is
// reachable and writable before the server accepts requests.
package healthcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ruteri/mpc-rendezvous/interfaces"
)

// DefaultKey is the store key of the health record.
const DefaultKey = "rendezvous-healthcheck"

// Record is the value written under the health key.
type Record struct {
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Instance  string    `json:"instance"`
	StartedAt time.Time `json:"started_at"`
}

type Manager struct {
	kv       interfaces.KVStore
	key      string
	record   Record
	retries  uint64
	interval time.Duration
	log      *slog.Logger
}

// NewManager creates a manager writing record under key. Setup makes at most
// retries+1 attempts, interval apart.
func NewManager(kv interfaces.KVStore, key string, record Record, retries uint64, log *slog.Logger) *Manager {
	if key == "" {
		key = DefaultKey
	}
	return &Manager{
		kv:       kv,
		key:      key,
		record:   record,
		retries:  retries,
		interval: time.Second,
		log:      log,
	}
}

// WithInterval changes the delay between write attempts.
func (m *Manager) WithInterval(interval time.Duration) *Manager {
	m.interval = interval
	return m
}

// Key returns the store key of the health record.
func (m *Manager) Key() string {
	return m.key
}

// Setup writes the health record, retrying failed writes.
func (m *Manager) Setup(ctx context.Context) error {
	encoded, err := json.Marshal(m.record)
	if err != nil {
		return fmt.Errorf("could not encode health record: %w", err)
	}

	attempt := 0
	write := func() error {
		attempt++
		_, err := m.kv.Put(ctx, m.key, encoded)
		if err != nil {
			m.log.Warn("Could not write health record", "key", m.key, "attempt", attempt, "err", err)
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(m.interval), m.retries), ctx)
	if err := backoff.Retry(write, policy); err != nil {
		return fmt.Errorf("could not write health record to %s after %d attempts: %w", m.kv.Name(), attempt, err)
	}

	m.log.Info("Health record written", "key", m.key, "store", m.kv.Name())
	return nil
}

// Clear removes the health record. Failures are logged and returned.
func (m *Manager) Clear(ctx context.Context) error {
	if err := m.kv.Delete(ctx, m.key); err != nil {
		m.log.Error("Could not clear health record", "key", m.key, "err", err)
		return err
	}
	m.log.Info("Health record cleared", "key", m.key)
	return nil
}
