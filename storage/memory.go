package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/mpc-rendezvous/interfaces"
)

type memoryEntry struct {
	value   []byte
	version uint64
}

// MemoryKVStore implements a process-local key-value store.
// Values are copied on the way in and out so callers cannot mutate stored data.
type MemoryKVStore struct {
	mu       sync.RWMutex
	data     map[string]memoryEntry
	versions map[string]uint64 // survives Delete so versions never repeat
	log      *slog.Logger
}

// NewMemoryKVStore creates an empty in-memory store.
func NewMemoryKVStore(log *slog.Logger) *MemoryKVStore {
	if log == nil {
		log = slog.Default()
	}
	return &MemoryKVStore{
		data:     make(map[string]memoryEntry),
		versions: make(map[string]uint64),
		log:      log,
	}
}

// Get returns a copy of the value stored under key.
func (m *MemoryKVStore) Get(ctx context.Context, key string) (*interfaces.VersionedValue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.data[key]
	if !ok {
		return nil, interfaces.ErrKeyNotFound
	}

	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return &interfaces.VersionedValue{Value: value, Version: entry.version}, nil
}

// Put stores value under key regardless of the current version.
func (m *MemoryKVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.writeLocked(key, value), nil
}

// CompareAndSwap stores value only if the current version matches expectedVersion.
func (m *MemoryKVStore) CompareAndSwap(ctx context.Context, key string, value []byte, expectedVersion uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current uint64
	if entry, ok := m.data[key]; ok {
		current = entry.version
	}
	if current != expectedVersion {
		m.log.Debug("Version mismatch in memory store",
			slog.String("key", key),
			slog.Uint64("expected", expectedVersion),
			slog.Uint64("current", current))
		return current, fmt.Errorf("%w: key %s at version %d, expected %d", interfaces.ErrVersionConflict, key, current, expectedVersion)
	}

	return m.writeLocked(key, value), nil
}

func (m *MemoryKVStore) writeLocked(key string, value []byte) uint64 {
	stored := make([]byte, len(value))
	copy(stored, value)

	version := m.versions[key] + 1
	m.versions[key] = version
	m.data[key] = memoryEntry{value: stored, version: version}
	return version
}

// Delete removes key. Missing keys are ignored.
func (m *MemoryKVStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

// Available always reports true.
func (m *MemoryKVStore) Available(ctx context.Context) bool {
	return true
}

// Name returns a unique identifier for this store.
func (m *MemoryKVStore) Name() string {
	return "memory"
}

// LocationURI returns the URI that identifies this store.
func (m *MemoryKVStore) LocationURI() string {
	return "mem://"
}

// Len returns the number of stored keys.
func (m *MemoryKVStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
