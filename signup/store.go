package signup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ruteri/mpc-rendezvous/interfaces"
	"github.com/ruteri/mpc-rendezvous/metrics"
)

// KeyPrefix namespaces signup records in the key-value store.
const KeyPrefix = "signup-keygen-"

// DefaultMaxRetries bounds the compare-and-swap retries of one AtomicUpdate.
const DefaultMaxRetries = 5

// RecordKey returns the store key of the signup record for token.
func RecordKey(token interfaces.SessionToken) string {
	return KeyPrefix + string(token)
}

// IsRecordKey reports whether key belongs to the signup record namespace.
func IsRecordKey(key string) bool {
	return strings.HasPrefix(key, KeyPrefix)
}

// Store persists signup records in a KVStore.
//
// AtomicUpdate serializes the read-modify-write cycle of a record in two
// layers: a per-key lock held for the whole cycle orders callers within this
// process, and the write is a compare-and-swap against the version that was
// read, so a concurrent writer in another process turns into a retry instead
// of a lost update. Different keys never wait on each other.
type Store struct {
	kv         interfaces.KVStore
	locks      *keyLock
	maxRetries uint64
	newBackOff func() backoff.BackOff
	metrics    *metrics.RendezvousMetrics
	log        *slog.Logger
}

// NewStore creates a signup record store on top of kv.
func NewStore(kv interfaces.KVStore, log *slog.Logger) *Store {
	return &Store{
		kv:         kv,
		locks:      newKeyLock(),
		maxRetries: DefaultMaxRetries,
		newBackOff: defaultBackOff,
		log:        log,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = 0
	return b
}

// WithMaxRetries sets how many times a conflicting update is retried before
// AtomicUpdate gives up with ErrBusy.
func (s *Store) WithMaxRetries(n uint64) *Store {
	s.maxRetries = n
	return s
}

// WithBackOff replaces the delay policy between conflict retries.
func (s *Store) WithBackOff(newBackOff func() backoff.BackOff) *Store {
	s.newBackOff = newBackOff
	return s
}

// WithMetrics records conflicts in m.
func (s *Store) WithMetrics(m *metrics.RendezvousMetrics) *Store {
	s.metrics = m
	return s
}

// Get returns the current record for token.
func (s *Store) Get(ctx context.Context, token interfaces.SessionToken) (*interfaces.SignupRecord, error) {
	value, err := s.kv.Get(ctx, RecordKey(token))
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrSessionNotFound, token)
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(token, value.Value)
}

// Put creates the record of a new session. It refuses to overwrite an
// existing record.
func (s *Store) Put(ctx context.Context, record interfaces.SignupRecord) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("could not encode signup record: %w", err)
	}

	_, err = s.kv.CompareAndSwap(ctx, RecordKey(record.SessionToken), encoded, 0)
	if err != nil {
		return fmt.Errorf("could not store signup record for session %s: %w", record.SessionToken, err)
	}
	return nil
}

// AtomicUpdate applies fn to the record of token and persists the result.
// Errors returned by fn abort the update without writing anything.
func (s *Store) AtomicUpdate(ctx context.Context, token interfaces.SessionToken, fn interfaces.RecordUpdateFn) (*interfaces.SignupRecord, error) {
	key := RecordKey(token)

	unlock, err := s.locks.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	attempts := 0
	update := func() (*interfaces.SignupRecord, error) {
		attempts++

		current, err := s.kv.Get(ctx, key)
		if errors.Is(err, interfaces.ErrKeyNotFound) {
			return nil, backoff.Permanent(fmt.Errorf("%w: %s", interfaces.ErrSessionNotFound, token))
		}
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		record, err := decodeRecord(token, current.Value)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		next, err := fn(*record)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		encoded, err := json.Marshal(next)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("could not encode signup record: %w", err))
		}

		_, err = s.kv.CompareAndSwap(ctx, key, encoded, current.Version)
		if errors.Is(err, interfaces.ErrVersionConflict) {
			s.metrics.StoreConflict()
			s.log.Debug("Signup record changed concurrently, retrying",
				slog.String("session", string(token)),
				slog.Int("attempt", attempts))
			return nil, err
		}
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		return &next, nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), s.maxRetries), ctx)
	record, err := backoff.RetryWithData(update, policy)
	if errors.Is(err, interfaces.ErrVersionConflict) {
		s.log.Warn("Giving up on contended signup record",
			slog.String("session", string(token)),
			slog.Int("attempts", attempts))
		return nil, fmt.Errorf("%w: %d attempts on session %s: %v", interfaces.ErrBusy, attempts, token, err)
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func decodeRecord(token interfaces.SessionToken, raw []byte) (*interfaces.SignupRecord, error) {
	var record interfaces.SignupRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("corrupt signup record for session %s: %w", token, err)
	}
	if record.SessionToken == "" {
		record.SessionToken = token
	}
	return &record, nil
}
