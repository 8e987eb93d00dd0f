package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ruteri/mpc-rendezvous/interfaces"
	bolt "go.etcd.io/bbolt"
)

const defaultBoltBucket = "kv"

// Each value is stored as an 8-byte big-endian version followed by the payload.
const versionPrefixLen = 8

// errBoltConflict aborts an Update transaction on a version mismatch.
var errBoltConflict = errors.New("bolt version conflict")

// BoltKVStore implements a key-value store on a local bbolt database file.
// Compare-and-swap runs inside a single read-write transaction.
type BoltKVStore struct {
	db          *bolt.DB
	bucket      []byte
	path        string
	log         *slog.Logger
	locationURI string
}

// NewBoltKVStore opens (creating if needed) the database at path.
func NewBoltKVStore(path, bucket string, log *slog.Logger) (*BoltKVStore, error) {
	if bucket == "" {
		bucket = defaultBoltBucket
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}

	return &BoltKVStore{
		db:          db,
		bucket:      []byte(bucket),
		path:        path,
		log:         log,
		locationURI: fmt.Sprintf("bolt://%s?bucket=%s", path, bucket),
	}, nil
}

// Get returns the value stored under key.
func (b *BoltKVStore) Get(ctx context.Context, key string) (*interfaces.VersionedValue, error) {
	var result *interfaces.VersionedValue
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(b.bucket).Get([]byte(key))
		if raw == nil {
			return interfaces.ErrKeyNotFound
		}
		version, value, err := decodeBoltValue(raw)
		if err != nil {
			return err
		}
		result = &interfaces.VersionedValue{Value: value, Version: version}
		return nil
	})
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return nil, err
	}
	if err != nil {
		b.log.Error("Failed to read from bolt", slog.String("key", key), "err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return result, nil
}

// Put writes value under key unconditionally.
func (b *BoltKVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	return b.write(key, value, nil)
}

// CompareAndSwap writes value if the stored version equals expectedVersion.
func (b *BoltKVStore) CompareAndSwap(ctx context.Context, key string, value []byte, expectedVersion uint64) (uint64, error) {
	return b.write(key, value, &expectedVersion)
}

func (b *BoltKVStore) write(key string, value []byte, expectedVersion *uint64) (uint64, error) {
	var version uint64
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(b.bucket)

		var current uint64
		if raw := bucket.Get([]byte(key)); raw != nil {
			var err error
			current, _, err = decodeBoltValue(raw)
			if err != nil {
				return err
			}
		}

		if expectedVersion != nil && *expectedVersion != current {
			version = current
			return errBoltConflict
		}

		version = current + 1
		return bucket.Put([]byte(key), encodeBoltValue(version, value))
	})
	if errors.Is(err, errBoltConflict) {
		return version, fmt.Errorf("%w: key %s at version %d, expected %d", interfaces.ErrVersionConflict, key, version, *expectedVersion)
	}
	if err != nil {
		b.log.Error("Failed to write to bolt", slog.String("key", key), "err", err)
		return 0, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	b.log.Debug("Stored value in bolt", slog.String("key", key), slog.Uint64("version", version))
	return version, nil
}

// Delete removes key.
func (b *BoltKVStore) Delete(ctx context.Context, key string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

// Available checks that the database file is still present.
func (b *BoltKVStore) Available(ctx context.Context) bool {
	if _, err := os.Stat(b.path); err != nil {
		b.log.Debug("Bolt store unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this store.
func (b *BoltKVStore) Name() string {
	return fmt.Sprintf("bolt-%s", filepath.Base(b.path))
}

// LocationURI returns the URI that identifies this store.
func (b *BoltKVStore) LocationURI() string {
	return b.locationURI
}

// Close releases the database file lock.
func (b *BoltKVStore) Close() error {
	return b.db.Close()
}

func encodeBoltValue(version uint64, value []byte) []byte {
	buf := make([]byte, versionPrefixLen+len(value))
	binary.BigEndian.PutUint64(buf, version)
	copy(buf[versionPrefixLen:], value)
	return buf
}

// decodeBoltValue copies the payload out since bolt memory is only valid inside the transaction.
func decodeBoltValue(raw []byte) (uint64, []byte, error) {
	if len(raw) < versionPrefixLen {
		return 0, nil, fmt.Errorf("corrupt value: %d bytes", len(raw))
	}
	value := make([]byte, len(raw)-versionPrefixLen)
	copy(value, raw[versionPrefixLen:])
	return binary.BigEndian.Uint64(raw), value, nil
}
