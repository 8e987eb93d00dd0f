package interfaces

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
)

// VersionedValue is a stored value together with the version of the write
// that produced it. Versions start at 1 and grow by one on every write.
type VersionedValue struct {
	Value   []byte
	Version uint64
}

// KVStoreLocation represents URI for a key-value store backend.
type KVStoreLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   string     // Authentication info
}

// NewKVStoreLocation creates a new store location from a URI string with validation.
func NewKVStoreLocation(uri string) (KVStoreLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return KVStoreLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	scheme := parsed.Scheme
	switch scheme {
	case "mem", "bolt", "vault", "s3":
	default:
		return KVStoreLocation{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocationURI, scheme)
	}

	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return KVStoreLocation{
		Raw:    uri,
		Scheme: scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

// String returns the original URI string.
func (loc KVStoreLocation) String() string {
	return loc.Raw
}

// GetParam returns a query parameter value.
func (loc KVStoreLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc KVStoreLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

var (
	// ErrKeyNotFound is returned when a key has no value in the store.
	ErrKeyNotFound = errors.New("key not found")

	// ErrStoreUnavailable is returned when the store could not be reached or
	// failed to complete an operation. Callers may retry.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrVersionConflict is returned by CompareAndSwap when the stored version
	// differs from the expected one.
	ErrVersionConflict = errors.New("version conflict")

	// ErrInvalidLocationURI is returned when a store location URI is malformed or unsupported.
	// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid store location URI")
)

// KVStore is a versioned key-value store. Implementations must be safe for
// concurrent use and must never silently lose a write to a key under
// concurrent access.
type KVStore interface {
	// Get returns the value and its version, or ErrKeyNotFound.
	Get(ctx context.Context, key string) (*VersionedValue, error)

	// Put writes value unconditionally and returns the new version.
	Put(ctx context.Context, key string, value []byte) (uint64, error)

	// CompareAndSwap writes value only if the stored version equals
	// expectedVersion. An expectedVersion of 0 requires the key to be absent.
	// Returns ErrVersionConflict on mismatch.
	CompareAndSwap(ctx context.Context, key string, value []byte, expectedVersion uint64) (uint64, error)

	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Available checks if the store is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this store.
	LocationURI() string
}

// KVStoreFactory creates key-value stores.
type KVStoreFactory interface {
	// KVStoreFor creates a store from a location.
	// Supports mem://, bolt://, vault://, s3://
	KVStoreFor(location KVStoreLocation) (KVStore, error)

	// WithTLSAuth configures TLS client authentication for stores that support it.
	WithTLSAuth(func() (tls.Certificate, error)) KVStoreFactory
}
