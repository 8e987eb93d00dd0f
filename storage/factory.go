package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/ruteri/mpc-rendezvous/interfaces"
)

// KVStoreFactory creates key-value stores from location URIs.
type KVStoreFactory struct {
	log        *slog.Logger
	vaultToken string
	tlsAuth    func() (tls.Certificate, error)
}

// NewKVStoreFactory creates a new factory instance that can create stores.
func NewKVStoreFactory(logger *slog.Logger) *KVStoreFactory {
	return &KVStoreFactory{
		log: logger,
	}
}

// WithTLSAuth configures the client certificate used to authenticate to Vault.
func (sf *KVStoreFactory) WithTLSAuth(getCert func() (tls.Certificate, error)) interfaces.KVStoreFactory {
	return &KVStoreFactory{
		log:        sf.log,
		vaultToken: sf.vaultToken,
		tlsAuth:    getCert,
	}
}

// WithVaultToken configures the token used to authenticate to Vault.
func (sf *KVStoreFactory) WithVaultToken(token string) *KVStoreFactory {
	return &KVStoreFactory{
		log:        sf.log,
		vaultToken: token,
		tlsAuth:    sf.tlsAuth,
	}
}

// KVStoreFor creates a store from a location URI.
// The URI format should be [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - mem:// - Process-local memory
//   - bolt:// - Local bbolt database file
//   - vault:// - HashiCorp Vault KV v2 mount
//   - s3:// - Amazon S3 or compatible object storage
func (sf *KVStoreFactory) KVStoreFor(location interfaces.KVStoreLocation) (interfaces.KVStore, error) {
	switch strings.ToLower(location.Scheme) {
	case "mem":
		return NewMemoryKVStore(sf.log), nil
	case "bolt":
		return sf.createBoltStore(location)
	case "vault":
		return sf.createVaultStore(location)
	case "s3":
		return sf.createS3Store(location)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", interfaces.ErrInvalidLocationURI, location.Scheme)
	}
}

// createBoltStore creates a bbolt store.
// URI format: bolt:///absolute/path/store.db?bucket=kv or bolt://./relative/store.db
func (sf *KVStoreFactory) createBoltStore(location interfaces.KVStoreLocation) (interfaces.KVStore, error) {
	sf.log.Debug("Creating bolt store", slog.String("uri", location.String()))

	path := location.Path
	if location.Host != "" {
		path = location.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in bolt URI %s", interfaces.ErrInvalidLocationURI, location)
	}

	return NewBoltKVStore(path, location.GetParam("bucket"), sf.log)
}

// createVaultStore creates a Vault KV v2 store.
// URI format: vault://host:8200/<mount>/<path>?tls=true&role=<cert role>
func (sf *KVStoreFactory) createVaultStore(location interfaces.KVStoreLocation) (interfaces.KVStore, error) {
	sf.log.Debug("Creating Vault store", slog.String("uri", location.String()))

	if location.Host == "" {
		return nil, fmt.Errorf("%w: missing Vault host in %s", interfaces.ErrInvalidLocationURI, location)
	}

	mountPath, dataPath, _ := strings.Cut(strings.Trim(location.Path, "/"), "/")
	if mountPath == "" {
		mountPath = "secret"
	}

	scheme := "http"
	if location.GetParamBool("tls") || sf.tlsAuth != nil {
		scheme = "https"
	}
	address := fmt.Sprintf("%s://%s", scheme, location.Host)

	auth := VaultAuth{Token: sf.vaultToken, CertRole: location.GetParam("role")}
	if sf.tlsAuth != nil {
		cert, err := sf.tlsAuth()
		if err != nil {
			return nil, fmt.Errorf("could not load Vault client certificate: %w", err)
		}
		auth.ClientCert = &cert
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return NewVaultKVStore(ctx, address, mountPath, dataPath, auth, sf.log)
}

// createS3Store creates an S3 or S3-compatible store.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket-name/prefix/?region=us-west-2&endpoint=custom.s3.com
func (sf *KVStoreFactory) createS3Store(location interfaces.KVStoreLocation) (interfaces.KVStore, error) {
	sf.log.Debug("Creating S3 store", slog.String("bucket", location.Host))

	bucketName := location.Host
	if bucketName == "" {
		return nil, fmt.Errorf("%w: missing bucket in S3 URI", interfaces.ErrInvalidLocationURI)
	}

	region := location.GetParam("region")
	if region == "" {
		region = "us-east-1"
	}

	accessKey, secretKey, err := splitCredentials(location.Auth)
	if err != nil {
		return nil, err
	}

	return NewS3KVStore(bucketName, strings.TrimPrefix(location.Path, "/"), region, location.GetParam("endpoint"), accessKey, secretKey, sf.log)
}

// splitCredentials decodes the escaped user:password form kept in a location's Auth.
func splitCredentials(auth string) (string, string, error) {
	if auth == "" {
		return "", "", nil
	}
	rawUser, rawPassword, _ := strings.Cut(auth, ":")
	user, err := url.PathUnescape(rawUser)
	if err != nil {
		return "", "", fmt.Errorf("%w: invalid credentials: %v", interfaces.ErrInvalidLocationURI, err)
	}
	password, err := url.PathUnescape(rawPassword)
	if err != nil {
		return "", "", fmt.Errorf("%w: invalid credentials: %v", interfaces.ErrInvalidLocationURI, err)
	}
	return user, password, nil
}
