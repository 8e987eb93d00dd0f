package storage

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/mpc-rendezvous/interfaces"
)

// VaultAuth selects how the Vault client authenticates.
// A client certificate takes precedence over a token. With neither set the
// client falls back to the VAULT_TOKEN environment variable.
type VaultAuth struct {
	Token      string
	ClientCert *tls.Certificate

	// CertRole optionally names the cert auth role to log in with.
	CertRole string
}

// VaultKVStore implements a key-value store on a HashiCorp Vault KV v2 mount.
// Versions are the KV v2 secret versions and compare-and-swap is the
// engine's check-and-set write option.
type VaultKVStore struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string

	// loginSecret holds the cert login response, used for token renewal.
	loginSecret *api.Secret
}

// NewVaultKVStore creates a new Vault store and authenticates against it.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: Path within the mount (e.g. "rendezvous")
//   - auth: token or TLS client certificate credentials
//   - log: Structured logger for operational insights
func NewVaultKVStore(ctx context.Context, address, mountPath, dataPath string, auth VaultAuth, log *slog.Logger) (*VaultKVStore, error) {
	config := api.DefaultConfig()
	config.Address = address
	if auth.ClientCert != nil {
		config.HttpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					Certificates: []tls.Certificate{*auth.ClientCert},
				},
			},
			Timeout: 30 * time.Second,
		}
	} else {
		config.Timeout = 30 * time.Second
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	mountPath = strings.Trim(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	b := &VaultKVStore{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", strings.TrimPrefix(strings.TrimPrefix(address, "https://"), "http://"), mountPath, dataPath),
	}

	switch {
	case auth.ClientCert != nil:
		if err := b.certLogin(ctx, auth.CertRole); err != nil {
			return nil, err
		}
	case auth.Token != "":
		client.SetToken(auth.Token)
	}

	return b, nil
}

func (b *VaultKVStore) certLogin(ctx context.Context, role string) error {
	var body map[string]interface{}
	if role != "" {
		body = map[string]interface{}{"name": role}
	}

	secret, err := b.client.Logical().WriteWithContext(ctx, "auth/cert/login", body)
	if err != nil {
		return fmt.Errorf("vault cert login failed: %w", err)
	}
	if secret == nil || secret.Auth == nil {
		return errors.New("vault cert login returned no auth data")
	}

	b.client.SetToken(secret.Auth.ClientToken)
	b.loginSecret = secret
	b.log.Info("Authenticated to Vault with client certificate",
		slog.Duration("ttl", time.Duration(secret.Auth.LeaseDuration)*time.Second),
		slog.Bool("renewable", secret.Auth.Renewable))
	return nil
}

func (b *VaultKVStore) dataKeyPath(key string) string {
	if b.dataPath == "" {
		return fmt.Sprintf("%s/data/%s", b.mountPath, key)
	}
	return fmt.Sprintf("%s/data/%s/%s", b.mountPath, b.dataPath, key)
}

func (b *VaultKVStore) metadataKeyPath(key string) string {
	if b.dataPath == "" {
		return fmt.Sprintf("%s/metadata/%s", b.mountPath, key)
	}
	return fmt.Sprintf("%s/metadata/%s/%s", b.mountPath, b.dataPath, key)
}

// Get reads the latest version of key.
func (b *VaultKVStore) Get(ctx context.Context, key string) (*interfaces.VersionedValue, error) {
	start := time.Now()
	path := b.dataKeyPath(key)

	secret, err := b.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		b.log.Error("Failed to read from Vault", slog.String("path", path), "err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	// Soft-deleted secrets come back with metadata but nil data.
	if secret == nil || secret.Data == nil || secret.Data["data"] == nil {
		b.log.Debug("Key not found in Vault", slog.String("path", path))
		return nil, interfaces.ErrKeyNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid data format in Vault response for %s", path)
	}
	content, ok := data["content"].(string)
	if !ok {
		return nil, fmt.Errorf("content key not found in Vault data for %s", path)
	}
	value, err := decodeVaultContent(content, data["encoding"])
	if err != nil {
		return nil, fmt.Errorf("invalid content in Vault data for %s: %w", path, err)
	}

	metadata, ok := secret.Data["metadata"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("metadata not found in Vault response for %s", path)
	}
	version, err := vaultVersion(metadata["version"])
	if err != nil {
		return nil, fmt.Errorf("invalid version in Vault metadata for %s: %w", path, err)
	}

	b.log.Debug("Fetched value from Vault",
		slog.String("path", path),
		slog.Uint64("version", version),
		slog.Duration("duration", time.Since(start)))

	return &interfaces.VersionedValue{Value: value, Version: version}, nil
}

// Values are stored base64 encoded so arbitrary bytes survive the JSON API.
// Secrets written without an encoding marker are read back as plain strings.
const vaultContentEncoding = "base64"

func decodeVaultContent(content string, encoding interface{}) ([]byte, error) {
	switch encoding {
	case nil, "":
		return []byte(content), nil
	case vaultContentEncoding:
		return base64.StdEncoding.DecodeString(content)
	default:
		return nil, fmt.Errorf("unsupported encoding %v", encoding)
	}
}

// Put writes a new version of key without a version check.
func (b *VaultKVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	return b.write(ctx, key, value, nil)
}

// CompareAndSwap writes a new version of key using Vault check-and-set.
func (b *VaultKVStore) CompareAndSwap(ctx context.Context, key string, value []byte, expectedVersion uint64) (uint64, error) {
	return b.write(ctx, key, value, map[string]interface{}{"cas": expectedVersion})
}

func (b *VaultKVStore) write(ctx context.Context, key string, value []byte, options map[string]interface{}) (uint64, error) {
	start := time.Now()
	path := b.dataKeyPath(key)

	body := map[string]interface{}{
		"data": map[string]interface{}{
			"content":  base64.StdEncoding.EncodeToString(value),
			"encoding": vaultContentEncoding,
		},
	}
	if options != nil {
		body["options"] = options
	}

	secret, err := b.client.Logical().WriteWithContext(ctx, path, body)
	if err != nil {
		if isCheckAndSetError(err) {
			b.log.Debug("Vault check-and-set mismatch", slog.String("path", path), "cas", options["cas"])
			return 0, fmt.Errorf("%w: %v", interfaces.ErrVersionConflict, err)
		}
		b.log.Error("Failed to write to Vault", slog.String("path", path), "err", err)
		return 0, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	var version uint64
	if secret != nil && secret.Data != nil {
		version, err = vaultVersion(secret.Data["version"])
		if err != nil {
			return 0, fmt.Errorf("invalid version in Vault write response for %s: %w", path, err)
		}
	}

	b.log.Debug("Stored value in Vault",
		slog.String("path", path),
		slog.Uint64("version", version),
		slog.Duration("duration", time.Since(start)))

	return version, nil
}

// Delete removes all versions and metadata of key.
func (b *VaultKVStore) Delete(ctx context.Context, key string) error {
	path := b.metadataKeyPath(key)
	if _, err := b.client.Logical().DeleteWithContext(ctx, path); err != nil {
		b.log.Error("Failed to delete from Vault", slog.String("path", path), "err", err)
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

// Available checks if the Vault backend is accessible.
// It uses the health endpoint to verify that Vault is initialized and unsealed.
func (b *VaultKVStore) Available(ctx context.Context) bool {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := b.client.Sys().HealthWithContext(healthCtx)
	if err != nil {
		b.log.Debug("Vault health check failed", "err", err)
		return false
	}

	if !health.Initialized || health.Sealed {
		b.log.Debug("Vault is not available",
			slog.Bool("initialized", health.Initialized),
			slog.Bool("sealed", health.Sealed))
		return false
	}

	return true
}

// Name returns a unique identifier for this store.
func (b *VaultKVStore) Name() string {
	return fmt.Sprintf("vault-%s-%s", b.mountPath, b.dataPath)
}

// LocationURI returns the URI that identifies this store.
func (b *VaultKVStore) LocationURI() string {
	return b.locationURI
}

// RenewToken keeps the client token alive until ctx is cancelled or the
// token can no longer be renewed. It blocks.
func (b *VaultKVStore) RenewToken(ctx context.Context) error {
	secret := b.loginSecret
	if secret == nil {
		self, err := b.client.Auth().Token().LookupSelfWithContext(ctx)
		if err != nil {
			return fmt.Errorf("could not look up vault token: %w", err)
		}
		renewable, err := self.TokenIsRenewable()
		if err != nil {
			return fmt.Errorf("could not read token renewability: %w", err)
		}
		if !renewable {
			b.log.Info("Vault token is not renewable, skipping renewal")
			return nil
		}
		ttl, err := self.TokenTTL()
		if err != nil {
			return fmt.Errorf("could not read token ttl: %w", err)
		}
		secret = &api.Secret{
			Auth: &api.SecretAuth{
				ClientToken:   b.client.Token(),
				Renewable:     renewable,
				LeaseDuration: int(ttl.Seconds()),
			},
		}
	}

	watcher, err := b.client.NewLifetimeWatcher(&api.LifetimeWatcherInput{Secret: secret})
	if err != nil {
		return fmt.Errorf("could not create token watcher: %w", err)
	}
	go watcher.Start()
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			b.log.Info("Vault token renewal stopped")
			return nil
		case err := <-watcher.DoneCh():
			if err != nil {
				return fmt.Errorf("vault token renewal failed: %w", err)
			}
			b.log.Warn("Vault token can no longer be renewed")
			return nil
		case renewal := <-watcher.RenewCh():
			b.log.Debug("Vault token renewed", "at", renewal.RenewedAt)
		}
	}
}

func isCheckAndSetError(err error) bool {
	var respErr *api.ResponseError
	if !errors.As(err, &respErr) || respErr.StatusCode != http.StatusBadRequest {
		return false
	}
	for _, msg := range respErr.Errors {
		if strings.Contains(msg, "check-and-set") {
			return true
		}
	}
	return false
}

func vaultVersion(raw interface{}) (uint64, error) {
	switch v := raw.(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, err
		}
		return uint64(n), nil
	case float64:
		return uint64(v), nil
	case int:
		return uint64(v), nil
	default:
		return 0, fmt.Errorf("unexpected version type %T", raw)
	}
}
