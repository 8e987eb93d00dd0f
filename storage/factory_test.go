package storage

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/ruteri/mpc-rendezvous/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKVStoreFactory_KVStoreFor(t *testing.T) {
	_, vaultSrv := newFakeVault(t)
	s3Srv := newFakeS3(t, "ceremonies")
	boltPath := filepath.Join(t.TempDir(), "store.db")

	tests := []struct {
		name     string
		uri      string
		wantType interface{}
	}{
		{"memory", "mem://", &MemoryKVStore{}},
		{"bolt", "bolt://" + boltPath + "?bucket=signups", &BoltKVStore{}},
		{"vault", "vault://" + vaultSrv.Listener.Addr().String() + "/secret/rendezvous", &VaultKVStore{}},
		{"s3", "s3://access:secret@ceremonies/rendezvous?endpoint=" + url.QueryEscape(s3Srv.URL), &S3KVStore{}},
	}

	factory := NewKVStoreFactory(testLogger()).WithVaultToken("root")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			location, err := interfaces.NewKVStoreLocation(tt.uri)
			require.NoError(t, err)

			kv, err := factory.KVStoreFor(location)
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, kv)

			ctx := context.Background()
			_, err = kv.Put(ctx, "ping", []byte("ok"))
			require.NoError(t, err)
			got, err := kv.Get(ctx, "ping")
			require.NoError(t, err)
			assert.Equal(t, []byte("ok"), got.Value)

			if closer, ok := kv.(*BoltKVStore); ok {
				closer.Close()
			}
		})
	}
}

func TestKVStoreFactory_S3LocationHidesSecret(t *testing.T) {
	location, err := interfaces.NewKVStoreLocation("s3://access:topsecret@ceremonies/rendezvous?region=eu-west-1")
	require.NoError(t, err)

	kv, err := NewKVStoreFactory(testLogger()).KVStoreFor(location)
	require.NoError(t, err)
	assert.NotContains(t, kv.LocationURI(), "topsecret")
	assert.Contains(t, kv.LocationURI(), "region=eu-west-1")
}

func TestSplitCredentials(t *testing.T) {
	location, err := interfaces.NewKVStoreLocation("s3://AKIA%2F1:p%40ss%3Aword@ceremonies/rendezvous")
	require.NoError(t, err)

	user, password, err := splitCredentials(location.Auth)
	require.NoError(t, err)
	assert.Equal(t, "AKIA/1", user)
	assert.Equal(t, "p@ss:word", password)

	user, password, err = splitCredentials("")
	require.NoError(t, err)
	assert.Empty(t, user)
	assert.Empty(t, password)

	user, password, err = splitCredentials("onlyuser")
	require.NoError(t, err)
	assert.Equal(t, "onlyuser", user)
	assert.Empty(t, password)
}

func TestKVStoreFactory_VaultTLSParam(t *testing.T) {
	_, vaultSrv := newFakeVault(t)

	// The fake speaks plain HTTP, so forcing TLS must make the client fail
	location, err := interfaces.NewKVStoreLocation("vault://" + vaultSrv.Listener.Addr().String() + "/secret/rendezvous?tls=yes")
	require.NoError(t, err)
	assert.True(t, location.GetParamBool("tls"))

	kv, err := NewKVStoreFactory(testLogger()).WithVaultToken("root").KVStoreFor(location)
	require.NoError(t, err)
	assert.False(t, kv.Available(context.Background()))
}

func TestKVStoreFactory_InvalidLocations(t *testing.T) {
	factory := NewKVStoreFactory(testLogger())

	for _, uri := range []string{"vault:///secret/path", "s3:///prefix", "bolt://"} {
		t.Run(uri, func(t *testing.T) {
			location, err := interfaces.NewKVStoreLocation(uri)
			require.NoError(t, err)

			_, err = factory.KVStoreFor(location)
			assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
		})
	}

	_, err := interfaces.NewKVStoreLocation("ipfs://localhost:5001")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
}

func TestKVStoreFactory_TLSAuthErrors(t *testing.T) {
	_, vaultSrv := newFakeVault(t)
	location, err := interfaces.NewKVStoreLocation("vault://" + vaultSrv.Listener.Addr().String() + "/secret/rendezvous")
	require.NoError(t, err)

	certErr := errors.New("no such file")
	factory := NewKVStoreFactory(testLogger()).WithTLSAuth(func() (tls.Certificate, error) {
		return tls.Certificate{}, certErr
	})

	_, err = factory.KVStoreFor(location)
	assert.ErrorIs(t, err, certErr)
	assert.Contains(t, fmt.Sprint(err), "client certificate")
}
