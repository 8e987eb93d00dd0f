package storage

import (
	"context"

	"github.com/ruteri/mpc-rendezvous/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockKVStore mocks the KVStore interface
type MockKVStore struct {
	mock.Mock
}

// Get mocks the Get method
func (m *MockKVStore) Get(ctx context.Context, key string) (*interfaces.VersionedValue, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.VersionedValue), args.Error(1)
}

// Put mocks the Put method
func (m *MockKVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	args := m.Called(ctx, key, value)
	return args.Get(0).(uint64), args.Error(1)
}

// CompareAndSwap mocks the CompareAndSwap method
func (m *MockKVStore) CompareAndSwap(ctx context.Context, key string, value []byte, expectedVersion uint64) (uint64, error) {
	args := m.Called(ctx, key, value, expectedVersion)
	return args.Get(0).(uint64), args.Error(1)
}

// Delete mocks the Delete method
func (m *MockKVStore) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// Available mocks the Available method
func (m *MockKVStore) Available(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

// Name returns a fixed identifier
func (m *MockKVStore) Name() string {
	return "mock"
}

// LocationURI returns a fixed URI
func (m *MockKVStore) LocationURI() string {
	return "mock://"
}
