package healthcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ruteri/mpc-rendezvous/interfaces"
	"github.com/ruteri/mpc-rendezvous/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestManager_SetupAndClear(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKVStore(testLogger())
	started := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	m := NewManager(kv, "", Record{Service: "rendezvous", Version: "test", Instance: "i-1", StartedAt: started}, 3, testLogger())

	require.NoError(t, m.Setup(ctx))
	assert.Equal(t, DefaultKey, m.Key())

	stored, err := kv.Get(ctx, DefaultKey)
	require.NoError(t, err)

	var record Record
	require.NoError(t, json.Unmarshal(stored.Value, &record))
	assert.Equal(t, "i-1", record.Instance)
	assert.True(t, started.Equal(record.StartedAt))

	require.NoError(t, m.Clear(ctx))
	_, err = kv.Get(ctx, DefaultKey)
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)

	// Clearing twice is fine
	assert.NoError(t, m.Clear(ctx))
}

func TestManager_SetupRetries(t *testing.T) {
	kv := new(storage.MockKVStore)
	unavailable := fmt.Errorf("%w: connection refused", interfaces.ErrStoreUnavailable)
	kv.On("Put", mock.Anything, "health", mock.Anything).Return(uint64(0), unavailable).Twice()
	kv.On("Put", mock.Anything, "health", mock.Anything).Return(uint64(1), nil).Once()

	m := NewManager(kv, "health", Record{Service: "rendezvous"}, 3, testLogger()).WithInterval(time.Millisecond)
	require.NoError(t, m.Setup(context.Background()))
	kv.AssertNumberOfCalls(t, "Put", 3)
}

func TestManager_SetupGivesUp(t *testing.T) {
	kv := new(storage.MockKVStore)
	kv.On("Put", mock.Anything, "health", mock.Anything).Return(uint64(0), fmt.Errorf("%w: sealed", interfaces.ErrStoreUnavailable))

	m := NewManager(kv, "health", Record{}, 2, testLogger()).WithInterval(time.Millisecond)
	err := m.Setup(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrStoreUnavailable)
	kv.AssertNumberOfCalls(t, "Put", 3)
}
