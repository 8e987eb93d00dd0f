package rendezvoushandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/mpc-rendezvous/api"
	"github.com/ruteri/mpc-rendezvous/interfaces"
	"github.com/ruteri/mpc-rendezvous/rendezvous"
	"github.com/ruteri/mpc-rendezvous/signup"
	"github.com/ruteri/mpc-rendezvous/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRendezvous struct {
	mock.Mock
}

func (m *mockRendezvous) InitializeSession(ctx context.Context) (interfaces.SessionToken, error) {
	args := m.Called(ctx)
	return args.Get(0).(interfaces.SessionToken), args.Error(1)
}

func (m *mockRendezvous) Join(ctx context.Context, token interfaces.SessionToken, threshold uint16) (*interfaces.PartyAssignment, error) {
	args := m.Called(ctx, token, threshold)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.PartyAssignment), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRouter(h *Handler) chi.Router {
	mux := chi.NewRouter()
	h.RegisterRoutes(mux)
	return mux
}

func newCoordinatorRouter() chi.Router {
	kv := storage.NewMemoryKVStore(testLogger())
	coordinator := rendezvous.NewCoordinator(signup.NewStore(kv, testLogger()), testLogger())
	return newRouter(NewHandler(coordinator, testLogger()))
}

func initialize(t *testing.T, mux http.Handler) interfaces.SessionToken {
	req := httptest.NewRequest(http.MethodPost, "/initializekeygen", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp api.InitializeSessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SessionToken)
	return resp.SessionToken
}

func join(mux http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/signupkeygen", strings.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestHandleJoin_Sequence(t *testing.T) {
	mux := newCoordinatorRouter()
	token := initialize(t, mux)

	body := fmt.Sprintf(`{"threshold":2,"share_count":3,"session_token":%q}`, token)

	var responses []api.JoinResponse
	for i := 0; i < 3; i++ {
		w := join(mux, body)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp api.JoinResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, token, resp.SessionToken)
		responses = append(responses, resp)
	}

	assert.Equal(t, uint16(1), responses[0].Index)
	assert.Equal(t, uint16(2), responses[1].Index)
	assert.Equal(t, uint16(1), responses[2].Index)
	assert.Equal(t, responses[0].RoundID, responses[1].RoundID)
	assert.NotEqual(t, responses[1].RoundID, responses[2].RoundID)
}

func TestHandleJoin_WireFormat(t *testing.T) {
	mux := newCoordinatorRouter()
	token := initialize(t, mux)

	w := join(mux, fmt.Sprintf(`{"threshold":3,"share_count":5,"session_token":%q}`, token))
	require.Equal(t, http.StatusOK, w.Code)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	assert.Equal(t, float64(1), raw["index"])
	assert.Equal(t, string(token), raw["session_token"])
	assert.NotEmpty(t, raw["round_id"])
	assert.Len(t, raw, 3)
}

func TestHandleJoin_ConcurrentParties(t *testing.T) {
	srv := httptest.NewServer(newCoordinatorRouter())
	defer srv.Close()

	token, err := InitializeSession(srv.URL)
	require.NoError(t, err)

	const parties = 20
	var wg sync.WaitGroup
	indices := make(chan uint16, parties)
	for i := 0; i < parties; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assignment, err := Join(srv.URL, api.JoinRequest{Threshold: parties, ShareCount: parties, SessionToken: token})
			if assert.NoError(t, err) {
				indices <- assignment.Index
			}
		}()
	}
	wg.Wait()
	close(indices)

	seen := make(map[uint16]bool)
	for index := range indices {
		assert.False(t, seen[index], "index %d assigned twice", index)
		seen[index] = true
	}
	assert.Len(t, seen, parties)
}

func TestHandleJoin_Errors(t *testing.T) {
	mux := newCoordinatorRouter()
	token := initialize(t, mux)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed json", `{"threshold":`, http.StatusBadRequest},
		{"zero threshold", fmt.Sprintf(`{"threshold":0,"share_count":1,"session_token":%q}`, token), http.StatusBadRequest},
		{"negative threshold", fmt.Sprintf(`{"threshold":-1,"session_token":%q}`, token), http.StatusBadRequest},
		{"missing token", `{"threshold":2,"share_count":2}`, http.StatusBadRequest},
		{"unknown session", `{"threshold":2,"share_count":2,"session_token":"nope"}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := join(mux, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestHandleJoin_StatusMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: 6 attempts", interfaces.ErrBusy), http.StatusConflict},
		{fmt.Errorf("%w: sealed", interfaces.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: S1", interfaces.ErrSessionNotFound), http.StatusNotFound},
		{errors.New("corrupt signup record"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			m := new(mockRendezvous)
			m.On("Join", mock.Anything, interfaces.SessionToken("S1"), uint16(2)).Return(nil, tt.err)

			w := join(newRouter(NewHandler(m, testLogger())), `{"threshold":2,"share_count":2,"session_token":"S1"}`)
			assert.Equal(t, tt.status, w.Code)
			m.AssertExpectations(t)
		})
	}
}

func TestHandleInitializeSession_StoreUnavailable(t *testing.T) {
	m := new(mockRendezvous)
	m.On("InitializeSession", mock.Anything).Return(interfaces.SessionToken(""), fmt.Errorf("%w: connection refused", interfaces.ErrStoreUnavailable))

	req := httptest.NewRequest(http.MethodPost, "/initializekeygen", nil)
	w := httptest.NewRecorder()
	newRouter(NewHandler(m, testLogger())).ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "store unavailable")
}

func TestClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(newCoordinatorRouter())
	defer srv.Close()

	_, err := Join(srv.URL, api.JoinRequest{Threshold: 2, SessionToken: "missing"})
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
	assert.Contains(t, statusErr.Message, "session not found")
}
