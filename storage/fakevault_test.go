package storage

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeVault serves the subset of the Vault HTTP API used by VaultKVStore:
// KV v2 data and metadata endpoints, cert login, token renewal and health.
type fakeVault struct {
	mu       sync.Mutex
	secrets  map[string]fakeSecret
	tokens   []string
	renewals chan struct{}
}

type fakeSecret struct {
	data    map[string]string
	version uint64
}

func newFakeVault(t *testing.T) (*fakeVault, *httptest.Server) {
	fv := &fakeVault{
		secrets:  make(map[string]fakeSecret),
		renewals: make(chan struct{}, 16),
	}
	srv := httptest.NewServer(http.HandlerFunc(fv.serveHTTP))
	t.Cleanup(srv.Close)
	return fv, srv
}

func (fv *fakeVault) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (fv *fakeVault) serveHTTP(w http.ResponseWriter, r *http.Request) {
	fv.mu.Lock()
	defer fv.mu.Unlock()

	fv.tokens = append(fv.tokens, r.Header.Get("X-Vault-Token"))
	path := strings.TrimPrefix(r.URL.Path, "/v1/")

	switch {
	case path == "sys/health":
		fv.writeJSON(w, http.StatusOK, map[string]any{"initialized": true, "sealed": false, "standby": false})
	case path == "auth/cert/login":
		fv.writeJSON(w, http.StatusOK, map[string]any{
			"auth": map[string]any{"client_token": "cert-token", "renewable": true, "lease_duration": 3600},
		})
	case path == "auth/token/renew-self":
		select {
		case fv.renewals <- struct{}{}:
		default:
		}
		fv.writeJSON(w, http.StatusOK, map[string]any{
			"auth": map[string]any{"client_token": "cert-token", "renewable": true, "lease_duration": 3600},
		})
	case strings.HasPrefix(path, "secret/data/"):
		fv.serveData(w, r, strings.TrimPrefix(path, "secret/data/"))
	case strings.HasPrefix(path, "secret/metadata/") && r.Method == http.MethodDelete:
		delete(fv.secrets, strings.TrimPrefix(path, "secret/metadata/"))
		w.WriteHeader(http.StatusNoContent)
	default:
		fv.writeJSON(w, http.StatusNotFound, map[string]any{"errors": []string{}})
	}
}

func (fv *fakeVault) serveData(w http.ResponseWriter, r *http.Request, key string) {
	switch r.Method {
	case http.MethodGet:
		secret, ok := fv.secrets[key]
		if !ok {
			fv.writeJSON(w, http.StatusNotFound, map[string]any{"errors": []string{}})
			return
		}
		fv.writeJSON(w, http.StatusOK, map[string]any{
			"data": map[string]any{
				"data":     secret.data,
				"metadata": map[string]any{"version": secret.version},
			},
		})
	case http.MethodPut, http.MethodPost:
		var body struct {
			Data    map[string]string `json:"data"`
			Options map[string]uint64 `json:"options"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			fv.writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []string{err.Error()}})
			return
		}

		current := fv.secrets[key]
		if cas, ok := body.Options["cas"]; ok && cas != current.version {
			fv.writeJSON(w, http.StatusBadRequest, map[string]any{
				"errors": []string{"check-and-set parameter did not match the current version"},
			})
			return
		}

		next := fakeSecret{data: body.Data, version: current.version + 1}
		fv.secrets[key] = next
		fv.writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"version": next.version}})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// put stores a secret the way another Vault client would, bypassing VaultKVStore.
func (fv *fakeVault) put(key string, data map[string]string) {
	fv.mu.Lock()
	defer fv.mu.Unlock()
	current := fv.secrets[key]
	fv.secrets[key] = fakeSecret{data: data, version: current.version + 1}
}

func (fv *fakeVault) get(key string) map[string]string {
	fv.mu.Lock()
	defer fv.mu.Unlock()
	return fv.secrets[key].data
}
