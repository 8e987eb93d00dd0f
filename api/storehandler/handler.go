package storehandler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/mpc-rendezvous/api"
	"github.com/ruteri/mpc-rendezvous/api/rendezvoushandler"
	"github.com/ruteri/mpc-rendezvous/interfaces"
	"github.com/ruteri/mpc-rendezvous/signup"
)

// maxRequestBody bounds set request bodies.
const maxRequestBody = 1 << 20

// Handler serves the generic store endpoints.
type Handler struct {
	kv  interfaces.KVStore
	log *slog.Logger
}

func NewHandler(kv interfaces.KVStore, log *slog.Logger) *Handler {
	return &Handler{
		kv:  kv,
		log: log,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/get", h.HandleGet)
	r.Post("/set", h.HandleSet)
}

// HandleGet returns the value stored under the requested key.
//
// Request: {"key": "..."}
// Response: {"key": "...", "value": "..."}, 404 if the key is not set
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	var index api.Index
	if err := decodeBody(r, &index); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if index.Key == "" {
		http.Error(w, "empty key", http.StatusBadRequest)
		return
	}

	value, err := h.kv.Get(r.Context(), index.Key)
	if err != nil {
		if !errors.Is(err, interfaces.ErrKeyNotFound) {
			h.log.Error("could not read key", "key", index.Key, "err", err)
		}
		http.Error(w, fmt.Errorf("could not get %s: %w", index.Key, err).Error(), rendezvoushandler.StatusForError(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(api.Entry{Key: index.Key, Value: string(value.Value)})
}

// HandleSet stores the value under the key, replacing any previous value.
//
// Request: {"key": "...", "value": "..."}
// Response: {"key": "...", "version": 3}
func (h *Handler) HandleSet(w http.ResponseWriter, r *http.Request) {
	var entry api.Entry
	if err := decodeBody(r, &entry); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if entry.Key == "" {
		http.Error(w, "empty key", http.StatusBadRequest)
		return
	}
	if signup.IsRecordKey(entry.Key) {
		http.Error(w, fmt.Sprintf("key prefix %s is reserved", signup.KeyPrefix), http.StatusBadRequest)
		return
	}

	version, err := h.kv.Put(r.Context(), entry.Key, []byte(entry.Value))
	if err != nil {
		h.log.Error("could not write key", "key", entry.Key, "err", err)
		http.Error(w, fmt.Errorf("could not set %s: %w", entry.Key, err).Error(), rendezvoushandler.StatusForError(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(api.SetResponse{Key: entry.Key, Version: version})
}

func decodeBody(r *http.Request, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return fmt.Errorf("could not read request body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}
