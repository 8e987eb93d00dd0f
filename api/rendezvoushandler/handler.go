package rendezvoushandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/mpc-rendezvous/api"
	"github.com/ruteri/mpc-rendezvous/interfaces"
)

// maxRequestBody bounds join request bodies.
const maxRequestBody = 1 << 16

type Handler struct {
	rendezvous interfaces.Rendezvous
	log        *slog.Logger
}

func NewHandler(rendezvous interfaces.Rendezvous, log *slog.Logger) *Handler {
	return &Handler{
		rendezvous: rendezvous,
		log:        log,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/initializekeygen", h.HandleInitializeSession)
	r.Post("/signupkeygen", h.HandleJoin)
}

// HandleInitializeSession creates a new session.
//
// Response: {"session_token": "..."}
func (h *Handler) HandleInitializeSession(w http.ResponseWriter, r *http.Request) {
	token, err := h.rendezvous.InitializeSession(r.Context())
	if err != nil {
		h.log.Error("could not initialize session", "err", err)
		http.Error(w, fmt.Errorf("could not initialize session: %w", err).Error(), StatusForError(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(api.InitializeSessionResponse{SessionToken: token})
}

// HandleJoin assigns the next party index of the requested session.
//
// Request: {"threshold": 2, "share_count": 3, "session_token": "..."}
// Response: {"index": 1, "round_id": "...", "session_token": "..."}
func (h *Handler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		http.Error(w, fmt.Errorf("could not read request body: %w", err).Error(), http.StatusBadRequest)
		return
	}

	var req api.JoinRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, fmt.Errorf("invalid join request: %w", err).Error(), http.StatusBadRequest)
		return
	}

	assignment, err := h.rendezvous.Join(r.Context(), req.SessionToken, req.Threshold)
	if err != nil {
		status := StatusForError(err)
		if status >= http.StatusInternalServerError {
			h.log.Error("join failed", "session", req.SessionToken, "err", err)
		}
		http.Error(w, fmt.Errorf("could not join session: %w", err).Error(), status)
		return
	}

	h.log.Debug("party assigned",
		"session", assignment.SessionToken,
		"round", assignment.RoundID,
		"index", assignment.Index,
		"threshold", req.Threshold,
		"shareCount", req.ShareCount)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(api.JoinResponse{
		Index:        assignment.Index,
		RoundID:      assignment.RoundID,
		SessionToken: assignment.SessionToken,
	})
}

// StatusForError maps coordinator and store errors to HTTP status codes.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrSessionNotFound), errors.Is(err, interfaces.ErrKeyNotFound):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, interfaces.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
