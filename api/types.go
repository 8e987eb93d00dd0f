package api

import (
	"github.com/ruteri/mpc-rendezvous/interfaces"
)

// InitializeSessionResponse is returned by POST /initializekeygen.
type InitializeSessionResponse struct {
	SessionToken interfaces.SessionToken `json:"session_token"`
}

// JoinRequest is the body of POST /signupkeygen.
type JoinRequest struct {
	// Threshold is the number of parties per round.
	Threshold uint16 `json:"threshold"`

	// ShareCount is the total number of key shares of the ceremony. It is
	// informational and does not affect index assignment.
	ShareCount uint16 `json:"share_count"`

	SessionToken interfaces.SessionToken `json:"session_token"`
}

// JoinResponse is returned by POST /signupkeygen.
type JoinResponse struct {
	Index        uint16                  `json:"index"`
	RoundID      interfaces.RoundID      `json:"round_id"`
	SessionToken interfaces.SessionToken `json:"session_token"`
}

// Index is the body of POST /get.
type Index struct {
	Key string `json:"key"`
}

// Entry is the body of POST /set and the response of POST /get.
type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// SetResponse is returned by POST /set.
type SetResponse struct {
	Key     string `json:"key"`
	Version uint64 `json:"version"`
}
