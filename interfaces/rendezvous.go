package interfaces

import (
	"context"
	"errors"
)

// SessionToken identifies one ceremony instance for its whole lifetime.
type SessionToken string

// String returns the token as a string.
func (t SessionToken) String() string {
	return string(t)
}

// RoundID distinguishes one round of index assignment within a session.
type RoundID string

// String returns the round id as a string.
func (r RoundID) String() string {
	return string(r)
}

// SignupRecord is the persisted assignment state of a session.
type SignupRecord struct {
	// Index is the last index handed out in the current round, 0 right
	// after the session was initialized.
	Index uint16 `json:"index"`

	// RoundID identifies the current round.
	RoundID RoundID `json:"round_id"`

	// SessionToken is the session the record belongs to.
	SessionToken SessionToken `json:"session_token"`
}

// PartyAssignment is the result of a successful join.
type PartyAssignment struct {
	Index        uint16       `json:"index"`
	RoundID      RoundID      `json:"round_id"`
	SessionToken SessionToken `json:"session_token"`
}

var (
	// ErrSessionNotFound is returned when a session token has no signup record.
	ErrSessionNotFound = errors.New("session not found")

	// ErrBusy is returned when contention on a session exceeded the retry budget.
	// The whole join can be retried by the caller.
	ErrBusy = errors.New("session busy")

	// ErrInvalidArgument is returned for malformed requests such as a zero threshold.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Rendezvous assigns sequential party indices within ceremony sessions.
type Rendezvous interface {
	// InitializeSession creates a session and returns its token.
	InitializeSession(ctx context.Context) (SessionToken, error)

	// Join assigns the next index of the current round of the session,
	// starting a new round once threshold indices were handed out.
	Join(ctx context.Context, token SessionToken, threshold uint16) (*PartyAssignment, error)
}

// RecordUpdateFn computes the next signup record from the current one.
type RecordUpdateFn func(current SignupRecord) (SignupRecord, error)

// SignupRecordStore owns persisted signup records. AtomicUpdate is the only
// way to mutate an existing record.
type SignupRecordStore interface {
	// Get returns the record for the token or ErrSessionNotFound.
	Get(ctx context.Context, token SessionToken) (*SignupRecord, error)

	// Put stores a record for a fresh session.
	Put(ctx context.Context, record SignupRecord) error

	// AtomicUpdate reads, updates and writes the record for the token as one
	// unit: no other AtomicUpdate on the same token interleaves with it.
	AtomicUpdate(ctx context.Context, token SessionToken, fn RecordUpdateFn) (*SignupRecord, error)
}
