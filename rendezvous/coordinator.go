package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/mpc-rendezvous/interfaces"
	"github.com/ruteri/mpc-rendezvous/metrics"
)

// IDGenerator returns a fresh unique identifier.
type IDGenerator func() (string, error)

// RandomID returns a random (version 4) UUID string.
func RandomID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Coordinator hands out sequential party indices for ceremony sessions.
// It keeps no state of its own; every call goes through the record store.
type Coordinator struct {
	records interfaces.SignupRecordStore
	newID   IDGenerator
	metrics *metrics.RendezvousMetrics
	log     *slog.Logger
}

// NewCoordinator creates a coordinator persisting signup records in records.
func NewCoordinator(records interfaces.SignupRecordStore, log *slog.Logger) *Coordinator {
	return &Coordinator{
		records: records,
		newID:   RandomID,
		log:     log,
	}
}

// WithIDGenerator replaces the generator used for session tokens and round ids.
func (c *Coordinator) WithIDGenerator(gen IDGenerator) *Coordinator {
	c.newID = gen
	return c
}

// WithMetrics records session and join outcomes in m.
func (c *Coordinator) WithMetrics(m *metrics.RendezvousMetrics) *Coordinator {
	c.metrics = m
	return c
}

// InitializeSession creates a session whose record starts at index 0 in a
// fresh round, and returns its token.
func (c *Coordinator) InitializeSession(ctx context.Context) (interfaces.SessionToken, error) {
	token, err := c.newID()
	if err != nil {
		return "", fmt.Errorf("could not generate session token: %w", err)
	}
	round, err := c.newID()
	if err != nil {
		return "", fmt.Errorf("could not generate round id: %w", err)
	}

	record := interfaces.SignupRecord{
		Index:        0,
		RoundID:      interfaces.RoundID(round),
		SessionToken: interfaces.SessionToken(token),
	}
	if err := c.records.Put(ctx, record); err != nil {
		c.log.Error("Failed to initialize session", "err", err)
		return "", err
	}

	c.metrics.SessionInitialized()
	c.log.Info("Session initialized",
		slog.String("session", token),
		slog.String("round", round))

	return record.SessionToken, nil
}

// Join assigns the caller the next index of the session's current round.
// Indices run 1..threshold; the call after the round is full starts a new
// round at index 1.
func (c *Coordinator) Join(ctx context.Context, token interfaces.SessionToken, threshold uint16) (*interfaces.PartyAssignment, error) {
	start := time.Now()

	if token == "" {
		c.metrics.Join(metrics.JoinResultInvalid, time.Since(start))
		return nil, fmt.Errorf("%w: empty session token", interfaces.ErrInvalidArgument)
	}
	if threshold == 0 {
		c.metrics.Join(metrics.JoinResultInvalid, time.Since(start))
		return nil, fmt.Errorf("%w: threshold must be positive", interfaces.ErrInvalidArgument)
	}

	var rolledOver bool
	record, err := c.records.AtomicUpdate(ctx, token, func(current interfaces.SignupRecord) (interfaces.SignupRecord, error) {
		rolledOver = false
		if current.Index < threshold {
			current.Index++
			return current, nil
		}

		round, err := c.newID()
		if err != nil {
			return current, fmt.Errorf("could not generate round id: %w", err)
		}
		rolledOver = true
		current.Index = 1
		current.RoundID = interfaces.RoundID(round)
		return current, nil
	})
	if err != nil {
		c.metrics.Join(joinResult(err), time.Since(start))
		c.log.Debug("Join failed", slog.String("session", string(token)), "err", err)
		return nil, err
	}

	if rolledOver {
		c.metrics.RoundStarted()
		c.log.Info("New round started",
			slog.String("session", string(token)),
			slog.String("round", string(record.RoundID)))
	}
	c.metrics.Join(metrics.JoinResultOK, time.Since(start))
	c.log.Debug("Party joined",
		slog.String("session", string(token)),
		slog.String("round", string(record.RoundID)),
		slog.Int("index", int(record.Index)),
		slog.Int("threshold", int(threshold)))

	return &interfaces.PartyAssignment{
		Index:        record.Index,
		RoundID:      record.RoundID,
		SessionToken: token,
	}, nil
}

func joinResult(err error) string {
	switch {
	case errors.Is(err, interfaces.ErrSessionNotFound):
		return metrics.JoinResultNotFound
	case errors.Is(err, interfaces.ErrBusy):
		return metrics.JoinResultBusy
	case errors.Is(err, interfaces.ErrInvalidArgument):
		return metrics.JoinResultInvalid
	default:
		return metrics.JoinResultStoreError
	}
}
