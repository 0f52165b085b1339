// Package gamedb persists each player's view of their wager sessions. A
// record is keyed by (player address, session id); two players in the same
// game keep independent records, and one player keeps independent records
// for every game they take part in. Records survive reload and are the
// anchor for idempotent recovery: no other component writes them directly.
package gamedb

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrPlayerBucketGone = errors.New("player bucket not found")
	ErrOutcomeImmutable = errors.New("outcome already recorded")
	ErrStatusRegression = errors.New("status cannot move backwards")
	ErrExpiryRegression = errors.New("authorization expiry cannot decrease")
)

// Role distinguishes who created the session from who joined it.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleJoiner    Role = "joiner"
)

// Status is a session's position in the finite lifecycle lattice.
type Status string

const (
	// StatusAwaitingCounterparty: the initiator signed an auth entry and is
	// waiting for someone to accept the invite.
	StatusAwaitingCounterparty Status = "awaiting_counterparty"
	// StatusReady: both sides identified, wager committed, nothing
	// submitted yet.
	StatusReady Status = "ready"
	// StatusAwaitingOpponentMove: our submission landed; the opponent acts
	// next.
	StatusAwaitingOpponentMove Status = "awaiting_opponent_move"
	// StatusReadyToFinalize: the opponent moved; the finishing submission
	// is ours.
	StatusReadyToFinalize Status = "ready_to_finalize"
	// StatusComplete: terminal; Outcome is populated.
	StatusComplete Status = "complete"
)

// statusRank orders the lattice so transitions only move forward. A cached
// status never outruns the chain; reconciliation may fast-forward it.
var statusRank = map[Status]int{
	StatusAwaitingCounterparty: 0,
	StatusReady:                1,
	StatusAwaitingOpponentMove: 2,
	StatusReadyToFinalize:      3,
	StatusComplete:             4,
}

// Outcome is written exactly once, when a session completes.
type Outcome struct {
	Winner         string `json:"winner"`
	LocalPlayerWon bool   `json:"local_player_won"`
	Payout         uint64 `json:"payout"`
}

// SessionRecord is one player's durable view of one game.
type SessionRecord struct {
	ID          uint64    `json:"id"`
	Role        Role      `json:"role"`
	Opponent    string    `json:"opponent,omitempty"`
	Wager       uint64    `json:"wager"`
	AuthEntry   []byte    `json:"auth_entry,omitempty"`
	AuthExpiry  uint32    `json:"auth_expiry,omitempty"`
	Status      Status    `json:"status"`
	Outcome     *Outcome  `json:"outcome,omitempty"`
	SubmittedTx string    `json:"submitted_tx,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate enforces the record invariants before any write.
func (r *SessionRecord) Validate() error {
	if _, ok := statusRank[r.Status]; !ok {
		return fmt.Errorf("unknown status %q", r.Status)
	}
	if r.Role != RoleInitiator && r.Role != RoleJoiner {
		return fmt.Errorf("unknown role %q", r.Role)
	}
	// The partial authorization exists only while the initiator waits for
	// a counterparty; everywhere else it must be gone.
	hasEntry := len(r.AuthEntry) > 0
	shouldHave := r.Role == RoleInitiator && r.Status == StatusAwaitingCounterparty
	if hasEntry != shouldHave {
		return fmt.Errorf("auth entry present=%t, but role=%s status=%s", hasEntry, r.Role, r.Status)
	}
	if r.Status == StatusComplete && r.Outcome == nil {
		return fmt.Errorf("complete session without outcome")
	}
	if r.Status != StatusComplete && r.Outcome != nil {
		return fmt.Errorf("outcome recorded before completion")
	}
	return nil
}

// DefaultPruneHorizon is how old an inactive record must be before the age
// sweep removes it.
const DefaultPruneHorizon = 48 * time.Hour

// Store is the durable per-player session map.
type Store interface {
	// SaveSession inserts or replaces a record after validating it against
	// the stored one (status and expiry monotonicity, outcome
	// immutability).
	SaveSession(ctx context.Context, player string, rec *SessionRecord) error

	// FetchSession returns the record or ErrSessionNotFound.
	FetchSession(ctx context.Context, player string, id uint64) (*SessionRecord, error)

	// FetchSessionsByPlayer returns every record for the player, any order.
	FetchSessionsByPlayer(ctx context.Context, player string) ([]*SessionRecord, error)

	// SetSubmitted records the submission handle for a session so a
	// reloaded client resumes polling instead of re-submitting.
	SetSubmitted(ctx context.Context, player string, id uint64, txHash string) error

	// ClearSubmitted drops the stored handle after the chain reports the
	// submission terminally failed, freeing the session to submit again.
	ClearSubmitted(ctx context.Context, player string, id uint64) error

	// SetOutcome completes a session. Fails with ErrOutcomeImmutable if an
	// outcome was already written.
	SetOutcome(ctx context.Context, player string, id uint64, out Outcome) error

	// DeleteSession removes a record. Used by reconciliation when the
	// chain reports a session absent past the grace period.
	DeleteSession(ctx context.Context, player string, id uint64) error

	// Prune removes records older than horizon, skipping any with a
	// pending submission: those wait for reconciliation to observe a
	// terminal or absent state first. Returns the number removed.
	Prune(ctx context.Context, player string, horizon time.Duration) (int, error)

	Close() error
}
