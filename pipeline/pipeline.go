// Package pipeline orchestrates the single logical "sign and submit"
// operation: build an unsigned envelope, sign it, hand it to a relay
// backend, and poll until a terminal status. It is the only place that
// sequences those steps, and it is idempotent across reloads: a session
// that already has an outstanding submission resumes polling instead of
// signing or submitting again.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"

	ohloss "github.com/kalepail/ohloss-sub002"
	"github.com/kalepail/ohloss-sub002/chainwatcher"
	"github.com/kalepail/ohloss-sub002/gamedb"
	"github.com/kalepail/ohloss-sub002/relay"
	"github.com/kalepail/ohloss-sub002/signer"
)

// ErrInviteExpired means a partial authorization is stale at the current
// ledger height. Decided locally, before any network submission.
var ErrInviteExpired = errors.New("invite expired")

// Status is the terminal state of one pipeline invocation.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	// StatusTimedOut is ambiguous: the submission may still land. Callers
	// trigger reconciliation; they never report it as definite failure.
	StatusTimedOut Status = "timed_out"
)

// FailureKind says why an invocation failed, stable for UI dispatch.
type FailureKind string

const (
	FailureNone          FailureKind = ""
	FailureUserRejected  FailureKind = "user_rejected"
	FailureRelayRejected FailureKind = "relay_rejected"
	FailureUnreachable   FailureKind = "relay_unreachable"
	FailureChainRejected FailureKind = "chain_rejected"
)

// Result is what an invocation resolves to.
type Result struct {
	Status  Status
	Failure FailureKind
	TxHash  string
}

// Chain is the slice of the watcher the pipeline needs.
type Chain interface {
	Tip(ctx context.Context) (chainwatcher.LedgerUpdate, error)
	AwaitTx(ctx context.Context, hash string, timeout time.Duration) (chainwatcher.TerminalStatus, error)
}

// BuildFunc produces the unsigned transaction envelope for an operation.
// The contract call encoding is the caller's business; the pipeline treats
// the bytes as opaque.
type BuildFunc func(ctx context.Context) ([]byte, error)

const (
	defaultRetryBackoff   = 2 * time.Second
	defaultConfirmTimeout = 30 * time.Second
)

type flightKey struct {
	player string
	id     uint64
}

type flight struct {
	done chan struct{}
	res  *Result
	err  error
}

// Pipeline wires one signer and one relay backend to the session store.
// Deployments choose the backend statically; the pipeline never falls back
// between backends.
type Pipeline struct {
	log       slog.Logger
	signer    signer.Signer
	relay     relay.Backend
	chain     Chain
	store     gamedb.Store
	networkID string

	retryBackoff   time.Duration
	confirmTimeout time.Duration

	mu       sync.Mutex
	inflight map[flightKey]*flight
}

// New returns a pipeline for one deployment's signer + relay pair.
func New(log slog.Logger, sgn signer.Signer, rly relay.Backend, chain Chain, store gamedb.Store, networkID string) *Pipeline {
	return &Pipeline{
		log:            log,
		signer:         sgn,
		relay:          rly,
		chain:          chain,
		store:          store,
		networkID:      networkID,
		retryBackoff:   defaultRetryBackoff,
		confirmTimeout: defaultConfirmTimeout,
		inflight:       make(map[flightKey]*flight),
	}
}

// SetTimings overrides the retry backoff and confirmation timeout. Tests
// shrink these.
func (p *Pipeline) SetTimings(retryBackoff, confirmTimeout time.Duration) {
	if retryBackoff >= 0 {
		p.retryBackoff = retryBackoff
	}
	if confirmTimeout > 0 {
		p.confirmTimeout = confirmTimeout
	}
}

// SignAuthEntry computes the authorization expiry from the current ledger
// height and the network's average close time, embeds it in the entry, and
// signs the result. The network rejects a later submission at or past the
// embedded height; clients also refuse locally (see CheckFresh).
func (p *Pipeline) SignAuthEntry(ctx context.Context, entry []byte, player string, ttlMinutes int) (signed []byte, expiry uint32, err error) {
	tip, err := p.chain.Tip(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("ledger height unavailable: %w", err)
	}
	expiry = ohloss.ExpiryLedger(tip.Sequence, ttlMinutes, tip.CloseSeconds)
	bound := appendExpiry(entry, expiry)
	sc := signer.Context{NetworkID: p.networkID, Address: player}
	signed, _, err = p.signer.SignAuthEntry(ctx, bound, sc)
	if err != nil {
		return nil, 0, err
	}
	p.log.Debugf("pipeline: signed auth entry for %s, expiry ledger %d (tip %d)", player, expiry, tip.Sequence)
	return signed, expiry, nil
}

// appendExpiry binds the exclusive ledger bound into the entry bytes so the
// signature commits to it.
func appendExpiry(entry []byte, expiry uint32) []byte {
	out := make([]byte, 0, len(entry)+4)
	out = append(out, entry...)
	out = append(out,
		byte(expiry>>24), byte(expiry>>16), byte(expiry>>8), byte(expiry))
	return out
}

// CheckFresh verifies a partial authorization is still usable at the
// current height. An expired one surfaces ErrInviteExpired without any
// submission attempt. When the tip is already cached this involves no
// network access at all.
func (p *Pipeline) CheckFresh(ctx context.Context, expiry uint32) error {
	tip, err := p.chain.Tip(ctx)
	if err != nil {
		return fmt.Errorf("ledger height unavailable: %w", err)
	}
	if ohloss.IsExpired(expiry, tip.Sequence) {
		return fmt.Errorf("%w: expiry ledger %d, tip %d", ErrInviteExpired, expiry, tip.Sequence)
	}
	return nil
}

// Execute runs the Built -> Signed -> Submitted -> terminal machine for one
// session. Concurrent invocations for the same (player, session) attach to
// the first one's outcome; a session that already has a stored submission
// handle resumes polling it. Exactly one submission can ever be outstanding
// per session.
func (p *Pipeline) Execute(ctx context.Context, player string, sessionID uint64, build BuildFunc) (*Result, error) {
	key := flightKey{player: player, id: sessionID}

	p.mu.Lock()
	if f, ok := p.inflight[key]; ok {
		p.mu.Unlock()
		p.log.Debugf("pipeline: session %d already in flight, attaching", sessionID)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-f.done:
			return f.res, f.err
		}
	}
	f := &flight{done: make(chan struct{})}
	p.inflight[key] = f
	p.mu.Unlock()

	res, err := p.run(ctx, player, sessionID, build)

	p.mu.Lock()
	delete(p.inflight, key)
	p.mu.Unlock()
	f.res, f.err = res, err
	close(f.done)
	return res, err
}

func (p *Pipeline) run(ctx context.Context, player string, sessionID uint64, build BuildFunc) (*Result, error) {
	// Idempotence: consult the store before touching the signer. A record
	// already past Signed resumes polling instead of re-submitting.
	rec, err := p.store.FetchSession(ctx, player, sessionID)
	if err != nil && !errors.Is(err, gamedb.ErrSessionNotFound) {
		return nil, fmt.Errorf("consult session store: %w", err)
	}
	if rec != nil && rec.SubmittedTx != "" {
		if rec.Status == gamedb.StatusComplete {
			p.log.Debugf("pipeline: session %d already complete", sessionID)
			return &Result{Status: StatusConfirmed, TxHash: rec.SubmittedTx}, nil
		}
		p.log.Infof("pipeline: session %d has outstanding submission %s, resuming poll", sessionID, rec.SubmittedTx)
		return p.await(ctx, rec.SubmittedTx)
	}

	// Built -> Signed.
	envelope, err := build(ctx)
	if err != nil {
		return nil, fmt.Errorf("build envelope: %w", err)
	}
	sc := signer.Context{NetworkID: p.networkID, Address: player}
	signed, err := p.signer.SignTransaction(ctx, envelope, sc)
	if err != nil {
		if errors.Is(err, signer.ErrUserRejected) {
			p.log.Infof("pipeline: session %d signing declined by user", sessionID)
			return &Result{Status: StatusFailed, Failure: FailureUserRejected}, nil
		}
		return nil, fmt.Errorf("sign: %w", err)
	}

	// Signed -> Submitted, with one bounded retry on transport failure.
	handle, err := p.submit(ctx, signed)
	if err != nil {
		switch {
		case errors.Is(err, relay.ErrRejected):
			p.log.Infof("pipeline: session %d rejected by relay: %v", sessionID, err)
			return &Result{Status: StatusFailed, Failure: FailureRelayRejected}, nil
		case errors.Is(err, relay.ErrUnreachable):
			p.log.Warnf("pipeline: session %d relay unreachable after retry: %v", sessionID, err)
			return &Result{Status: StatusFailed, Failure: FailureUnreachable}, nil
		default:
			return nil, err
		}
	}

	if err := p.store.SetSubmitted(ctx, player, sessionID, string(handle)); err != nil {
		// The submission is out; losing the handle would orphan it.
		return nil, fmt.Errorf("record submission %s: %w", handle, err)
	}

	// Submitted -> terminal.
	return p.await(ctx, string(handle))
}

func (p *Pipeline) submit(ctx context.Context, signed []byte) (relay.Handle, error) {
	handle, err := p.relay.Submit(ctx, signed)
	if err == nil || !errors.Is(err, relay.ErrUnreachable) {
		return handle, err
	}
	p.log.Debugf("pipeline: submit failed (%v), retrying once in %v", err, p.retryBackoff)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(p.retryBackoff):
	}
	return p.relay.Submit(ctx, signed)
}

func (p *Pipeline) await(ctx context.Context, hash string) (*Result, error) {
	st, err := p.chain.AwaitTx(ctx, hash, p.confirmTimeout)
	if err != nil {
		return nil, err
	}
	switch st {
	case chainwatcher.Confirmed:
		return &Result{Status: StatusConfirmed, TxHash: hash}, nil
	case chainwatcher.ChainRejected:
		return &Result{Status: StatusFailed, Failure: FailureChainRejected, TxHash: hash}, nil
	default:
		return &Result{Status: StatusTimedOut, TxHash: hash}, nil
	}
}
