// Package client owns a single player's wager sessions end to end: creating
// a game and handing out the invite, joining from an invite, finalizing,
// and reconciling local state with the chain after a reload. It is the only
// writer of the session store.
package client

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/decred/slog"

	ohloss "github.com/kalepail/ohloss-sub002"
	"github.com/kalepail/ohloss-sub002/chainrpc"
	"github.com/kalepail/ohloss-sub002/gamedb"
	"github.com/kalepail/ohloss-sub002/invite"
	"github.com/kalepail/ohloss-sub002/pipeline"
)

// ChainState is the slice of the node client the game client reads for
// reconciliation. chainrpc.Client satisfies it.
type ChainState interface {
	GameState(ctx context.Context, sessionID uint64) (*chainrpc.GameState, error)
	GetTransaction(ctx context.Context, hash string) (chainrpc.TxStatus, error)
}

// GameClient drives one player's sessions through the pipeline.
type GameClient struct {
	log   slog.Logger
	addr  string
	ttl   int // invite TTL, minutes
	store gamedb.Store
	pipe  *pipeline.Pipeline
	chain ChainState
	cache *QueryCache
}

// NewGameClient wires a client for the player address. The pipeline carries
// the deployment's signer and relay; the store must be exclusive to this
// client.
func NewGameClient(log slog.Logger, addr string, ttlMinutes int, store gamedb.Store, pipe *pipeline.Pipeline, chain ChainState) (*GameClient, error) {
	if addr == "" {
		return nil, fmt.Errorf("client needs a player address")
	}
	if ttlMinutes <= 0 {
		return nil, fmt.Errorf("client needs a positive invite ttl")
	}
	return &GameClient{
		log:   log,
		addr:  addr,
		ttl:   ttlMinutes,
		store: store,
		pipe:  pipe,
		chain: chain,
		cache: NewQueryCache(0),
	}, nil
}

// Address returns the local player address.
func (c *GameClient) Address() string { return c.addr }

// Cache exposes the read-only query cache for balance/points lookups.
func (c *GameClient) Cache() *QueryCache { return c.cache }

const authEntryTag = "ohloss/auth/v1"

// buildAuthEntry encodes the initiator's authorization payload. The chain
// contract defines the real layout; the core only needs determinism and the
// (session, player, wager) binding.
func buildAuthEntry(sessionID uint64, player string, wager uint64) []byte {
	buf := make([]byte, 0, len(authEntryTag)+8+8+len(player))
	buf = append(buf, authEntryTag...)
	buf = binary.BigEndian.AppendUint64(buf, sessionID)
	buf = binary.BigEndian.AppendUint64(buf, wager)
	buf = append(buf, player...)
	return buf
}

// buildEnvelope encodes an unsigned transaction invoking the game contract.
// Opaque to everything past the signer.
func buildEnvelope(op string, sessionID uint64, player string, authEntry []byte) []byte {
	buf := make([]byte, 0, 16+len(op)+len(player)+len(authEntry))
	buf = append(buf, "ohloss/tx/v1|"...)
	buf = append(buf, op...)
	buf = append(buf, '|')
	buf = binary.BigEndian.AppendUint64(buf, sessionID)
	buf = append(buf, player...)
	buf = append(buf, authEntry...)
	return buf
}

// CreateGame signs a partial authorization for a new session and returns
// the invite token to hand to the counterparty out-of-band. Nothing is
// submitted; the joiner's transaction carries both authorizations.
func (c *GameClient) CreateGame(ctx context.Context, sessionID uint64, wagerAmount string) (string, error) {
	wager, err := ohloss.ParseAmount(wagerAmount)
	if err != nil {
		return "", fmt.Errorf("bad wager: %w", err)
	}
	if wager == 0 {
		return "", fmt.Errorf("wager must be positive")
	}
	if _, err := c.store.FetchSession(ctx, c.addr, sessionID); err == nil {
		return "", fmt.Errorf("session %d already exists", sessionID)
	} else if !errors.Is(err, gamedb.ErrSessionNotFound) {
		return "", err
	}

	entry := buildAuthEntry(sessionID, c.addr, wager)
	signed, expiry, err := c.pipe.SignAuthEntry(ctx, entry, c.addr, c.ttl)
	if err != nil {
		return "", fmt.Errorf("sign authorization: %w", err)
	}

	rec := &gamedb.SessionRecord{
		ID:         sessionID,
		Role:       gamedb.RoleInitiator,
		Wager:      wager,
		AuthEntry:  signed,
		AuthExpiry: expiry,
		Status:     gamedb.StatusAwaitingCounterparty,
	}
	if err := c.store.SaveSession(ctx, c.addr, rec); err != nil {
		return "", err
	}

	token, err := invite.Encode(sessionID, signed, expiry)
	if err != nil {
		return "", err
	}
	c.log.Infof("client: created session %d, wager %s, invite expires at ledger %d",
		sessionID, ohloss.FormatAmount(wager), expiry)
	return token, nil
}

// JoinGame decodes an invite, checks it is still fresh, and submits the
// joining transaction carrying the initiator's authorization plus our own
// signature. A stale invite fails locally with pipeline.ErrInviteExpired
// before any submission attempt.
func (c *GameClient) JoinGame(ctx context.Context, token string, wagerAmount string) (*pipeline.Result, error) {
	inv, err := invite.Decode(token)
	if err != nil {
		return nil, err
	}
	if err := c.pipe.CheckFresh(ctx, inv.Expiry); err != nil {
		return nil, err
	}
	wager, err := ohloss.ParseAmount(wagerAmount)
	if err != nil {
		return nil, fmt.Errorf("bad wager: %w", err)
	}
	if wager == 0 {
		return nil, fmt.Errorf("wager must be positive")
	}

	// A record already on disk means a reload mid-join; leave it alone so
	// the pipeline resumes from its stored submission handle instead of
	// signing and submitting a second time.
	_, err = c.store.FetchSession(ctx, c.addr, inv.SessionID)
	switch {
	case errors.Is(err, gamedb.ErrSessionNotFound):
		rec := &gamedb.SessionRecord{
			ID:         inv.SessionID,
			Role:       gamedb.RoleJoiner,
			Wager:      wager,
			AuthExpiry: inv.Expiry,
			Status:     gamedb.StatusReady,
		}
		if err := c.store.SaveSession(ctx, c.addr, rec); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		c.log.Debugf("client: session %d already known, resuming join", inv.SessionID)
	}

	res, err := c.pipe.Execute(ctx, c.addr, inv.SessionID, func(context.Context) ([]byte, error) {
		return buildEnvelope("join", inv.SessionID, c.addr, inv.AuthEntry), nil
	})
	if err != nil {
		return nil, err
	}
	if res.Status == pipeline.StatusConfirmed {
		c.advance(ctx, inv.SessionID, gamedb.StatusAwaitingOpponentMove)
		c.cache.Invalidate(balanceKey(c.addr))
	}
	return res, nil
}

// MarkOpponentMoved records the UI-observed transition that makes the
// finishing submission ours.
func (c *GameClient) MarkOpponentMoved(ctx context.Context, sessionID uint64) error {
	rec, err := c.store.FetchSession(ctx, c.addr, sessionID)
	if err != nil {
		return err
	}
	rec.Status = gamedb.StatusReadyToFinalize
	return c.store.SaveSession(ctx, c.addr, rec)
}

// Finalize submits the finishing transaction for a session that is ready,
// then reads the authoritative outcome from the chain.
func (c *GameClient) Finalize(ctx context.Context, sessionID uint64) (*pipeline.Result, error) {
	rec, err := c.store.FetchSession(ctx, c.addr, sessionID)
	if err != nil {
		return nil, err
	}
	if rec.Status == gamedb.StatusComplete {
		return &pipeline.Result{Status: pipeline.StatusConfirmed, TxHash: rec.SubmittedTx}, nil
	}

	res, err := c.pipe.Execute(ctx, c.addr, sessionID, func(context.Context) ([]byte, error) {
		return buildEnvelope("finalize", sessionID, c.addr, nil), nil
	})
	if err != nil {
		return nil, err
	}
	if res.Status == pipeline.StatusConfirmed {
		if err := c.recordOutcome(ctx, sessionID); err != nil {
			c.log.Warnf("client: session %d confirmed but outcome read failed: %v", sessionID, err)
		}
		c.cache.Invalidate(balanceKey(c.addr))
	}
	return res, nil
}

// recordOutcome pulls the completed game state and persists the outcome.
func (c *GameClient) recordOutcome(ctx context.Context, sessionID uint64) error {
	gs, err := c.chain.GameState(ctx, sessionID)
	if err != nil {
		return err
	}
	if !gs.Complete {
		return fmt.Errorf("session %d not complete on chain", sessionID)
	}
	out := gamedb.Outcome{
		Winner:         gs.Winner,
		LocalPlayerWon: gs.Winner == c.addr,
		Payout:         gs.Payout,
	}
	err = c.store.SetOutcome(ctx, c.addr, sessionID, out)
	if errors.Is(err, gamedb.ErrOutcomeImmutable) {
		return nil
	}
	return err
}

// advance moves a session's status forward, logging rather than failing on
// a benign race (another path already advanced it). The stored submission
// handle belongs to the phase just finished, so it is cleared; the next
// phase submits its own transaction.
func (c *GameClient) advance(ctx context.Context, sessionID uint64, status gamedb.Status) {
	rec, err := c.store.FetchSession(ctx, c.addr, sessionID)
	if err != nil {
		c.log.Warnf("client: advance fetch session %d: %v", sessionID, err)
		return
	}
	rec.Status = status
	rec.SubmittedTx = ""
	if err := c.store.SaveSession(ctx, c.addr, rec); err != nil && !errors.Is(err, gamedb.ErrStatusRegression) {
		c.log.Warnf("client: advance session %d to %s: %v", sessionID, status, err)
	}
}

func balanceKey(addr string) string { return "balance/" + addr }

// Balance returns the player's balance through the query cache.
func (c *GameClient) Balance(ctx context.Context, fetch func(ctx context.Context) (uint64, error)) (uint64, error) {
	return c.cache.Get(ctx, balanceKey(c.addr), fetch)
}
