package client

import (
	"context"
	"errors"
	"time"

	"github.com/kalepail/ohloss-sub002/chainrpc"
	"github.com/kalepail/ohloss-sub002/gamedb"
	"github.com/kalepail/ohloss-sub002/pipeline"
)

// notFoundGrace is how long a record whose game the chain does not know
// about yet is left alone before reconciliation removes it. Submissions can
// take a few ledgers to appear; deleting too eagerly would orphan them.
const notFoundGrace = 10 * time.Minute

// Reconcile walks every stored session and replaces cached state with what
// the chain reports. It runs on startup and after any ambiguous pipeline
// outcome. The chain always wins: local status only fast-forwards, never
// rewinds.
func (c *GameClient) Reconcile(ctx context.Context) error {
	recs, err := c.store.FetchSessionsByPlayer(ctx, c.addr)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.reconcileOne(ctx, rec); err != nil {
			c.log.Warnf("client: reconcile session %d: %v", rec.ID, err)
		}
	}

	n, err := c.store.Prune(ctx, c.addr, gamedb.DefaultPruneHorizon)
	if err != nil {
		return err
	}
	if n > 0 {
		c.log.Infof("client: pruned %d stale sessions", n)
	}
	return nil
}

func (c *GameClient) reconcileOne(ctx context.Context, rec *gamedb.SessionRecord) error {
	switch rec.Status {
	case gamedb.StatusComplete:
		return nil

	case gamedb.StatusAwaitingCounterparty:
		return c.reconcileInvite(ctx, rec)

	default:
		return c.reconcileActive(ctx, rec)
	}
}

// reconcileInvite handles the initiator's wait: either someone joined while
// we were offline, or the authorization aged out.
func (c *GameClient) reconcileInvite(ctx context.Context, rec *gamedb.SessionRecord) error {
	gs, err := c.chain.GameState(ctx, rec.ID)
	switch {
	case err == nil:
		// A counterparty accepted. The partial authorization is consumed;
		// drop it and move on.
		rec.AuthEntry = nil
		if gs.Complete {
			return c.recordOutcome(ctx, rec.ID)
		}
		rec.Status = gamedb.StatusAwaitingOpponentMove
		c.log.Infof("client: session %d was joined while offline", rec.ID)
		return c.store.SaveSession(ctx, c.addr, rec)

	case errors.Is(err, chainrpc.ErrGameNotFound):
		if err := c.pipe.CheckFresh(ctx, rec.AuthExpiry); errors.Is(err, pipeline.ErrInviteExpired) {
			c.log.Infof("client: session %d invite expired unused, deleting", rec.ID)
			return c.store.DeleteSession(ctx, c.addr, rec.ID)
		} else if err != nil {
			return err
		}
		return nil

	default:
		return err
	}
}

// reconcileActive handles sessions with a game that should exist on chain.
func (c *GameClient) reconcileActive(ctx context.Context, rec *gamedb.SessionRecord) error {
	// An outstanding submission is checked by hash first: a timed-out
	// pipeline invocation may have landed after the deadline.
	if rec.SubmittedTx != "" {
		st, err := c.chain.GetTransaction(ctx, rec.SubmittedTx)
		if err != nil {
			return err
		}
		switch st {
		case chainrpc.TxSuccess:
			c.log.Infof("client: session %d submission %s confirmed after the fact", rec.ID, rec.SubmittedTx)
			if rec.Status == gamedb.StatusReady {
				c.advance(ctx, rec.ID, gamedb.StatusAwaitingOpponentMove)
			}
		case chainrpc.TxPending:
			return nil
		case chainrpc.TxFailed:
			// Terminal failure: drop the handle so a later Execute can
			// submit a replacement instead of re-polling the dead hash.
			c.log.Infof("client: session %d submission %s failed on-chain, clearing", rec.ID, rec.SubmittedTx)
			if err := c.store.ClearSubmitted(ctx, c.addr, rec.ID); err != nil {
				return err
			}
		case chainrpc.TxNotFound:
			c.log.Infof("client: session %d submission %s not yet known", rec.ID, rec.SubmittedTx)
		}
	}

	gs, err := c.chain.GameState(ctx, rec.ID)
	switch {
	case err == nil:
		if gs.Complete {
			return c.recordOutcome(ctx, rec.ID)
		}
		return nil

	case errors.Is(err, chainrpc.ErrGameNotFound):
		if time.Since(rec.CreatedAt) < notFoundGrace {
			return nil
		}
		c.log.Infof("client: session %d absent on chain past grace, deleting", rec.ID)
		return c.store.DeleteSession(ctx, c.addr, rec.ID)

	default:
		return err
	}
}
