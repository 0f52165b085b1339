// Package chainwatcher tracks the network's ledger tip and turns submission
// handles into terminal outcomes by bounded polling.
package chainwatcher

import (
	"context"
	"sync"
	"time"

	"github.com/decred/slog"

	"github.com/kalepail/ohloss-sub002/chainrpc"
)

// ChainQuerier is the slice of the node client the watcher needs.
// chainrpc.Client satisfies it.
type ChainQuerier interface {
	GetLatestLedger(ctx context.Context) (chainrpc.LatestLedger, error)
	GetTransaction(ctx context.Context, hash string) (chainrpc.TxStatus, error)
}

// LedgerUpdate is pushed to subscribers each tick the tip is known.
type LedgerUpdate struct {
	Sequence     uint32
	CloseSeconds float64
	At           time.Time
}

// TerminalStatus is the outcome of awaiting a submission handle.
type TerminalStatus string

const (
	// Confirmed: the transaction landed and succeeded.
	Confirmed TerminalStatus = "confirmed"
	// ChainRejected: the transaction landed but failed on-chain. Terminal
	// and distinct from never having reached the network.
	ChainRejected TerminalStatus = "chain_rejected"
	// TimedOut: no terminal status observed within the bound. The
	// submission may still land later; callers re-poll the same handle on
	// the next reconciliation pass instead of assuming failure.
	TimedOut TerminalStatus = "timed_out"
)

const (
	defaultTickInterval = 5 * time.Second
	defaultPollInterval = time.Second
)

// Watcher polls the chain tip on a fixed tick and broadcasts updates to
// every subscriber. It retains the last known tip so height checks (invite
// freshness, expiry computation) need no extra round trip.
type Watcher struct {
	log  slog.Logger
	node ChainQuerier

	tick time.Duration
	poll time.Duration

	mu   sync.RWMutex
	tip  LedgerUpdate
	has  bool
	subs map[chan LedgerUpdate]struct{}

	quit chan struct{}
	once sync.Once
}

// New returns a watcher over the given node client.
func New(log slog.Logger, node ChainQuerier) *Watcher {
	return &Watcher{
		log:  log,
		node: node,
		tick: defaultTickInterval,
		poll: defaultPollInterval,
		subs: make(map[chan LedgerUpdate]struct{}),
		quit: make(chan struct{}),
	}
}

// SetIntervals overrides the tick and poll cadence. Tests shrink these.
func (w *Watcher) SetIntervals(tick, poll time.Duration) {
	if tick > 0 {
		w.tick = tick
	}
	if poll > 0 {
		w.poll = poll
	}
}

// Stop terminates Run. Safe to call more than once.
func (w *Watcher) Stop() { w.once.Do(func() { close(w.quit) }) }

// Run polls the tip until ctx is done or Stop is called.
func (w *Watcher) Run(ctx context.Context) {
	w.log.Infof("watcher: started")
	defer w.log.Infof("watcher: stopped")
	t := time.NewTicker(w.tick)
	defer t.Stop()
	w.pollTip(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.quit:
			return
		case <-t.C:
			w.pollTip(ctx)
		}
	}
}

func (w *Watcher) pollTip(ctx context.Context) {
	ll, err := w.node.GetLatestLedger(ctx)
	if err != nil {
		// Transient; keep the last known tip.
		w.log.Debugf("watcher: GetLatestLedger failed: %v", err)
		return
	}
	u := LedgerUpdate{Sequence: ll.Sequence, CloseSeconds: ll.CloseSeconds, At: time.Now()}
	w.mu.Lock()
	w.tip = u
	w.has = true
	w.mu.Unlock()
	w.broadcast(u)
}

// CurrentTip returns the last observed tip, if any.
func (w *Watcher) CurrentTip() (LedgerUpdate, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tip, w.has
}

// Tip returns the cached tip, querying the node once when no tick has
// landed yet. Expiry math and freshness checks go through here so they work
// before Run's first tick.
func (w *Watcher) Tip(ctx context.Context) (LedgerUpdate, error) {
	if u, ok := w.CurrentTip(); ok {
		return u, nil
	}
	ll, err := w.node.GetLatestLedger(ctx)
	if err != nil {
		return LedgerUpdate{}, err
	}
	u := LedgerUpdate{Sequence: ll.Sequence, CloseSeconds: ll.CloseSeconds, At: time.Now()}
	w.mu.Lock()
	w.tip = u
	w.has = true
	w.mu.Unlock()
	return u, nil
}

// Subscribe adds a tip listener and returns the channel + unsubscribe. No
// initial snapshot is sent; first data arrives on the next tick.
func (w *Watcher) Subscribe() (<-chan LedgerUpdate, func()) {
	ch := make(chan LedgerUpdate, 8)
	w.mu.Lock()
	w.subs[ch] = struct{}{}
	n := len(w.subs)
	w.mu.Unlock()
	w.log.Debugf("watcher: subscribed (subs=%d)", n)

	unsub := func() {
		w.mu.Lock()
		delete(w.subs, ch)
		remaining := len(w.subs)
		w.mu.Unlock()
		w.log.Debugf("watcher: unsubscribed (subs=%d)", remaining)
		// Do not close(ch): the producer may still try to send; the
		// receiver stops by context instead.
	}
	return ch, unsub
}

// broadcast snapshots subscribers, then best-effort sends (non-blocking).
func (w *Watcher) broadcast(u LedgerUpdate) {
	w.mu.RLock()
	chs := make([]chan LedgerUpdate, 0, len(w.subs))
	for ch := range w.subs {
		chs = append(chs, ch)
	}
	w.mu.RUnlock()
	for _, ch := range chs {
		select {
		case ch <- u:
		default:
			// Drop if the receiver is slow.
		}
	}
}

// AwaitTx polls a submission handle until the network reports a terminal
// status or timeout elapses. Transient query errors count as "not yet
// known" and polling continues. The timeout is a client-side giving-up
// point only: it does not cancel the underlying submission.
func (w *Watcher) AwaitTx(ctx context.Context, hash string, timeout time.Duration) (TerminalStatus, error) {
	deadline := time.Now().Add(timeout)
	t := time.NewTicker(w.poll)
	defer t.Stop()

	for {
		st, err := w.node.GetTransaction(ctx, hash)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			w.log.Debugf("watcher: GetTransaction %s failed, will retry: %v", hash, err)
		} else {
			switch st {
			case chainrpc.TxSuccess:
				w.log.Debugf("watcher: tx %s confirmed", hash)
				return Confirmed, nil
			case chainrpc.TxFailed:
				w.log.Debugf("watcher: tx %s failed on-chain", hash)
				return ChainRejected, nil
			}
			// NOT_FOUND and PENDING both mean "keep waiting".
		}
		if time.Now().After(deadline) {
			w.log.Debugf("watcher: tx %s still unresolved after %v", hash, timeout)
			return TimedOut, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
	}
}
