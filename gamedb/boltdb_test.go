package gamedb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/decred/slog"
	bolt "go.etcd.io/bbolt"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "sessions.db"), slog.Disabled)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func initiatorRecord(id uint64) *SessionRecord {
	return &SessionRecord{
		ID:         id,
		Role:       RoleInitiator,
		Wager:      10000000,
		AuthEntry:  []byte("partial"),
		AuthExpiry: 1060,
		Status:     StatusAwaitingCounterparty,
	}
}

func TestSaveFetchRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := initiatorRecord(1)
	if err := s.SaveSession(ctx, "GALICE", rec); err != nil {
		t.Fatal(err)
	}
	got, err := s.FetchSession(ctx, "GALICE", 1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Wager != rec.Wager || got.Status != rec.Status || string(got.AuthEntry) != "partial" {
		t.Fatalf("got %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("CreatedAt not stamped")
	}

	if _, err := s.FetchSession(ctx, "GALICE", 99); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("missing id: %v", err)
	}
	if _, err := s.FetchSession(ctx, "GBOB", 1); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("other player must not see the record: %v", err)
	}
}

func TestPerPlayerIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Same session id, two players, independent records.
	if err := s.SaveSession(ctx, "GALICE", initiatorRecord(7)); err != nil {
		t.Fatal(err)
	}
	joiner := &SessionRecord{ID: 7, Role: RoleJoiner, Wager: 10000000, Status: StatusReady}
	if err := s.SaveSession(ctx, "GBOB", joiner); err != nil {
		t.Fatal(err)
	}
	a, _ := s.FetchSession(ctx, "GALICE", 7)
	b, _ := s.FetchSession(ctx, "GBOB", 7)
	if a.Role != RoleInitiator || b.Role != RoleJoiner {
		t.Fatalf("records not independent: %+v / %+v", a, b)
	}
}

func TestValidateInvariants(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Auth entry on a joiner is invalid.
	bad := &SessionRecord{ID: 1, Role: RoleJoiner, Status: StatusReady, AuthEntry: []byte("x")}
	if err := s.SaveSession(ctx, "GALICE", bad); err == nil {
		t.Fatal("joiner with auth entry accepted")
	}
	// Initiator past awaiting_counterparty must have dropped the entry.
	bad2 := &SessionRecord{ID: 1, Role: RoleInitiator, Status: StatusReady, AuthEntry: []byte("x")}
	if err := s.SaveSession(ctx, "GALICE", bad2); err == nil {
		t.Fatal("stale auth entry accepted")
	}
	// Complete without outcome is invalid.
	bad3 := &SessionRecord{ID: 1, Role: RoleJoiner, Status: StatusComplete}
	if err := s.SaveSession(ctx, "GALICE", bad3); err == nil {
		t.Fatal("complete without outcome accepted")
	}
}

func TestStatusMonotonicity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &SessionRecord{ID: 3, Role: RoleJoiner, Wager: 1, Status: StatusAwaitingOpponentMove}
	if err := s.SaveSession(ctx, "GALICE", rec); err != nil {
		t.Fatal(err)
	}
	back := &SessionRecord{ID: 3, Role: RoleJoiner, Wager: 1, Status: StatusReady}
	if err := s.SaveSession(ctx, "GALICE", back); !errors.Is(err, ErrStatusRegression) {
		t.Fatalf("regression accepted: %v", err)
	}
	fwd := &SessionRecord{ID: 3, Role: RoleJoiner, Wager: 1, Status: StatusReadyToFinalize}
	if err := s.SaveSession(ctx, "GALICE", fwd); err != nil {
		t.Fatalf("forward transition refused: %v", err)
	}
}

func TestExpiryNeverDecreases(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveSession(ctx, "GALICE", initiatorRecord(4)); err != nil {
		t.Fatal(err)
	}
	lower := initiatorRecord(4)
	lower.AuthExpiry = 900
	if err := s.SaveSession(ctx, "GALICE", lower); !errors.Is(err, ErrExpiryRegression) {
		t.Fatalf("expiry decrease accepted: %v", err)
	}
}

func TestOutcomeImmutable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &SessionRecord{ID: 5, Role: RoleJoiner, Wager: 1, Status: StatusReadyToFinalize}
	if err := s.SaveSession(ctx, "GALICE", rec); err != nil {
		t.Fatal(err)
	}
	out := Outcome{Winner: "GALICE", LocalPlayerWon: true, Payout: 2}
	if err := s.SetOutcome(ctx, "GALICE", 5, out); err != nil {
		t.Fatal(err)
	}
	got, _ := s.FetchSession(ctx, "GALICE", 5)
	if got.Status != StatusComplete || got.Outcome == nil || got.Outcome.Winner != "GALICE" {
		t.Fatalf("got %+v", got)
	}
	if err := s.SetOutcome(ctx, "GALICE", 5, Outcome{Winner: "GBOB"}); !errors.Is(err, ErrOutcomeImmutable) {
		t.Fatalf("outcome overwrite accepted: %v", err)
	}
}

func TestSetSubmitted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &SessionRecord{ID: 6, Role: RoleJoiner, Wager: 1, Status: StatusReady}
	if err := s.SaveSession(ctx, "GALICE", rec); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSubmitted(ctx, "GALICE", 6, "hash-1"); err != nil {
		t.Fatal(err)
	}
	// Same hash is an idempotent no-op; a different hash is refused.
	if err := s.SetSubmitted(ctx, "GALICE", 6, "hash-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSubmitted(ctx, "GALICE", 6, "hash-2"); err == nil {
		t.Fatal("second submission handle accepted")
	}

	// Clearing a terminally failed handle frees the session to submit a
	// replacement.
	if err := s.ClearSubmitted(ctx, "GALICE", 6); err != nil {
		t.Fatal(err)
	}
	got, _ := s.FetchSession(ctx, "GALICE", 6)
	if got.SubmittedTx != "" {
		t.Fatalf("handle survived clear: %q", got.SubmittedTx)
	}
	if err := s.SetSubmitted(ctx, "GALICE", 6, "hash-2"); err != nil {
		t.Fatalf("replacement handle refused: %v", err)
	}
}

func TestPruneSkipsPendingSubmissions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-72 * time.Hour)
	// Old and inactive: pruned.
	a := &SessionRecord{ID: 1, Role: RoleJoiner, Wager: 1, Status: StatusReady, CreatedAt: old}
	// Old but with an unresolved submission: kept for reconciliation.
	b := &SessionRecord{ID: 2, Role: RoleJoiner, Wager: 1, Status: StatusAwaitingOpponentMove, SubmittedTx: "abc", CreatedAt: old}
	// Fresh: kept.
	c := &SessionRecord{ID: 3, Role: RoleJoiner, Wager: 1, Status: StatusReady}
	for _, rec := range []*SessionRecord{a, b, c} {
		if err := s.SaveSession(ctx, "GALICE", rec); err != nil {
			t.Fatal(err)
		}
	}
	n, err := s.Prune(ctx, "GALICE", DefaultPruneHorizon)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
	if _, err := s.FetchSession(ctx, "GALICE", 1); !errors.Is(err, ErrSessionNotFound) {
		t.Fatal("old inactive record survived")
	}
	if _, err := s.FetchSession(ctx, "GALICE", 2); err != nil {
		t.Fatal("pending-submission record was pruned")
	}
	if _, err := s.FetchSession(ctx, "GALICE", 3); err != nil {
		t.Fatal("fresh record was pruned")
	}
}

func TestUnknownFieldsIgnoredOnLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Simulate a record written by a newer build with extra fields.
	blob, _ := json.Marshal(map[string]any{
		"id": 9, "role": "joiner", "wager": 5, "status": "ready",
		"created_at":   time.Now().UTC(),
		"future_field": "ignore me",
	})
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(sessionsBucket).CreateBucketIfNotExists([]byte("GALICE"))
		if err != nil {
			return err
		}
		var k [8]byte
		binary.BigEndian.PutUint64(k[:], 9)
		return b.Put(k[:], blob)
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.FetchSession(ctx, "GALICE", 9)
	if err != nil {
		t.Fatal(err)
	}
	if got.Wager != 5 || got.Status != StatusReady {
		t.Fatalf("got %+v", got)
	}
}
