package gamedb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/decred/slog"
	bolt "go.etcd.io/bbolt"
)

var sessionsBucket = []byte("sessions")

// BoltStore is the bbolt-backed Store: one sub-bucket per player address,
// one JSON value per session id. Unknown JSON fields from newer versions
// are ignored on load, never rejected.
type BoltStore struct {
	db  *bolt.DB
	log slog.Logger
	now func() time.Time
}

// NewBoltStore opens (or creates) the database file at path.
func NewBoltStore(path string, log slog.Logger) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init session db: %w", err)
	}
	return &BoltStore{db: db, log: log, now: time.Now}, nil
}

// Close releases the database file.
func (s *BoltStore) Close() error { return s.db.Close() }

func sessionKey(id uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], id)
	return k[:]
}

func playerBucket(tx *bolt.Tx, player string, create bool) (*bolt.Bucket, error) {
	root := tx.Bucket(sessionsBucket)
	if root == nil {
		return nil, ErrPlayerBucketGone
	}
	if create {
		return root.CreateBucketIfNotExists([]byte(player))
	}
	b := root.Bucket([]byte(player))
	if b == nil {
		return nil, ErrPlayerBucketGone
	}
	return b, nil
}

func getRecord(b *bolt.Bucket, id uint64) (*SessionRecord, error) {
	raw := b.Get(sessionKey(id))
	if raw == nil {
		return nil, ErrSessionNotFound
	}
	var rec SessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode session %d: %w", id, err)
	}
	return &rec, nil
}

func putRecord(b *bolt.Bucket, rec *SessionRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.Put(sessionKey(rec.ID), raw)
}

// checkMonotonic enforces what may change between the stored record and the
// incoming one.
func checkMonotonic(old, next *SessionRecord) error {
	if statusRank[next.Status] < statusRank[old.Status] {
		return fmt.Errorf("%w: %s -> %s", ErrStatusRegression, old.Status, next.Status)
	}
	if old.AuthExpiry != 0 && next.AuthExpiry != 0 && next.AuthExpiry < old.AuthExpiry {
		return fmt.Errorf("%w: %d -> %d", ErrExpiryRegression, old.AuthExpiry, next.AuthExpiry)
	}
	if old.Outcome != nil && (next.Outcome == nil || *next.Outcome != *old.Outcome) {
		return ErrOutcomeImmutable
	}
	return nil
}

// SaveSession implements Store.
func (s *BoltStore) SaveSession(ctx context.Context, player string, rec *SessionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid session record: %w", err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := playerBucket(tx, player, true)
		if err != nil {
			return err
		}
		if old, err := getRecord(b, rec.ID); err == nil {
			if err := checkMonotonic(old, rec); err != nil {
				return err
			}
			// CreatedAt is fixed at first write.
			rec.CreatedAt = old.CreatedAt
		}
		return putRecord(b, rec)
	})
}

// FetchSession implements Store.
func (s *BoltStore) FetchSession(ctx context.Context, player string, id uint64) (*SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec *SessionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := playerBucket(tx, player, false)
		if err != nil {
			return ErrSessionNotFound
		}
		rec, err = getRecord(b, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// FetchSessionsByPlayer implements Store.
func (s *BoltStore) FetchSessionsByPlayer(ctx context.Context, player string) ([]*SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*SessionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := playerBucket(tx, player, false)
		if err != nil {
			return nil // no sessions yet
		}
		return b.ForEach(func(k, v []byte) error {
			var rec SessionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				// Skip corrupt entries rather than poisoning the whole
				// listing.
				s.log.Warnf("gamedb: skipping corrupt session %x for %s: %v", k, player, err)
				return nil
			}
			out = append(out, &rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltStore) mutate(player string, id uint64, fn func(rec *SessionRecord) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := playerBucket(tx, player, false)
		if err != nil {
			return ErrSessionNotFound
		}
		rec, err := getRecord(b, id)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
		return putRecord(b, rec)
	})
}

// SetSubmitted implements Store.
func (s *BoltStore) SetSubmitted(ctx context.Context, player string, id uint64, txHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.mutate(player, id, func(rec *SessionRecord) error {
		if rec.SubmittedTx != "" && rec.SubmittedTx != txHash {
			return fmt.Errorf("session %d already has submission %s", id, rec.SubmittedTx)
		}
		rec.SubmittedTx = txHash
		return nil
	})
}

// ClearSubmitted implements Store.
func (s *BoltStore) ClearSubmitted(ctx context.Context, player string, id uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.mutate(player, id, func(rec *SessionRecord) error {
		rec.SubmittedTx = ""
		return nil
	})
}

// SetOutcome implements Store.
func (s *BoltStore) SetOutcome(ctx context.Context, player string, id uint64, out Outcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.mutate(player, id, func(rec *SessionRecord) error {
		if rec.Outcome != nil {
			return ErrOutcomeImmutable
		}
		rec.Outcome = &out
		rec.Status = StatusComplete
		// The partial authorization has served its purpose.
		rec.AuthEntry = nil
		return nil
	})
}

// DeleteSession implements Store.
func (s *BoltStore) DeleteSession(ctx context.Context, player string, id uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := playerBucket(tx, player, false)
		if err != nil {
			return nil
		}
		return b.Delete(sessionKey(id))
	})
}

// Prune implements Store. Records with a pending submission are left for
// reconciliation regardless of age.
func (s *BoltStore) Prune(ctx context.Context, player string, horizon time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if horizon <= 0 {
		horizon = DefaultPruneHorizon
	}
	cutoff := s.now().Add(-horizon)
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := playerBucket(tx, player, false)
		if err != nil {
			return nil
		}
		var stale [][]byte
		err = b.ForEach(func(k, v []byte) error {
			var rec SessionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				stale = append(stale, append([]byte{}, k...))
				return nil
			}
			if !rec.CreatedAt.Before(cutoff) {
				return nil
			}
			if rec.SubmittedTx != "" && rec.Status != StatusComplete {
				// Ambiguous submission: reconciliation decides its fate.
				return nil
			}
			stale = append(stale, append([]byte{}, k...))
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.log.Debugf("gamedb: pruned %d session(s) for %s", removed, player)
	}
	return removed, nil
}

var _ Store = (*BoltStore)(nil)
