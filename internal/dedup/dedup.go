// Package dedup splits extracted records into those not yet notified and
// those already in the notification history.
package dedup

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/salewatch/internal/model"
	"github.com/sells-group/salewatch/internal/store"
)

// Store classifies records against a persisted History.
type Store struct {
	history store.History
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source for committed entries.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a Store over h.
func New(h store.History, opts ...Option) *Store {
	s := &Store{history: h, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Partition loads the history once and returns the records whose identity
// is unknown (fresh) and the rest (seen), both in input order. A repeated
// identity within records is fresh only at its first occurrence. An
// unreadable history is logged and treated as empty.
func (s *Store) Partition(ctx context.Context, records []model.SaleRecord) (fresh, seen []model.SaleRecord) {
	known := s.load(ctx)

	batch := make(map[string]struct{}, len(records))
	for _, r := range records {
		h := r.IdentityHash()
		_, inHistory := known[h]
		_, inBatch := batch[h]
		if inHistory || inBatch {
			seen = append(seen, r)
			continue
		}
		batch[h] = struct{}{}
		fresh = append(fresh, r)
	}

	zap.L().Debug("dedup: partitioned",
		zap.Int("history", len(known)),
		zap.Int("fresh", len(fresh)),
		zap.Int("seen", len(seen)),
	)
	return fresh, seen
}

// Commit records the identities of records as notified now. Identities
// already in the history keep their original entry.
func (s *Store) Commit(ctx context.Context, records []model.SaleRecord) error {
	if len(records) == 0 {
		return nil
	}

	ts := s.now()
	entries := make(map[string]model.HistoryEntry, len(records))
	for _, r := range records {
		h := r.IdentityHash()
		if _, ok := entries[h]; ok {
			continue
		}
		entries[h] = model.NewHistoryEntry(r, ts)
	}

	if err := s.history.Append(ctx, entries); err != nil {
		return eris.Wrap(err, "dedup: commit")
	}
	zap.L().Info("history updated", zap.Int("entries", len(entries)))
	return nil
}

func (s *Store) load(ctx context.Context) map[string]model.HistoryEntry {
	known, err := s.history.Load(ctx)
	if err != nil {
		zap.L().Warn("history unreadable, treating as empty", zap.Error(err))
		return map[string]model.HistoryEntry{}
	}
	return known
}
