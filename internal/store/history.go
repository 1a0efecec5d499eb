// Package store persists the notification history used for deduplication.
package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/salewatch/internal/model"
)

// Supported history drivers.
const (
	DriverJSON   = "json"
	DriverSQLite = "sqlite"
)

// ErrCorrupt marks a history that exists but cannot be decoded. Callers treat
// it as empty.
var ErrCorrupt = eris.New("store: history corrupt")

// History is the persisted set of identity hashes already processed for
// notification, each with its HistoryEntry.
type History interface {
	// Load returns the full history. A corrupt history yields an empty map
	// and an error wrapping ErrCorrupt.
	Load(ctx context.Context) (map[string]model.HistoryEntry, error)
	// Append adds the entries whose hash is not yet present. Existing
	// entries are never overwritten.
	Append(ctx context.Context, entries map[string]model.HistoryEntry) error
	Close() error
}

// Open returns the History for driver at path. SQLite histories are migrated
// before being returned.
func Open(ctx context.Context, driver, path string) (History, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverJSON:
		return NewJSONHistory(path), nil
	case DriverSQLite:
		h, err := NewSQLiteHistory(path)
		if err != nil {
			return nil, err
		}
		if err := h.Migrate(ctx); err != nil {
			h.Close() //nolint:errcheck
			return nil, err
		}
		return h, nil
	default:
		return nil, eris.Errorf("store: unknown history driver %q", driver)
	}
}
