package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/salewatch/internal/model"
)

// SQLiteHistory keeps the history in a notified_sales table.
type SQLiteHistory struct {
	db *sql.DB
}

// NewSQLiteHistory opens a SQLite database at the given path and configures
// WAL mode.
func NewSQLiteHistory(dsn string) (*SQLiteHistory, error) {
	if dir := filepath.Dir(dsn); dir != "." && dsn != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "sqlite: create %s", dir)
		}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteHistory{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS notified_sales (
	hash        TEXT PRIMARY KEY,
	notified_at DATETIME NOT NULL,
	shop        TEXT NOT NULL DEFAULT '',
	title       TEXT NOT NULL DEFAULT '',
	date        TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_notified_sales_notified_at ON notified_sales(notified_at);
`

// Migrate creates the schema if needed.
func (s *SQLiteHistory) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteHistory) Close() error {
	return s.db.Close()
}

// Load returns every row of notified_sales.
func (s *SQLiteHistory) Load(ctx context.Context) (map[string]model.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hash, notified_at, shop, title, date FROM notified_sales`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load history")
	}
	defer rows.Close()

	out := map[string]model.HistoryEntry{}
	for rows.Next() {
		var (
			hash string
			e    model.HistoryEntry
		)
		if err := rows.Scan(&hash, &e.NotifiedAt, &e.Shop, &e.Title, &e.Date); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan history")
		}
		out[hash] = e
	}
	return out, eris.Wrap(rows.Err(), "sqlite: load history iterate")
}

// Append inserts entries in one transaction. Known hashes are ignored.
func (s *SQLiteHistory) Append(ctx context.Context, entries map[string]model.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO notified_sales (hash, notified_at, shop, title, date) VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert")
	}
	defer stmt.Close()

	for hash, e := range entries {
		at := e.NotifiedAt
		if at.IsZero() {
			at = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, hash, at.UTC(), e.Shop, e.Title, e.Date); err != nil {
			return eris.Wrapf(err, "sqlite: insert %s", hash)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}
