package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/salewatch/internal/model"
)

func newTestSQLiteHistory(t *testing.T) *SQLiteHistory {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	h, err := NewSQLiteHistory(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() }) //nolint:errcheck
	require.NoError(t, h.Migrate(context.Background()))
	return h
}

func TestSQLiteHistory_Empty(t *testing.T) {
	h := newTestSQLiteHistory(t)
	got, err := h.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteHistory_AppendAndLoad(t *testing.T) {
	h := newTestSQLiteHistory(t)
	ctx := context.Background()

	require.NoError(t, h.Append(ctx, map[string]model.HistoryEntry{
		"abc": entry("池袋店"),
		"def": entry("渋谷店"),
	}))

	got, err := h.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "池袋店", got["abc"].Shop)
	assert.Equal(t, "t", got["abc"].Title)
	assert.Equal(t, "d", got["abc"].Date)
	assert.True(t, got["abc"].NotifiedAt.Equal(ts))
}

func TestSQLiteHistory_InsertOrIgnore(t *testing.T) {
	h := newTestSQLiteHistory(t)
	ctx := context.Background()

	require.NoError(t, h.Append(ctx, map[string]model.HistoryEntry{"abc": entry("first")}))
	require.NoError(t, h.Append(ctx, map[string]model.HistoryEntry{"abc": entry("second")}))

	got, err := h.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "first", got["abc"].Shop)
}

func TestSQLiteHistory_AppendNothing(t *testing.T) {
	h := newTestSQLiteHistory(t)
	assert.NoError(t, h.Append(context.Background(), nil))
}

func TestSQLiteHistory_MigrateIdempotent(t *testing.T) {
	h := newTestSQLiteHistory(t)
	assert.NoError(t, h.Migrate(context.Background()))
}
