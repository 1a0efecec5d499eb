package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/salewatch/internal/model"
)

// JSONHistory keeps the history as one indented JSON object mapping hex
// digest to entry. Every Append rewrites the whole file.
type JSONHistory struct {
	path string
	now  func() time.Time
}

// NewJSONHistory returns a JSONHistory backed by path. The file and its
// directory are created on the first Append.
func NewJSONHistory(path string) *JSONHistory {
	return &JSONHistory{path: path, now: time.Now}
}

// Path returns the history file path.
func (h *JSONHistory) Path() string { return h.path }

// Load reads the history file. A missing file is an empty history.
func (h *JSONHistory) Load(_ context.Context) (map[string]model.HistoryEntry, error) {
	data, err := os.ReadFile(h.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]model.HistoryEntry{}, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "store: read history %s", h.path)
	}

	var entries map[string]model.HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return map[string]model.HistoryEntry{}, eris.Wrapf(ErrCorrupt, "store: decode %s: %v", h.path, err)
	}
	if entries == nil {
		entries = map[string]model.HistoryEntry{}
	}
	return entries, nil
}

// Append merges entries into the file. A corrupt file is moved aside to
// <path>.corrupt-<unix> and replaced by a fresh history.
func (h *JSONHistory) Append(ctx context.Context, entries map[string]model.HistoryEntry) error {
	current, err := h.Load(ctx)
	if errors.Is(err, ErrCorrupt) {
		backup := fmt.Sprintf("%s.corrupt-%d", h.path, h.now().Unix())
		if rerr := os.Rename(h.path, backup); rerr != nil {
			return eris.Wrap(rerr, "store: preserve corrupt history")
		}
		zap.L().Warn("corrupt history preserved",
			zap.String("path", h.path),
			zap.String("backup", backup),
		)
		current = map[string]model.HistoryEntry{}
	} else if err != nil {
		return err
	}

	for hash, e := range entries {
		if _, ok := current[hash]; !ok {
			current[hash] = e
		}
	}
	return h.write(current)
}

// Close is a no-op.
func (h *JSONHistory) Close() error { return nil }

// write replaces the file atomically via a sibling temp file.
func (h *JSONHistory) write(entries map[string]model.HistoryEntry) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return eris.Wrap(err, "store: encode history")
	}

	dir := filepath.Dir(h.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "store: create %s", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(h.path)+".tmp-*")
	if err != nil {
		return eris.Wrap(err, "store: create temp history")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "store: write temp history")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "store: close temp history")
	}
	if err := os.Rename(tmp.Name(), h.path); err != nil {
		return eris.Wrap(err, "store: replace history")
	}
	return nil
}
