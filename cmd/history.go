package main

import (
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/salewatch/internal/model"
	"github.com/sells-group/salewatch/internal/store"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect the notification history",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notified sales, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		h, err := store.Open(ctx, cfg.History.Driver, cfg.History.Path)
		if err != nil {
			return eris.Wrap(err, "open history")
		}
		defer h.Close() //nolint:errcheck

		entries, err := h.Load(ctx)
		if err != nil {
			return eris.Wrap(err, "load history")
		}

		renderHistory(cmd.OutOrStdout(), entries, historyLimit)
		return nil
	},
}

// renderHistory writes up to limit entries as a table, most recent first.
// A non-positive limit prints everything.
func renderHistory(w io.Writer, entries map[string]model.HistoryEntry, limit int) {
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := entries[ids[i]], entries[ids[j]]
		if !a.NotifiedAt.Equal(b.NotifiedAt) {
			return a.NotifiedAt.After(b.NotifiedAt)
		}
		return ids[i] < ids[j]
	})
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Notified At", "Shop", "Title", "Date", "ID"})
	for _, id := range ids {
		e := entries[id]
		t.AppendRow(table.Row{e.NotifiedAt.Local().Format("2006-01-02 15:04"), e.Shop, e.Title, e.Date, shortID(id)})
	}
	t.AppendFooter(table.Row{"", "", "", "Total", len(entries)})
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func init() {
	historyListCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum rows to show (0 for all)")
	historyCmd.AddCommand(historyListCmd)
	rootCmd.AddCommand(historyCmd)
}
