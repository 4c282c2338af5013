package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/sitevault/sitevault/internal/state"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show tracked containers and their sync state",
		Long: `List every container the state store tracks: how many items are
recorded, whether an incremental cursor exists, and when it last synced.
Reads local state only — no network access.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
}

// statusEntry is the JSON shape for --json mode.
type statusEntry struct {
	Container  string    `json:"container"`
	Items      int       `json:"items"`
	Cursor     string    `json:"cursor"`
	LastSyncAt time.Time `json:"last_sync_at,omitempty"`
}

func runStatus(_ *cobra.Command, _ []string) error {
	store, err := openStateStore()
	if err != nil {
		return err
	}

	summaries := store.Summaries()
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Key < summaries[j].Key })

	if flagJSON {
		return printStatusJSON(summaries)
	}

	if len(summaries) == 0 {
		fmt.Println("No containers tracked yet. Run 'sitevault backup <locator>' to get started.")
		return nil
	}

	printStatusTable(summaries)

	return nil
}

func printStatusJSON(summaries []state.Summary) error {
	entries := make([]statusEntry, 0, len(summaries))

	for _, s := range summaries {
		cursor := "none"
		if s.HasCursor {
			cursor = "incremental"
		}

		entries = append(entries, statusEntry{
			Container:  s.Key,
			Items:      s.Items,
			Cursor:     cursor,
			LastSyncAt: s.LastSyncAt,
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(entries)
}

func printStatusTable(summaries []state.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Container", "Items", "Cursor", "Last Sync"})

	for _, s := range summaries {
		cursor := "none"
		if s.HasCursor {
			cursor = "incremental"
		}

		lastSync := "never"
		if !s.LastSyncAt.IsZero() {
			lastSync = humanize.Time(s.LastSyncAt)
		}

		t.AppendRow(table.Row{s.Key, s.Items, cursor, lastSync})
	}

	t.Render()
}
