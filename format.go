package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/sitevault/sitevault/internal/backup"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// printRunReport renders a run summary to stdout. Failures get their own
// table so the operator can see exactly what needs attention.
func printRunReport(r *backup.Report, dryRun bool) {
	if flagQuiet {
		return
	}

	if r.Unchanged {
		fmt.Println("Container unchanged since last run; nothing to do.")
		return
	}

	verb := "Transferred"
	if dryRun {
		verb = "Would transfer"
	}

	unit := time.Millisecond
	if r.Duration >= time.Second {
		unit = 100 * time.Millisecond
	}

	fmt.Printf("%s %d of %d candidates (%s), %d skipped, %d failed in %s\n",
		verb, r.Transferred, r.Candidates, humanize.Bytes(uint64(r.Bytes)),
		r.Skipped, r.Failed, r.Duration.Round(unit))

	if r.Partial {
		fmt.Printf("Warning: %s\n", r.Warning)
	}

	if r.ManifestPath != "" {
		fmt.Printf("Manifest: %s\n", r.ManifestPath)
	}

	if len(r.Failures) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"Path", "Item", "Error"})

		for _, f := range r.Failures {
			t.AppendRow(table.Row{f.RelPath, f.ItemID, f.Err})
		}

		t.Render()
	}
}

// printVerifyReport renders a verification summary and, when mismatches
// exist, a per-entry table.
func printVerifyReport(m *backup.Manifest, r *backup.VerifyReport) {
	if flagQuiet && r.OK() {
		return
	}

	fmt.Printf("Run %s: %d verified, %d mismatched\n", m.RunID, r.Verified, len(r.Mismatches))

	if r.OK() {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Path", "Status", "Expected", "Actual"})

	for _, mm := range r.Mismatches {
		t.AppendRow(table.Row{mm.Path, mm.Status, truncateCell(mm.Expected), truncateCell(mm.Actual)})
	}

	t.Render()
}

// truncateCell shortens long hashes for table display.
func truncateCell(s string) string {
	const maxCell = 16

	if len(s) > maxCell {
		return s[:maxCell] + "…"
	}

	return s
}
