package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sitevault/sitevault/internal/backup"
	"github.com/sitevault/sitevault/internal/graph"
	"github.com/sitevault/sitevault/internal/locator"
	"github.com/sitevault/sitevault/internal/resolve"
)

// Per-command flags for backup.
var (
	flagDest          string
	flagForce         bool
	flagModifiedSince string
	flagWorkers       int
	flagDryRun        bool
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup <locator>",
		Short: "Back up a document library, folder, or file",
		Long: `Resolve a locator (share link, copied URL, pasted reference blob) to a
backup target, enumerate its contents, and transfer everything new or
changed to the local destination. A manifest describing the run is
written even when some items fail.`,
		Args: cobra.ExactArgs(1),
		RunE: runBackup,
	}

	cmd.Flags().StringVar(&flagDest, "dest", "", "destination directory (overrides config)")
	cmd.Flags().BoolVar(&flagForce, "force", false, "re-transfer items even when fingerprints match")
	cmd.Flags().StringVar(&flagModifiedSince, "modified-since", "", "only items modified on or after this date (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().IntVar(&flagWorkers, "workers", 0, "concurrent transfer workers (overrides config)")
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "report what would transfer without writing anything")

	return cmd
}

func runBackup(cmd *cobra.Command, args []string) error {
	ctx := shutdownContext(cmd.Context(), logger)

	modifiedSince, err := parseModifiedSince(flagModifiedSince)
	if err != nil {
		return err
	}

	client, err := newGraphClient(ctx)
	if err != nil {
		return err
	}

	target, err := resolveTarget(ctx, client, args[0])
	if err != nil {
		return err
	}

	store, err := openStateStore()
	if err != nil {
		return err
	}

	opts := backup.Options{
		DestRoot:      cfg.Backup.DestRoot,
		ManifestDir:   cfg.Backup.ManifestDir,
		Workers:       cfg.Backup.Workers,
		Force:         flagForce,
		ModifiedSince: modifiedSince,
		DryRun:        flagDryRun,
	}

	if flagDest != "" {
		opts.DestRoot = flagDest
	}

	if flagWorkers > 0 {
		opts.Workers = flagWorkers
	}

	engine := backup.NewEngine(client, store, opts, logger)

	report, err := engine.Run(ctx, target)
	if report != nil {
		printRunReport(report, flagDryRun)
	}

	return err
}

// resolveTarget turns a raw locator into the item to back up. An
// ambiguous search pick is surfaced to the operator, who can re-run with
// a more specific locator; the run proceeds on the best guess.
func resolveTarget(ctx context.Context, client *graph.Client, raw string) (*graph.Item, error) {
	hints := locator.Decode(raw)
	if hints.Empty() {
		return nil, fmt.Errorf("locator %q contains no usable identifiers", raw)
	}

	result, err := resolve.New(client, logger).Resolve(ctx, hints)
	if err != nil {
		return nil, err
	}

	if result.Ambiguous {
		statusf(flagQuiet, "Warning: locator matched multiple candidates; proceeding with %q (score %d). Use a more specific link if this is wrong.\n",
			result.Item.Name, result.Score)
	}

	return result.Item, nil
}

// parseModifiedSince accepts a bare date or a full RFC 3339 timestamp.
func parseModifiedSince(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}

	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid --modified-since value %q: expected YYYY-MM-DD or RFC 3339", s)
}
