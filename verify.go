package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sitevault/sitevault/internal/backup"
)

// errVerifyMismatch signals exit code 1 without the noise of a full error
// chain — the mismatch table has already been printed.
var errVerifyMismatch = errors.New("verification found mismatches")

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify [manifest-path | run-id]",
		Short: "Verify local files against a run manifest",
		Long: `Re-check every file recorded in a manifest against the destination
directory: existence, size, then content hash. With no argument the most
recent manifest is used. Verification is read-only.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runVerify,
	}

	cmd.Flags().StringVar(&flagDest, "dest", "", "destination directory (overrides config)")

	return cmd
}

func runVerify(cmd *cobra.Command, args []string) error {
	manifestPath, err := locateManifest(args)
	if err != nil {
		return err
	}

	m, err := backup.LoadManifest(manifestPath)
	if err != nil {
		return err
	}

	destRoot := cfg.Backup.DestRoot
	if flagDest != "" {
		destRoot = flagDest
	}

	report, err := backup.Verify(cmd.Context(), m, destRoot, logger)
	if err != nil {
		return err
	}

	printVerifyReport(m, report)

	if !report.OK() {
		return errVerifyMismatch
	}

	return nil
}

// locateManifest maps the optional argument to a manifest file: a path to
// an existing file wins, then a run ID within the manifest directory, and
// with no argument the newest manifest.
func locateManifest(args []string) (string, error) {
	if len(args) == 0 {
		return backup.LatestManifest(cfg.Backup.ManifestDir)
	}

	arg := args[0]

	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		return arg, nil
	}

	runID := strings.ToUpper(arg)
	candidate := filepath.Join(cfg.Backup.ManifestDir, "manifest-"+runID+".json")

	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}

	return "", fmt.Errorf("no manifest found for %q", arg)
}
