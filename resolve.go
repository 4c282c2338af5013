package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sitevault/sitevault/internal/locator"
	"github.com/sitevault/sitevault/internal/resolve"
)

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <locator>",
		Short: "Resolve a locator without backing anything up",
		Long: `Run the resolution chain on a locator and print which strategy won,
what was tried, and the resulting item. Useful for checking what a
backup of the same locator would target.`,
		Args: cobra.ExactArgs(1),
		RunE: runResolve,
	}
}

// resolveOutput is the JSON shape for --json mode.
type resolveOutput struct {
	Strategy  string `json:"strategy"`
	Ambiguous bool   `json:"ambiguous,omitempty"`
	Score     int    `json:"score,omitempty"`
	DriveID   string `json:"drive_id"`
	ItemID    string `json:"item_id"`
	Name      string `json:"name"`
	Path      string `json:"path,omitempty"`
	Folder    bool   `json:"folder"`
	WebURL    string `json:"web_url,omitempty"`
}

func runResolve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	hints := locator.Decode(args[0])
	if hints.Empty() {
		return fmt.Errorf("locator %q contains no usable identifiers", args[0])
	}

	client, err := newGraphClient(ctx)
	if err != nil {
		return err
	}

	result, err := resolve.New(client, logger).Resolve(ctx, hints)
	if err != nil {
		var unresolved *resolve.UnresolvedError
		if errors.As(err, &unresolved) {
			printAttempts(unresolved.Attempts)
		}

		return err
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(resolveOutput{
			Strategy:  result.Strategy,
			Ambiguous: result.Ambiguous,
			Score:     result.Score,
			DriveID:   result.Item.DriveID,
			ItemID:    result.Item.ID,
			Name:      result.Item.Name,
			Path:      result.Item.Path,
			Folder:    result.Item.IsFolder,
			WebURL:    result.Item.WebURL,
		})
	}

	printAttempts(result.Attempts)
	printResolved(result)

	return nil
}

func printAttempts(attempts []resolve.Attempt) {
	for _, a := range attempts {
		if a.Detail == "" {
			fmt.Printf("  %-18s ok\n", a.Strategy)
		} else {
			fmt.Printf("  %-18s failed: %s\n", a.Strategy, a.Detail)
		}
	}
}

func printResolved(result *resolve.Result) {
	kind := "file"
	if result.Item.IsFolder {
		kind = "folder"
	}

	fmt.Printf("\nResolved via %s: %s (%s)\n", result.Strategy, result.Item.Name, kind)
	fmt.Printf("  drive: %s\n  item:  %s\n", result.Item.DriveID, result.Item.ID)

	if result.Item.Path != "" {
		fmt.Printf("  path:  %s\n", result.Item.Path)
	}

	if result.Ambiguous {
		fmt.Printf("  note:  low-confidence match (score %d); other candidates existed\n", result.Score)
	}
}
