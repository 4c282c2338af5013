// Package resolve turns ambiguous locators into concrete, addressable
// drive items by trying an ordered sequence of strategies until one
// succeeds. Direct identifiers never come through here — callers address
// those items immediately.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sitevault/sitevault/internal/graph"
	"github.com/sitevault/sitevault/internal/locator"
)

// Strategy names, in attempt order.
const (
	StrategyShareToken      = "share_token"
	StrategyDirectAddress   = "direct_address"
	StrategyContainerLookup = "container_lookup"
	StrategySearch          = "metadata_search"
	StrategyIDSearch        = "id_search"
)

// Attempt records one strategy attempt for diagnostics.
type Attempt struct {
	Strategy string
	Detail   string // failure reason, or "" when the strategy won
}

// Result is a successful resolution.
type Result struct {
	Item     *graph.Item
	Strategy string

	// Ambiguous marks a low-confidence search selection. Callers must
	// surface it to the operator instead of silently trusting the guess.
	Ambiguous bool
	Score     int

	Attempts []Attempt
}

// UnresolvedError reports that every applicable strategy failed. It is a
// terminal condition for the caller, never retried by the transport.
type UnresolvedError struct {
	Locator  string
	Attempts []Attempt
}

func (e *UnresolvedError) Error() string {
	tried := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		tried = append(tried, a.Strategy)
	}

	return fmt.Sprintf("resolve: locator %q unresolved after strategies: %s",
		e.Locator, strings.Join(tried, ", "))
}

// API is the slice of the graph client the resolver consumes.
type API interface {
	ResolveShare(ctx context.Context, shareURL string) (*graph.Item, error)
	GetItem(ctx context.Context, driveID, itemID string) (*graph.Item, error)
	GetRootItem(ctx context.Context, driveID string) (*graph.Item, error)
	ResolveContainerDrive(ctx context.Context, containerID string) (*graph.Drive, error)
	Search(ctx context.Context, terms []string) ([]graph.SearchHit, error)
}

// Resolver runs the strategy chain.
type Resolver struct {
	api    API
	logger *slog.Logger
}

// New creates a Resolver.
func New(api API, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{api: api, logger: logger}
}

// Resolve tries each strategy in order; the first success wins and later
// strategies are never attempted. Strategies whose input hints are absent
// are skipped without an attempt record.
func (r *Resolver) Resolve(ctx context.Context, hints locator.Hints) (*Result, error) {
	var attempts []Attempt

	type strategy struct {
		name string
		run  func(context.Context, locator.Hints) (*graph.Item, bool, int, error)
	}

	chain := []strategy{
		{StrategyShareToken, r.byShareToken},
		{StrategyDirectAddress, r.byDirectAddress},
		{StrategyContainerLookup, r.byContainerLookup},
		{StrategySearch, r.bySearch},
		{StrategyIDSearch, r.byIDSearch},
	}

	for _, s := range chain {
		item, ambiguous, score, err := s.run(ctx, hints)
		if errors.Is(err, errStrategySkipped) {
			continue
		}

		if err != nil {
			detail := graph.Sanitize(err.Error())
			attempts = append(attempts, Attempt{Strategy: s.name, Detail: detail})

			r.logger.Debug("resolution strategy failed",
				slog.String("strategy", s.name),
				slog.String("reason", detail),
			)

			continue
		}

		attempts = append(attempts, Attempt{Strategy: s.name})

		r.logger.Info("locator resolved",
			slog.String("strategy", s.name),
			slog.String("item_id", item.ID),
			slog.String("drive_id", item.DriveID),
			slog.Bool("ambiguous", ambiguous),
		)

		return &Result{
			Item:      item,
			Strategy:  s.name,
			Ambiguous: ambiguous,
			Score:     score,
			Attempts:  attempts,
		}, nil
	}

	return nil, &UnresolvedError{Locator: hints.Raw, Attempts: attempts}
}

// errStrategySkipped marks a strategy whose input hints are missing.
var errStrategySkipped = errors.New("resolve: strategy not applicable")

// byShareToken derives the deterministic share token from the locator URL
// and queries the sharing endpoint directly.
func (r *Resolver) byShareToken(ctx context.Context, hints locator.Hints) (*graph.Item, bool, int, error) {
	if hints.ShareURL == "" {
		return nil, false, 0, errStrategySkipped
	}

	item, err := r.api.ResolveShare(ctx, hints.ShareURL)
	if err != nil {
		return nil, false, 0, err
	}

	return item, false, 0, nil
}

// byDirectAddress uses decoded (driveID, itemID) hints. Item-not-found
// falls back to the container root: the link may point at content that
// moved, but the container is still the backup target.
func (r *Resolver) byDirectAddress(ctx context.Context, hints locator.Hints) (*graph.Item, bool, int, error) {
	if hints.DriveID == "" {
		return nil, false, 0, errStrategySkipped
	}

	return r.addressWithin(ctx, hints.DriveID, hints.ItemID)
}

// byContainerLookup resolves an embedded managed-container GUID to its
// drive, then retries direct addressing inside it.
func (r *Resolver) byContainerLookup(ctx context.Context, hints locator.Hints) (*graph.Item, bool, int, error) {
	if hints.ContainerID == "" {
		return nil, false, 0, errStrategySkipped
	}

	drive, err := r.api.ResolveContainerDrive(ctx, hints.ContainerID)
	if err != nil {
		return nil, false, 0, fmt.Errorf("resolving container %s: %w", hints.ContainerID, err)
	}

	return r.addressWithin(ctx, drive.ID, hints.ItemID)
}

// addressWithin fetches itemID inside driveID, falling back to the drive
// root when the item is gone or no item hint exists.
func (r *Resolver) addressWithin(ctx context.Context, driveID, itemID string) (*graph.Item, bool, int, error) {
	if itemID != "" {
		item, err := r.api.GetItem(ctx, driveID, itemID)
		if err == nil {
			return item, false, 0, nil
		}

		if !errors.Is(err, graph.ErrNotFound) {
			return nil, false, 0, err
		}

		r.logger.Debug("item gone, falling back to container root",
			slog.String("drive_id", driveID),
			slog.String("item_id", itemID),
		)
	}

	item, err := r.api.GetRootItem(ctx, driveID)
	if err != nil {
		return nil, false, 0, err
	}

	return item, false, 0, nil
}

// bySearch issues an OR-combined query over the extracted tokens and
// picks the highest-scoring hit. A low-confidence pick is still returned,
// marked ambiguous.
func (r *Resolver) bySearch(ctx context.Context, hints locator.Hints) (*graph.Item, bool, int, error) {
	tokens := tokensFromHints(hints)
	if len(tokens.terms) == 0 {
		return nil, false, 0, errStrategySkipped
	}

	hits, err := r.api.Search(ctx, tokens.terms)
	if err != nil {
		return nil, false, 0, err
	}

	if len(hits) == 0 {
		return nil, false, 0, errors.New("search returned no hits")
	}

	best, score, ambiguous := rankHits(hits, tokens)

	item, err := r.hitToItem(ctx, best)
	if err != nil {
		return nil, false, 0, err
	}

	return item, ambiguous, score, nil
}

// byIDSearch is the last resort: a narrower query on a recoverable stable
// identifier alone, accepted only on an exact ID match.
func (r *Resolver) byIDSearch(ctx context.Context, hints locator.Hints) (*graph.Item, bool, int, error) {
	id := hints.ItemID
	if id == "" && len(hints.GUIDs) > 0 {
		id = hints.GUIDs[0]
	}

	if id == "" {
		return nil, false, 0, errStrategySkipped
	}

	hits, err := r.api.Search(ctx, []string{id})
	if err != nil {
		return nil, false, 0, err
	}

	for _, h := range hits {
		if strings.EqualFold(h.ID, id) {
			item, err := r.hitToItem(ctx, h)
			if err != nil {
				return nil, false, 0, err
			}

			return item, false, scoreExactID, nil
		}
	}

	return nil, false, 0, fmt.Errorf("no exact match for identifier %s", id)
}

// hitToItem upgrades a search hit to a full item when the hit carries
// addressing information, else synthesizes a minimal item from the hit.
func (r *Resolver) hitToItem(ctx context.Context, hit graph.SearchHit) (*graph.Item, error) {
	if hit.DriveID != "" && hit.ID != "" {
		return r.api.GetItem(ctx, hit.DriveID, hit.ID)
	}

	return nil, fmt.Errorf("search hit %q carries no addressable identity", hit.Name)
}

// tokensFromHints extracts search inputs: embedded GUIDs and the trailing
// path segment as free-text terms, plus stable IDs for exact matching.
func tokensFromHints(hints locator.Hints) searchTokens {
	var tokens searchTokens

	tokens.ids = append(tokens.ids, hints.ItemID)
	tokens.ids = append(tokens.ids, hints.GUIDs...)

	tokens.terms = append(tokens.terms, hints.GUIDs...)
	if hints.PathTail != "" {
		tokens.terms = append(tokens.terms, hints.PathTail)
	}

	return tokens
}
