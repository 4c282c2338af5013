package resolve

import (
	"strings"

	"github.com/sitevault/sitevault/internal/graph"
)

// Scoring weights for search candidates. The thresholds are heuristic but
// deliberate: an exact identifier match plus either a name or URL match
// clears the confidence bar; text matches alone do not.
const (
	scoreExactID   = 50
	scoreNameMatch = 40
	scoreURLMatch  = 30
	scoreCap       = 100

	// confidentScore is the floor below which a multi-candidate result is
	// flagged ambiguous.
	confidentScore = 80
)

// searchTokens are the comparison inputs extracted from a locator.
type searchTokens struct {
	// ids are stable identifiers an exact hit ID must equal.
	ids []string

	// terms are free-text tokens matched against names and URLs.
	terms []string
}

// scoreHit is a pure function over a candidate and the extracted tokens,
// so the heuristic is unit-testable in isolation.
func scoreHit(hit graph.SearchHit, tokens searchTokens) int {
	score := 0

	for _, id := range tokens.ids {
		if id != "" && strings.EqualFold(hit.ID, id) {
			score += scoreExactID
			break
		}
	}

	name := strings.ToLower(hit.Name)
	webURL := strings.ToLower(hit.WebURL)

	for _, term := range tokens.terms {
		lt := strings.ToLower(term)
		if lt == "" {
			continue
		}

		if strings.Contains(name, lt) {
			score += scoreNameMatch
			break
		}
	}

	for _, term := range tokens.terms {
		lt := strings.ToLower(term)
		if lt == "" {
			continue
		}

		if strings.Contains(webURL, lt) {
			score += scoreURLMatch
			break
		}
	}

	if score > scoreCap {
		score = scoreCap
	}

	return score
}

// rankHits scores all hits and returns the best one, its score, and
// whether the choice is ambiguous (top score below the confidence bar
// while other candidates exist).
func rankHits(hits []graph.SearchHit, tokens searchTokens) (best graph.SearchHit, bestScore int, ambiguous bool) {
	bestScore = -1

	for _, h := range hits {
		if s := scoreHit(h, tokens); s > bestScore {
			best = h
			bestScore = s
		}
	}

	ambiguous = len(hits) > 1 && bestScore < confidentScore

	return best, bestScore, ambiguous
}
