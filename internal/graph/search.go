package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// searchPageSize bounds one search response; resolution only inspects the
// top candidates, so a single page suffices.
const searchPageSize = 25

// searchRequest mirrors the /search/query request envelope.
type searchRequest struct {
	Requests []searchQuerySpec `json:"requests"`
}

type searchQuerySpec struct {
	EntityTypes []string `json:"entityTypes"`
	Query       struct {
		QueryString string `json:"queryString"`
	} `json:"query"`
	Size int `json:"size"`
}

// searchResponse mirrors the /search/query response envelope down to the
// hit resources; everything else is discarded.
type searchResponse struct {
	Value []struct {
		HitsContainers []struct {
			Hits []struct {
				HitID    string `json:"hitId"`
				Resource struct {
					ID              string `json:"id"`
					Name            string `json:"name"`
					WebURL          string `json:"webUrl"`
					ParentReference *struct {
						DriveID string `json:"driveId"`
					} `json:"parentReference"`
				} `json:"resource"`
			} `json:"hits"`
		} `json:"hitsContainers"`
	} `json:"value"`
}

// Search issues a driveItem search combining the given terms with OR
// semantics and returns the raw hits in service order. Scoring and
// selection are the resolver's concern.
func (c *Client) Search(ctx context.Context, terms []string) ([]SearchHit, error) {
	if len(terms) == 0 {
		return nil, fmt.Errorf("%w: search requires at least one term", ErrBadRequest)
	}

	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, fmt.Sprintf("%q", t))
	}

	var spec searchQuerySpec
	spec.EntityTypes = []string{"driveItem"}
	spec.Query.QueryString = strings.Join(quoted, " OR ")
	spec.Size = searchPageSize

	body, err := json.Marshal(searchRequest{Requests: []searchQuerySpec{spec}})
	if err != nil {
		return nil, fmt.Errorf("graph: encoding search request: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPost, "/search/query", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("%w: decoding search response: %s", ErrBadResponse, Sanitize(err.Error()))
	}

	var hits []SearchHit

	for _, v := range sr.Value {
		for _, hc := range v.HitsContainers {
			for _, h := range hc.Hits {
				hit := SearchHit{
					ID:     h.Resource.ID,
					Name:   h.Resource.Name,
					WebURL: h.Resource.WebURL,
				}

				if hit.ID == "" {
					hit.ID = h.HitID
				}

				if h.Resource.ParentReference != nil {
					hit.DriveID = strings.ToLower(h.Resource.ParentReference.DriveID)
				}

				hits = append(hits, hit)
			}
		}
	}

	return hits, nil
}
