package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// deltaResponse mirrors the Graph delta response envelope.
type deltaResponse struct {
	Value     []driveItemResponse `json:"value"`
	NextLink  string              `json:"@odata.nextLink"`  //nolint:tagliatelle // OData annotation key
	DeltaLink string              `json:"@odata.deltaLink"` //nolint:tagliatelle // OData annotation key
}

// Delta fetches one page of delta changes for a drive.
//
// Pass an empty token for a full enumeration (the feed then yields every
// live item page by page). For incremental runs pass the DeltaLink stored
// from the previous run; the feed then yields only changed items,
// including tombstones. NextLink/DeltaLink values from the returned page
// are fed back in as the token for the following call.
//
// HTTP 410 means the stored token has expired; callers detect it with
// errors.Is(err, ErrGone) and fall back to a full enumeration.
func (c *Client) Delta(ctx context.Context, driveID, token string) (*DeltaPage, error) {
	path := fmt.Sprintf("/drives/%s/root/delta", url.PathEscape(driveID))
	if token != "" {
		if !strings.HasPrefix(token, "http") {
			return nil, fmt.Errorf("%w: delta token is not a URL", ErrBadResponse)
		}

		path = token
	}

	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var dr deltaResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("%w: decoding delta page: %s", ErrBadResponse, Sanitize(err.Error()))
	}

	items := make([]Item, 0, len(dr.Value))
	for i := range dr.Value {
		items = append(items, dr.Value[i].toItem())
	}

	c.logger.Debug("fetched delta page",
		slog.String("drive_id", driveID),
		slog.Int("items", len(items)),
		slog.Bool("has_next_link", dr.NextLink != ""),
		slog.Bool("has_delta_link", dr.DeltaLink != ""),
	)

	return &DeltaPage{
		Items:     items,
		NextLink:  dr.NextLink,
		DeltaLink: dr.DeltaLink,
	}, nil
}
