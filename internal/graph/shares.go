package graph

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

// EncodeShareToken derives the deterministic sharing token for a share
// URL: "u!" plus unpadded base64 with URL-safe substitutions. Any client
// holding the URL can compute it without a round trip.
func EncodeShareToken(shareURL string) string {
	enc := base64.StdEncoding.EncodeToString([]byte(shareURL))
	enc = strings.TrimRight(enc, "=")
	enc = strings.ReplaceAll(enc, "/", "_")
	enc = strings.ReplaceAll(enc, "+", "-")

	return "u!" + enc
}

// ResolveShare resolves a share URL to the underlying drive item via the
// sharing endpoint.
func (c *Client) ResolveShare(ctx context.Context, shareURL string) (*Item, error) {
	token := EncodeShareToken(shareURL)
	path := fmt.Sprintf("/shares/%s/driveItem", token)

	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	return decodeItem(resp)
}
