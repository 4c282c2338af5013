package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// decodeItem reads and normalizes a single driveItem response body.
func decodeItem(resp *http.Response) (*Item, error) {
	defer resp.Body.Close()

	var raw driveItemResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decoding item: %s", ErrBadResponse, Sanitize(err.Error()))
	}

	if raw.ID == "" {
		return nil, fmt.Errorf("%w: item response missing id", ErrBadResponse)
	}

	item := raw.toItem()

	return &item, nil
}

// GetItem fetches a single item by drive and item ID.
func (c *Client) GetItem(ctx context.Context, driveID, itemID string) (*Item, error) {
	path := fmt.Sprintf("/drives/%s/items/%s", url.PathEscape(driveID), url.PathEscape(itemID))

	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	return decodeItem(resp)
}

// GetItemEventual fetches an item that may not be visible yet due to
// eventual consistency: 404 responses are retried under the reduced
// whitelist budget before surfacing as terminal.
func (c *Client) GetItemEventual(ctx context.Context, driveID, itemID string) (*Item, error) {
	path := fmt.Sprintf("/drives/%s/items/%s", url.PathEscape(driveID), url.PathEscape(itemID))

	resp, err := c.DoOpts(ctx, http.MethodGet, path, nil, RequestOptions{
		RetryStatuses: []int{http.StatusNotFound},
	})
	if err != nil {
		return nil, err
	}

	return decodeItem(resp)
}

// GetRootItem fetches the root folder of a drive. Its cTag serves as the
// container's aggregate fingerprint for the unchanged-container shortcut.
func (c *Client) GetRootItem(ctx context.Context, driveID string) (*Item, error) {
	path := fmt.Sprintf("/drives/%s/root", url.PathEscape(driveID))

	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	item, err := decodeItem(resp)
	if err != nil {
		return nil, err
	}

	if item.DriveID == "" {
		item.DriveID = driveID
	}

	return item, nil
}

// driveResponse mirrors the relevant subset of the Graph drive resource.
type driveResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	DriveType string `json:"driveType"`
}

// GetDrive fetches drive metadata by ID.
func (c *Client) GetDrive(ctx context.Context, driveID string) (*Drive, error) {
	path := fmt.Sprintf("/drives/%s", url.PathEscape(driveID))

	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var raw driveResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decoding drive: %s", ErrBadResponse, Sanitize(err.Error()))
	}

	if raw.ID == "" {
		return nil, fmt.Errorf("%w: drive response missing id", ErrBadResponse)
	}

	return &Drive{ID: raw.ID, Name: raw.Name, Type: raw.DriveType}, nil
}
