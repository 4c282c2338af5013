package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ResolveContainerDrive resolves a managed storage container (SharePoint
// Embedded, identified by a GUID-like container ID) to its underlying
// drive. Container metadata is eventually consistent after provisioning,
// so 404s are retried under the reduced whitelist budget.
func (c *Client) ResolveContainerDrive(ctx context.Context, containerID string) (*Drive, error) {
	path := fmt.Sprintf("/storage/fileStorage/containers/%s/drive", url.PathEscape(containerID))

	resp, err := c.DoOpts(ctx, http.MethodGet, path, nil, RequestOptions{
		RetryStatuses: []int{http.StatusNotFound},
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var raw driveResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decoding container drive: %s", ErrBadResponse, Sanitize(err.Error()))
	}

	if raw.ID == "" {
		return nil, fmt.Errorf("%w: container drive response missing id", ErrBadResponse)
	}

	return &Drive{ID: strings.ToLower(raw.ID), Name: raw.Name, Type: raw.DriveType}, nil
}

// SiteDrive resolves a site (by hostname:path or site ID) to its default
// document library drive.
func (c *Client) SiteDrive(ctx context.Context, siteID string) (*Drive, error) {
	path := fmt.Sprintf("/sites/%s/drive", url.PathEscape(siteID))

	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var raw driveResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decoding site drive: %s", ErrBadResponse, Sanitize(err.Error()))
	}

	if raw.ID == "" {
		return nil, fmt.Errorf("%w: site drive response missing id", ErrBadResponse)
	}

	return &Drive{ID: strings.ToLower(raw.ID), Name: raw.Name, Type: raw.DriveType}, nil
}
