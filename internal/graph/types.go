package graph

import (
	"strings"
	"time"
)

// Item is a normalized drive item (file, folder, or tombstone). Callers
// never see raw API payloads; every endpoint maps responses through this
// type and treats unexpected shapes as ErrBadResponse.
type Item struct {
	ID          string
	DriveID     string // normalized lowercase; Graph casing is inconsistent
	ParentID    string
	Name        string
	Path        string // slash-separated path relative to the drive root, "" for root
	Size        int64
	CTag        string // content fingerprint; changes on any modification
	ETag        string
	WebURL      string
	MimeType    string
	QuickXor    string // base64 QuickXorHash when the service provides one
	ModifiedAt  time.Time
	IsFolder    bool
	IsDeleted   bool
	DownloadURL string // pre-authenticated, ephemeral; never logged
}

// Key returns the item's identity: (containerId, itemId).
func (it Item) Key() string {
	return it.DriveID + ":" + it.ID
}

// DeltaPage is one page of a delta enumeration.
type DeltaPage struct {
	Items     []Item
	NextLink  string // more pages follow
	DeltaLink string // enumeration complete; persist as the next cursor
}

// Drive identifies a document library or other item container.
type Drive struct {
	ID   string
	Name string
	Type string // "documentLibrary", "business", ...
}

// SearchHit is one scored candidate from the search endpoint.
type SearchHit struct {
	ID      string
	DriveID string
	Name    string
	WebURL  string
}

// driveItemResponse mirrors the relevant subset of the Graph driveItem JSON.
type driveItemResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	CTag   string `json:"cTag"`
	ETag   string `json:"eTag"`
	WebURL string `json:"webUrl"`

	File *struct {
		MimeType string `json:"mimeType"`
		Hashes   *struct {
			QuickXorHash string `json:"quickXorHash"`
		} `json:"hashes"`
	} `json:"file"`

	Folder  *struct{} `json:"folder"`
	Deleted *struct {
		State string `json:"state"`
	} `json:"deleted"`

	ParentReference *struct {
		DriveID string `json:"driveId"`
		ID      string `json:"id"`
		Path    string `json:"path"`
	} `json:"parentReference"`

	LastModified time.Time `json:"lastModifiedDateTime"`
	DownloadURL  string    `json:"@microsoft.graph.downloadUrl"` //nolint:tagliatelle // Graph annotation key
}

// toItem normalizes a raw driveItem.
func (r *driveItemResponse) toItem() Item {
	it := Item{
		ID:          r.ID,
		Name:        r.Name,
		Size:        r.Size,
		CTag:        r.CTag,
		ETag:        r.ETag,
		WebURL:      r.WebURL,
		ModifiedAt:  r.LastModified,
		IsFolder:    r.Folder != nil,
		IsDeleted:   r.Deleted != nil,
		DownloadURL: r.DownloadURL,
	}

	if r.File != nil {
		it.MimeType = r.File.MimeType
		if r.File.Hashes != nil {
			it.QuickXor = r.File.Hashes.QuickXorHash
		}
	}

	if r.ParentReference != nil {
		it.DriveID = strings.ToLower(r.ParentReference.DriveID)
		it.ParentID = r.ParentReference.ID
		it.Path = joinParentPath(r.ParentReference.Path, r.Name)
	}

	return it
}

// joinParentPath converts a Graph parentReference path
// ("/drives/{id}/root:/a/b") plus the item name into a drive-root-relative
// path ("a/b/name"). Root items map to "".
func joinParentPath(parentPath, name string) string {
	if parentPath == "" {
		return ""
	}

	const rootMarker = "root:"

	idx := strings.Index(parentPath, rootMarker)
	if idx < 0 {
		return name
	}

	rel := strings.Trim(parentPath[idx+len(rootMarker):], "/")
	if rel == "" {
		return name
	}

	return rel + "/" + name
}
