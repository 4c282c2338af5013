package graph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const itemJSON = `{
	"id": "ITEM1",
	"name": "report.docx",
	"size": 2048,
	"cTag": "ctag-1",
	"eTag": "etag-1",
	"webUrl": "https://contoso.sharepoint.com/sites/eng/report.docx",
	"file": {"mimeType": "application/vnd.openxmlformats", "hashes": {"quickXorHash": "aGFzaA=="}},
	"parentReference": {"driveId": "B!DRIVE1", "id": "PARENT1", "path": "/drives/b!drive1/root:/reports/2026"},
	"lastModifiedDateTime": "2026-08-01T10:00:00Z",
	"@microsoft.graph.downloadUrl": "https://download.example/content"
}`

func TestGetItemNormalizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/drives/b!drive1/items/ITEM1", r.URL.Path)
		_, _ = w.Write([]byte(itemJSON))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	item, err := c.GetItem(context.Background(), "b!drive1", "ITEM1")
	require.NoError(t, err)

	assert.Equal(t, "ITEM1", item.ID)
	assert.Equal(t, "b!drive1", item.DriveID, "drive ID must be lowercased")
	assert.Equal(t, "reports/2026/report.docx", item.Path)
	assert.Equal(t, int64(2048), item.Size)
	assert.Equal(t, "ctag-1", item.CTag)
	assert.Equal(t, "aGFzaA==", item.QuickXor)
	assert.False(t, item.IsFolder)
	assert.False(t, item.IsDeleted)
	assert.Equal(t, "b!drive1:ITEM1", item.Key())
}

func TestGetItemBadShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"unexpected": []}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	_, err := c.GetItem(context.Background(), "d", "i")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadResponse)
}

func TestDeltaPaging(t *testing.T) {
	var srvURL string

	mux := http.NewServeMux()
	mux.HandleFunc("/drives/d1/root/delta", func(w http.ResponseWriter, _ *http.Request) {
		resp := map[string]any{
			"value": []json.RawMessage{json.RawMessage(itemJSON)},
		}
		resp["@odata.nextLink"] = srvURL + "/page2"
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/page2", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"value": []any{
				map[string]any{
					"id":      "GONE1",
					"name":    "deleted.txt",
					"deleted": map[string]any{"state": "deleted"},
				},
			},
			"@odata.deltaLink": srvURL + "/drives/d1/root/delta?token=NEXT",
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	c := newTestClient(t, srv)

	page1, err := c.Delta(context.Background(), "d1", "")
	require.NoError(t, err)
	require.Len(t, page1.Items, 1)
	assert.Empty(t, page1.DeltaLink)
	require.NotEmpty(t, page1.NextLink)

	page2, err := c.Delta(context.Background(), "d1", page1.NextLink)
	require.NoError(t, err)
	require.Len(t, page2.Items, 1)
	assert.True(t, page2.Items[0].IsDeleted, "tombstones must survive normalization")
	assert.Contains(t, page2.DeltaLink, "token=NEXT")
}

func TestDeltaExpiredToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	_, err := c.Delta(context.Background(), "d1", srv.URL+"/drives/d1/root/delta?token=OLD")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGone)
}

func TestEncodeShareToken(t *testing.T) {
	// base64("https://x/y?z=1//") contains both padding and '/' so all
	// three substitutions are exercised.
	token := EncodeShareToken("https://x/y?z=1//")

	assert.True(t, len(token) > 2 && token[:2] == "u!")
	assert.NotContains(t, token, "=")
	assert.NotContains(t, token, "/")
	assert.NotContains(t, token, "+")
}

func TestResolveShare(t *testing.T) {
	wantToken := EncodeShareToken("https://contoso.sharepoint.com/:u:/s/eng/share-link")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/shares/"+wantToken+"/driveItem", r.URL.Path)
		_, _ = w.Write([]byte(itemJSON))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	item, err := c.ResolveShare(context.Background(), "https://contoso.sharepoint.com/:u:/s/eng/share-link")
	require.NoError(t, err)
	assert.Equal(t, "ITEM1", item.ID)
}

func TestResolveContainerDriveRetriesNotFound(t *testing.T) {
	calls := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		_ = json.NewEncoder(w).Encode(map[string]string{"id": "B!CDRIVE", "name": "container", "driveType": "business"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	drive, err := c.ResolveContainerDrive(context.Background(), "b4b59392-0000-4f60-9b1f-6e26ed8b3d21")
	require.NoError(t, err)
	assert.Equal(t, "b!cdrive", drive.ID)
	assert.Equal(t, 2, calls)
}

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/query", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Requests, 1)
		assert.Equal(t, []string{"driveItem"}, req.Requests[0].EntityTypes)
		assert.Contains(t, req.Requests[0].Query.QueryString, " OR ")

		_, _ = w.Write([]byte(`{"value":[{"hitsContainers":[{"hits":[
			{"hitId":"H1","resource":{"id":"ITEM9","name":"plan.loop","webUrl":"https://x/plan","parentReference":{"driveId":"B!D9"}}}
		]}]}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	hits, err := c.Search(context.Background(), []string{"plan", "d2a0fba2"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "ITEM9", hits[0].ID)
	assert.Equal(t, "b!d9", hits[0].DriveID)
}

func TestJoinParentPath(t *testing.T) {
	tests := []struct {
		name       string
		parentPath string
		itemName   string
		want       string
	}{
		{"nested", "/drives/d/root:/a/b", "c.txt", "a/b/c.txt"},
		{"top level", "/drives/d/root:", "c.txt", "c.txt"},
		{"no marker", "/weird", "c.txt", "c.txt"},
		{"empty", "", "root", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, joinParentPath(tt.parentPath, tt.itemName))
		})
	}
}
