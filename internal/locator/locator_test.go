package locator

import (
	"encoding/base64"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePlainURL(t *testing.T) {
	raw := "https://contoso.sharepoint.com/sites/eng/Shared%20Documents/plan.docx"

	h := Decode(raw)

	assert.Equal(t, raw, h.Raw)
	assert.Equal(t, raw, h.ShareURL)
	assert.Equal(t, "plan.docx", h.PathTail)
	assert.False(t, h.Empty())
}

func TestDecodeNestedPayload(t *testing.T) {
	payload := `{"driveId":"B!AbCdEfGhIjKlMn","itemId":"01BYSHS6EXAMPLEITEMID2345","webUrl":"https://contoso.sharepoint.com/doc"}`
	blob := base64.URLEncoding.EncodeToString([]byte(payload))
	raw := "https://loop.microsoft.com/open?p=" + url.QueryEscape(blob)

	h := Decode(raw)

	assert.Equal(t, "b!abcdefghijklmn", h.DriveID)
	assert.Equal(t, "01BYSHS6EXAMPLEITEMID2345", h.ItemID)
	assert.Contains(t, h.CandidateURLs, "https://contoso.sharepoint.com/doc")
}

func TestDecodeDoublyEncodedPayload(t *testing.T) {
	inner := `{"containerId":"d2a0fba2-34bc-4f60-9b1f-6e26ed8b3d21"}`
	once := base64.RawURLEncoding.EncodeToString([]byte(inner))
	twice := base64.RawURLEncoding.EncodeToString([]byte(once))
	raw := "app://open/" + twice

	h := Decode(raw)

	assert.Equal(t, "d2a0fba2-34bc-4f60-9b1f-6e26ed8b3d21", h.ContainerID)
	assert.Contains(t, h.GUIDs, "d2a0fba2-34bc-4f60-9b1f-6e26ed8b3d21")
}

func TestDecodeEmbeddedGUIDs(t *testing.T) {
	raw := "https://app.example/p/D2A0FBA2-34BC-4F60-9B1F-6E26ED8B3D21/view?s=11111111-2222-3333-4444-555555555555"

	h := Decode(raw)

	require.Len(t, h.GUIDs, 2)
	assert.Equal(t, "d2a0fba2-34bc-4f60-9b1f-6e26ed8b3d21", h.GUIDs[0], "GUIDs must be lowercased and deduplicated")
}

func TestDecodeRejectsInvalidGUIDShapedTokens(t *testing.T) {
	// Valid hex layout is required; uuid.Parse is the gatekeeper.
	h := Decode("ref zzzzzzzz-zzzz-zzzz-zzzz-zzzzzzzzzzzz only")

	assert.Empty(t, h.GUIDs)
}

func TestDecodeOpaqueStringYieldsRawOnly(t *testing.T) {
	h := Decode("just-some-words")

	assert.Equal(t, "just-some-words", h.Raw)
	assert.Empty(t, h.DriveID)
	assert.Empty(t, h.ShareURL)
	// The trailing segment of a non-URL locator is the locator itself.
	assert.Equal(t, "just-some-words", h.PathTail)
}

func TestDecodeDriveAndItemFromPlainText(t *testing.T) {
	h := Decode("b!XyZaBcDeFgHiJk/items/01BYSHS6EXAMPLEITEMID2345")

	assert.Equal(t, "b!xyzabcdefghijk", h.DriveID)
	assert.Equal(t, "01BYSHS6EXAMPLEITEMID2345", h.ItemID)
}

func TestDecodeBinaryBlobIsIgnored(t *testing.T) {
	blob := base64.StdEncoding.EncodeToString([]byte{0x00, 0x01, 0xfe, 0xff, 0x10, 0x80, 0x99, 0xab, 0xcd, 0xef, 0x01, 0x02})
	h := Decode("https://x.example/open?p=" + url.QueryEscape(blob))

	assert.Empty(t, h.DriveID)
	assert.Empty(t, h.ItemID)
	assert.Empty(t, h.ContainerID)
}
