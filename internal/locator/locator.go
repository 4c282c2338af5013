// Package locator decodes user-supplied references to remote items.
//
// A locator can be anything an operator pastes in: a plain drive/item pair,
// a sharing URL, or an application deep link whose query carries one or
// more nested base64 payloads. Decode digs structured hints out of
// whatever it is given; resolution strategy is the resolver's concern.
package locator

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// Hints is everything Decode could extract from a locator. Zero-valued
// fields simply mean the locator did not carry that hint; the resolver
// skips strategies whose inputs are missing.
type Hints struct {
	Raw string

	// Direct addressing hints from decoded payloads.
	DriveID string
	ItemID  string

	// ContainerID is a GUID-like managed-container token.
	ContainerID string

	// ShareURL is set when the locator itself is a web URL, usable for a
	// share-token lookup.
	ShareURL string

	// GUIDs are all embedded GUIDs, in discovery order, deduplicated.
	GUIDs []string

	// PathTail is the trailing path segment of the locator, if any.
	PathTail string

	// CandidateURLs are URLs found inside decoded payloads.
	CandidateURLs []string
}

// Empty reports whether decoding produced nothing beyond the raw locator.
func (h Hints) Empty() bool {
	return h.DriveID == "" && h.ItemID == "" && h.ContainerID == "" &&
		h.ShareURL == "" && len(h.GUIDs) == 0 && h.PathTail == ""
}

// maxDecodeDepth bounds recursion into nested encoded payloads.
const maxDecodeDepth = 4

// minBlobLen is the shortest string worth attempting base64 decoding on.
const minBlobLen = 16

var (
	guidPattern = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

	// driveIDPattern matches SharePoint drive identifiers ("b!..." tokens).
	driveIDPattern = regexp.MustCompile(`\bb![A-Za-z0-9_-]{8,}`)

	// itemIDPattern matches OneDrive/SharePoint item identifiers.
	itemIDPattern = regexp.MustCompile(`\b01[A-Z0-9]{20,}\b`)

	urlPattern = regexp.MustCompile(`https?://[^\s"'<>\\]+`)
)

// payloadKeys mirrors the JSON shapes deep-link payloads use.
type payloadKeys struct {
	DriveID     string `json:"driveId"`
	ItemID      string `json:"itemId"`
	ContainerID string `json:"containerId"`
	WebURL      string `json:"webUrl"`
	URL         string `json:"url"`
}

// Decode extracts structured hints from a locator. It never fails: a
// locator that decodes to nothing yields Hints with only Raw set, and the
// resolver proceeds on the raw string alone.
func Decode(raw string) Hints {
	h := Hints{Raw: raw}

	unescaped := fullyUnescape(raw)

	if u, err := url.Parse(unescaped); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		h.ShareURL = raw
		h.PathTail = pathTail(u.Path)

		h.absorb(u.Path, 0)

		// Query values and fragment often carry the nested payloads.
		for _, vs := range u.Query() {
			for _, v := range vs {
				h.absorb(v, 0)
			}
		}

		h.absorb(u.Fragment, 0)
	} else {
		h.PathTail = pathTail(unescaped)
		h.absorb(unescaped, 0)
	}

	h.absorbText(unescaped)

	return h
}

// absorb inspects a fragment of the locator: harvests tokens from the
// text itself, then attempts base64 decoding of plausible blobs and
// recurses into whatever they reveal.
func (h *Hints) absorb(s string, depth int) {
	if s == "" || depth > maxDecodeDepth {
		return
	}

	h.absorbText(s)

	for _, blob := range splitBlobs(s) {
		decoded, ok := decodeBase64(blob)
		if !ok {
			continue
		}

		h.absorbPayload(decoded)
		h.absorb(decoded, depth+1)
	}
}

// absorbPayload applies the known JSON payload shapes.
func (h *Hints) absorbPayload(s string) {
	var p payloadKeys
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return
	}

	if h.DriveID == "" && p.DriveID != "" {
		h.DriveID = strings.ToLower(p.DriveID)
	}

	if h.ItemID == "" && p.ItemID != "" {
		h.ItemID = p.ItemID
	}

	if h.ContainerID == "" && p.ContainerID != "" {
		h.ContainerID = p.ContainerID
	}

	for _, u := range []string{p.WebURL, p.URL} {
		if u != "" {
			h.addURL(u)
		}
	}
}

// absorbText harvests pattern-matched tokens from plain text.
func (h *Hints) absorbText(s string) {
	for _, g := range guidPattern.FindAllString(s, -1) {
		if _, err := uuid.Parse(g); err != nil {
			continue
		}

		h.addGUID(strings.ToLower(g))
	}

	if h.DriveID == "" {
		if m := driveIDPattern.FindString(s); m != "" {
			h.DriveID = strings.ToLower(m)
		}
	}

	if h.ItemID == "" {
		if m := itemIDPattern.FindString(s); m != "" {
			h.ItemID = m
		}
	}

	for _, u := range urlPattern.FindAllString(s, -1) {
		h.addURL(u)
	}
}

func (h *Hints) addGUID(g string) {
	for _, existing := range h.GUIDs {
		if existing == g {
			return
		}
	}

	h.GUIDs = append(h.GUIDs, g)
}

func (h *Hints) addURL(u string) {
	if u == h.ShareURL {
		return
	}

	for _, existing := range h.CandidateURLs {
		if existing == u {
			return
		}
	}

	h.CandidateURLs = append(h.CandidateURLs, u)
}

// fullyUnescape repeatedly percent-decodes until the string stops
// changing. Deep links are frequently double-encoded.
func fullyUnescape(s string) string {
	for i := 0; i < maxDecodeDepth; i++ {
		un, err := url.QueryUnescape(s)
		if err != nil || un == s {
			break
		}

		s = un
	}

	return s
}

// pathTail returns the last non-empty slash-separated segment.
func pathTail(path string) string {
	segs := strings.Split(path, "/")
	for i := len(segs) - 1; i >= 0; i-- {
		if segs[i] != "" {
			return segs[i]
		}
	}

	return ""
}

// splitBlobs yields substrings worth a base64 attempt: runs of base64
// alphabet characters of plausible length.
func splitBlobs(s string) []string {
	var blobs []string

	start := -1
	for i, r := range s {
		if isBase64Rune(r) {
			if start < 0 {
				start = i
			}

			continue
		}

		if start >= 0 && i-start >= minBlobLen {
			blobs = append(blobs, s[start:i])
		}

		start = -1
	}

	if start >= 0 && len(s)-start >= minBlobLen {
		blobs = append(blobs, s[start:])
	}

	return blobs
}

func isBase64Rune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) ||
		r == '+' || r == '/' || r == '=' || r == '-' || r == '_'
}

// decodeBase64 tries the standard and URL-safe alphabets, padded and raw.
// Only printable results are accepted — binary decodes are noise.
func decodeBase64(blob string) (string, bool) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}

	for _, enc := range encodings {
		out, err := enc.DecodeString(blob)
		if err != nil {
			continue
		}

		if isPrintable(out) {
			return string(out), true
		}
	}

	return "", false
}

func isPrintable(b []byte) bool {
	if len(b) == 0 {
		return false
	}

	for _, r := range string(b) {
		if r == unicode.ReplacementChar || (!unicode.IsPrint(r) && !unicode.IsSpace(r)) {
			return false
		}
	}

	return true
}
