package backup

import (
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// placeholderSegment stands in for path segments that sanitize away to
// nothing. Never empty: an empty segment would silently merge two
// directory levels.
const placeholderSegment = "_"

// illegalReplacement substitutes characters the local filesystem rejects.
const illegalReplacement = '_'

// SanitizeSegment maps one remote path segment to a filesystem-legal
// segment. Each segment is sanitized independently so one bad segment
// never corrupts its siblings: illegal characters are replaced in place,
// leading/trailing dots and whitespace are trimmed, and a segment with
// no legal character at all collapses to the placeholder rather than a
// run of replacements.
func SanitizeSegment(seg string) string {
	seg = norm.NFC.String(seg)

	var b strings.Builder
	b.Grow(len(seg))

	legal := false

	for _, r := range seg {
		if isIllegalRune(r) {
			b.WriteRune(illegalReplacement)
		} else {
			b.WriteRune(r)
			legal = true
		}
	}

	if !legal {
		return placeholderSegment
	}

	out := strings.Trim(b.String(), ". \t")
	if out == "" {
		return placeholderSegment
	}

	return out
}

// isIllegalRune reports whether r cannot appear in a path segment on any
// supported filesystem (the Windows-restricted set plus control characters).
func isIllegalRune(r rune) bool {
	switch r {
	case '<', '>', ':', '"', '/', '\\', '|', '?', '*':
		return true
	}

	return r < 0x20 || r == 0x7f
}

// DestRelPath maps a slash-separated remote path to a local relative
// path, sanitizing every segment independently.
func DestRelPath(remotePath string) string {
	if remotePath == "" {
		return ""
	}

	segs := strings.Split(remotePath, "/")
	out := make([]string, 0, len(segs))

	for _, seg := range segs {
		if seg == "" {
			continue
		}

		out = append(out, SanitizeSegment(seg))
	}

	return filepath.Join(out...)
}
