// Package validate holds pure input checks for uploaded documents and
// user-supplied text. Nothing here touches the filesystem or the session.
package validate

import (
	"bytes"
	"strconv"
	"strings"
)

const (
	// DefaultFilename is used when sanitizing leaves nothing usable.
	DefaultFilename = "document.pdf"

	pdfExtension = ".pdf"
)

var pdfSignature = []byte("%PDF-")

// freeTextDenylist blocks the usual script-injection substrings in
// watermark text and filenames coming from chat messages.
var freeTextDenylist = []string{
	"<script",
	"</script",
	"javascript:",
	"data:text/html",
	"onerror=",
	"onload=",
}

// IsDocumentFilename reports whether name carries the PDF extension,
// case-insensitively.
func IsDocumentFilename(name string) bool {
	if name == "" {
		return false
	}
	return strings.HasSuffix(strings.ToLower(name), pdfExtension)
}

// IsWithinSizeLimit reports whether a declared size fits under max.
// A non-positive declared size is accepted; transports do not always
// know the size up front.
func IsWithinSizeLimit(size, max int64) bool {
	if size <= 0 {
		return true
	}
	return size <= max
}

// IsSafeFilename rejects path traversal and shell-meaningful characters.
func IsSafeFilename(name string) bool {
	if name == "" {
		return false
	}
	if strings.Contains(name, "..") {
		return false
	}
	if strings.ContainsAny(name, `/\$;|&><*?'"`+"`\x00") {
		return false
	}
	return true
}

// SanitizeFilename strips name down to a safe character set, forces the
// PDF extension and falls back to DefaultFilename when nothing remains.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if strings.HasSuffix(strings.ToLower(name), pdfExtension) {
		name = name[:len(name)-len(pdfExtension)]
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return DefaultFilename
	}
	return out + pdfExtension
}

// HasValidSignature reports whether data starts with the PDF magic bytes.
func HasValidSignature(data []byte) bool {
	return bytes.HasPrefix(data, pdfSignature)
}

// ParseOpacity parses a user-supplied opacity value. Accepted range is
// 0.1 to 1.0 inclusive; anything else (including unparsable input)
// reports ok=false.
func ParseOpacity(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	if v < 0.1 || v > 1.0 {
		return 0, false
	}
	return v, true
}

// IsSafeFreeText bounds the length of free text and rejects known
// script-injection substrings.
func IsSafeFreeText(s string, maxLen int) bool {
	if s == "" || len(s) > maxLen {
		return false
	}
	lower := strings.ToLower(s)
	for _, bad := range freeTextDenylist {
		if strings.Contains(lower, bad) {
			return false
		}
	}
	return true
}
