// Package ingest turns uploaded files into bounded plain-text excerpts
// suitable for inclusion as conversation context. Pure transform: no
// network access and no state.
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"
)

var (
	// ErrUnsupportedFormat indicates a mime type we cannot extract text from
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrIngestion indicates corrupt or undecodable input
	ErrIngestion = errors.New("failed to ingest file")
)

// TruncationMarker is appended whenever the excerpt was cut short
const TruncationMarker = " [truncated]"

// Ingest extracts plain text from the uploaded bytes and truncates it to
// maxExcerptChars characters, marker included. Truncation never splits a
// multi-byte codepoint.
func Ingest(data []byte, mimeType string, maxExcerptChars int) (string, error) {
	if maxExcerptChars <= len(TruncationMarker) {
		return "", fmt.Errorf("%w: excerpt cap %d too small", ErrIngestion, maxExcerptChars)
	}

	mediaType := mimeType
	if parsed, _, err := mime.ParseMediaType(mimeType); err == nil {
		mediaType = parsed
	}

	var text string
	switch mediaType {
	case "text/plain", "text/markdown", "text/csv", "text/x-log":
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%w: invalid UTF-8 in %s", ErrIngestion, mediaType)
		}
		text = string(data)
	case "application/json":
		if !json.Valid(data) {
			return "", fmt.Errorf("%w: malformed JSON", ErrIngestion)
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, data); err != nil {
			return "", fmt.Errorf("%w: %v", ErrIngestion, err)
		}
		text = buf.String()
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, mimeType)
	}

	text = strings.TrimSpace(text)
	return truncate(text, maxExcerptChars), nil
}

// truncate cuts text to max characters on a rune boundary and appends
// the marker, keeping the total within max
func truncate(text string, max int) string {
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	keep := max - len(TruncationMarker)
	var b strings.Builder
	n := 0
	for _, r := range text {
		if n == keep {
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String() + TruncationMarker
}
