package extract

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"
)

// DecodeBlob decodes an encoded parameter blob, repairing common padding
// damage picked up in transit (URL truncation, double-encoding, trailing
// junk). Strategies are tried in order and the first successful decode
// wins. Returns ("", false) when every strategy fails — callers treat
// that as "absent", never as an error.
//
// Repair ladder:
//  1. normalize URL-safe alphabet, re-pad to a multiple of 4, decode
//  2. length mod 4 == 1 (never valid): drop the last character, retry
//  3. drop 1–3 trailing characters and retry
func DecodeBlob(blob string) (string, bool) {
	s := normalizeBlob(blob)
	if s == "" {
		return "", false
	}

	if out, ok := tryDecode(s); ok {
		return out, true
	}

	// A length of 4k+1 cannot be produced by an encoder; the final
	// character is junk picked up by whatever carried the blob.
	if t := strings.TrimRight(s, "="); len(t)%4 == 1 {
		if out, ok := tryDecode(t[:len(t)-1]); ok {
			return out, true
		}
	}

	// Last resort: shave trailing characters one at a time.
	for i := 1; i <= 3 && i < len(s); i++ {
		if out, ok := tryDecode(s[:len(s)-i]); ok {
			return out, true
		}
	}

	return "", false
}

// normalizeBlob trims whitespace and maps the URL-safe alphabet back to
// the standard one so a single decoder handles both.
func normalizeBlob(blob string) string {
	s := strings.TrimSpace(blob)
	s = strings.ReplaceAll(s, "-", "+")
	s = strings.ReplaceAll(s, "_", "/")
	return s
}

// tryDecode strips any existing padding, re-pads to a multiple of 4, and
// decodes. The decoded bytes must be valid UTF-8: these blobs carry text
// parameters, so binary output means the repair guessed wrong.
func tryDecode(s string) (string, bool) {
	t := strings.TrimRight(s, "=")
	switch len(t) % 4 {
	case 1:
		return "", false
	case 2:
		t += "=="
	case 3:
		t += "="
	}
	raw, err := base64.StdEncoding.DecodeString(t)
	if err != nil || !utf8.Valid(raw) {
		return "", false
	}
	return string(raw), true
}
