package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/use-agent/adscope/models"
)

// maxVideoRefs caps the ordered video-reference set per creative.
const maxVideoRefs = 3

// Direct structured-field patterns for known identifier shapes. These
// are tried first; the looser scans below only run as fallbacks.
var (
	reVideoIDField = regexp.MustCompile(`"(?:video_id|vid|item_id)"\s*:\s*"(\d{10,13})"`)
	reThumbVideo   = regexp.MustCompile(`https?:\\?/\\?/[^"'\s]*?\\?/video\\?/(\d{10,13})`)
	reStoreField   = regexp.MustCompile(`"(?:download_url|store_url|landing_page)"\s*:\s*"([^"]+)"`)
	reSponsorField = regexp.MustCompile(`"(?:advertiser_name|sponsor_name|brand_name)"\s*:\s*"([^"]+)"`)

	// Embedded store URLs, found anywhere in the bundle text.
	reStoreURL = regexp.MustCompile(`https?://(?:apps\.apple\.com|itunes\.apple\.com|play\.google\.com)[^"'\s\\]*`)

	// Encoded parameter blobs worth a decode attempt.
	reBlobParam = regexp.MustCompile(`[?&](?:data|payload|ad_info|token)=([A-Za-z0-9+/_=-]{24,})`)
)

// FromBundle extracts structured identifiers from the resolved bundle's
// concatenated text. Extraction is best-effort and explicitly fallible:
// every identifier is independently present or absent, and nothing here
// returns an error.
func FromBundle(text string) models.ExtractionResult {
	var res models.ExtractionResult

	// 1. Direct structured-field patterns.
	for _, m := range reVideoIDField.FindAllStringSubmatch(text, -1) {
		appendRef(&res.VideoRefs, m[1])
	}
	for _, m := range reThumbVideo.FindAllStringSubmatch(text, -1) {
		appendRef(&res.VideoRefs, m[1])
	}
	if m := reSponsorField.FindStringSubmatch(text); m != nil {
		res.SponsorName = unescapeJSON(m[1])
	}
	if m := reStoreField.FindStringSubmatch(text); m != nil {
		if ref, ok := StoreRefFromURL(unescapeJSON(m[1])); ok {
			res.StoreRef = ref
		}
	}

	// 2. Fallback: raw store-URL scan.
	if res.StoreRef == "" {
		for _, u := range reStoreURL.FindAllString(text, -1) {
			if ref, ok := StoreRefFromURL(u); ok {
				res.StoreRef = ref
				break
			}
		}
	}

	// 3. Fallback: encoded parameter blobs. A failed decode is absence,
	// not an error.
	for _, m := range reBlobParam.FindAllStringSubmatch(text, -1) {
		decoded, ok := DecodeBlob(m[1])
		if !ok {
			continue
		}
		for _, tok := range NumericTokens(decoded) {
			appendRef(&res.VideoRefs, tok)
		}
		if res.StoreRef == "" {
			if u := reStoreURL.FindString(decoded); u != "" {
				if ref, refOK := StoreRefFromURL(u); refOK {
					res.StoreRef = ref
				}
			}
		}
	}

	return res
}

// StoreRefFromURL extracts the app-store identifier from a store link:
// the numeric /id<digits> path segment for Apple, the id= package name
// for Play. Returns ("", false) for anything else.
func StoreRefFromURL(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}

	host := strings.ToLower(u.Hostname())
	switch {
	case host == "apps.apple.com" || host == "itunes.apple.com":
		for _, seg := range strings.Split(u.Path, "/") {
			if len(seg) > 2 && strings.HasPrefix(seg, "id") && allDigits(seg[2:]) {
				return seg, true
			}
		}
	case host == "play.google.com":
		pkg := u.Query().Get("id")
		if WellFormedStoreRef(pkg) {
			return pkg, true
		}
	}
	return "", false
}

// WellFormedStoreRef reports whether s looks like a valid store
// identifier: an Apple /id<digits> segment or a dotted package name.
// The validation gate uses this for its consistency check.
func WellFormedStoreRef(s string) bool {
	if s == "" {
		return false
	}
	if strings.HasPrefix(s, "id") && len(s) > 2 && allDigits(s[2:]) {
		return true
	}
	// Package name: at least one dot, dotted segments of word characters.
	if !strings.Contains(s, ".") {
		return false
	}
	for _, seg := range strings.Split(s, ".") {
		if seg == "" {
			return false
		}
		for _, r := range seg {
			if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_') {
				return false
			}
		}
	}
	return true
}

// appendRef adds ref to the ordered set, dropping duplicates and
// stopping at the cap.
func appendRef(refs *[]string, ref string) {
	if len(*refs) >= maxVideoRefs {
		return
	}
	for _, existing := range *refs {
		if existing == ref {
			return
		}
	}
	*refs = append(*refs, ref)
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// unescapeJSON undoes the escaping seen inside bundle JSON strings.
// Full JSON parsing is wasted on these payloads: they are frequently
// truncated mid-document, which is exactly why the field patterns exist.
func unescapeJSON(s string) string {
	s = strings.ReplaceAll(s, `\/`, `/`)
	s = strings.ReplaceAll(s, `\"`, `"`)
	s = strings.ReplaceAll(s, `\\`, `\`)
	return s
}
