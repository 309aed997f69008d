package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// sponsorSelectors are tried in order against the rendered detail page.
var sponsorSelectors = []string{
	"[data-testid='sponsor-name']",
	"[data-advertiser-name]",
	".ad-sponsor-name",
	".advertiser-name",
}

// SponsorFromHTML pulls the sponsor name out of the rendered detail
// page. Used as a fallback when the winning bundle carries no
// advertiser field, and as the only source on static/cached creatives.
func SponsorFromHTML(rawHTML string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return "", false
	}

	for _, sel := range sponsorSelectors {
		if s := strings.TrimSpace(doc.Find(sel).First().Text()); s != "" {
			return s, true
		}
		if attr, ok := doc.Find(sel).First().Attr("data-advertiser-name"); ok {
			if s := strings.TrimSpace(attr); s != "" {
				return s, true
			}
		}
	}

	// og:title carries "<sponsor> - Ad Details" on most detail pages.
	if content, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		title := strings.TrimSpace(content)
		if idx := strings.Index(title, " - "); idx > 0 {
			title = strings.TrimSpace(title[:idx])
		}
		if title != "" {
			return title, true
		}
	}

	return "", false
}
