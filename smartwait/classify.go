package smartwait

import (
	"encoding/json"
	"net/url"
	"regexp"

	"github.com/use-agent/adscope/models"
)

// Classifier decides what role a network event plays in completion
// detection. Patterns are compiled once and shared; the production
// defaults match the inspected site's current URL surface.
type Classifier struct {
	// Lookup matches the authoritative creative-lookup endpoint.
	Lookup *regexp.Regexp

	// Bundle matches content-bundle delivery URLs.
	Bundle *regexp.Regexp
}

// DefaultClassifier returns the production patterns.
func DefaultClassifier() *Classifier {
	return &Classifier{
		Lookup: regexp.MustCompile(`/api/v\d+/creative/detail`),
		Bundle: regexp.MustCompile(`[?&](?:render_id|fletch_id)=|/render/bundle`),
	}
}

// lookupPayload is the typed shape of the lookup response. Loose maps
// are deliberately avoided here: if the site's schema drifts, decoding
// fails loudly instead of silently yielding empty defaults.
type lookupPayload struct {
	Code int `json:"code"`
	Data struct {
		RenderIDs      []string `json:"render_ids"`
		StaticCreative bool     `json:"static_creative"`
	} `json:"data"`
}

// Evidence is what the lookup response asserts about the run: either
// the explicit list of expected bundle ids, or that the creative is
// static/cached and no dynamic bundles will arrive.
type Evidence struct {
	RenderIDs []string
	Static    bool
}

// parseLookup decodes a lookup response body into Evidence.
func parseLookup(body string) (*Evidence, error) {
	var p lookupPayload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, models.NewTaskError(models.ErrCodeMalformedPayload,
			"lookup response did not match expected schema", err)
	}
	return &Evidence{RenderIDs: p.Data.RenderIDs, Static: p.Data.StaticCreative}, nil
}

// bundleFromEvent builds a CandidateBundle from a bundle delivery
// response. Ids come from the delivery URL's query parameters.
func bundleFromEvent(ev models.NetworkEvent, order int) models.CandidateBundle {
	b := models.CandidateBundle{RawText: ev.Body, ArrivalOrder: order}
	if u, err := url.Parse(ev.URL); err == nil {
		q := u.Query()
		b.RenderID = q.Get("render_id")
		b.FletchID = q.Get("fletch_id")
	}
	if b.RenderID == "" {
		// Chunks delivered without an explicit id group under the
		// fletch id instead.
		b.RenderID = b.FletchID
	}
	return b
}
