package scraper

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/use-agent/adscope/cache"
	"github.com/use-agent/adscope/models"
	"github.com/use-agent/adscope/smartwait"
)

// configToProto maps human-readable config strings to Rod protocol resource types.
var configToProto = map[string]proto.NetworkResourceType{
	"Image":      proto.NetworkResourceTypeImage,
	"Stylesheet": proto.NetworkResourceTypeStylesheet,
	"Font":       proto.NetworkResourceTypeFont,
	"Media":      proto.NetworkResourceTypeMedia,
	"Script":     proto.NetworkResourceTypeScript,
}

// trackerDomains is a set of ad-tech and analytics domains aborted at
// interception. The detail pages embed these alongside the creative
// bundles; none of them carry identifiers we want.
var trackerDomains = map[string]struct{}{
	"doubleclick.net":          {},
	"googlesyndication.com":    {},
	"google-analytics.com":     {},
	"googletagmanager.com":     {},
	"facebook.net":             {},
	"connect.facebook.net":     {},
	"adnxs.com":                {},
	"criteo.com":               {},
	"scorecardresearch.com":    {},
	"hotjar.com":               {},
	"mixpanel.com":             {},
	"segment.io":               {},
	"chartbeat.com":            {},
	"demdex.net":               {},
	"sharethis.com":            {},
}

// sharedAssetURL matches the bundled loader scripts every detail page
// pulls from the CDN. Identical across pages, so worth fulfilling from
// the shared cache.
var sharedAssetURL = regexp.MustCompile(`/static/(?:loader|runtime|vendor)[^?]*\.js`)

// isTrackerDomain checks if a hostname (or any parent domain) is in the blocklist.
func isTrackerDomain(host string) bool {
	host = strings.ToLower(host)
	if _, ok := trackerDomains[host]; ok {
		return true
	}
	for {
		idx := strings.IndexByte(host, '.')
		if idx < 0 {
			break
		}
		host = host[idx+1:]
		if _, ok := trackerDomains[host]; ok {
			return true
		}
	}
	return false
}

// mountHijack installs the request interceptor for one page run. Per
// request it makes one of three decisions:
//
//   - abort: blocked resource types and tracker domains (counted so the
//     validation gate can grade the blocking ratio);
//   - fulfill-from-cache: shared loader scripts served from the asset
//     cache, fetched from the origin at most once across all workers;
//   - continue: everything else, with lookup and bundle responses read
//     and forwarded to the smartwait controller as network events.
//
// Returns the running HijackRouter so the caller can defer router.Stop().
func (s *Scraper) mountHijack(page *rod.Page, ctrl *smartwait.Controller) *rod.HijackRouter {
	blocked := make(map[proto.NetworkResourceType]struct{}, len(s.browserCfg.BlockedResourceTypes))
	for _, name := range s.browserCfg.BlockedResourceTypes {
		if rt, ok := configToProto[name]; ok {
			blocked[rt] = struct{}{}
		}
	}

	router := page.HijackRequests()

	// Pattern "*" + empty resourceType = intercept ALL requests, then
	// decide per-request.
	_ = router.Add("*", "", func(ctx *rod.Hijack) {
		reqURL := ctx.Request.URL().String()
		ctrl.NoteRequest()

		// Abort by resource type.
		if _, shouldBlock := blocked[ctx.Request.Type()]; shouldBlock {
			ctrl.NoteBlocked()
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}

		// Abort by tracker domain.
		if u, err := url.Parse(reqURL); err == nil && isTrackerDomain(u.Hostname()) {
			ctrl.NoteBlocked()
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}

		// Fulfill shared assets from the cache.
		if s.assets != nil && sharedAssetURL.MatchString(reqURL) {
			if s.fulfillFromCache(ctx, reqURL) {
				return
			}
		}

		// Responses the controller classifies must be read in-flight.
		if s.classifier.Lookup.MatchString(reqURL) || s.classifier.Bundle.MatchString(reqURL) {
			if err := ctx.LoadResponse(http.DefaultClient, true); err != nil {
				ctrl.Observe(models.NetworkEvent{
					Kind:   models.EventResponse,
					URL:    reqURL,
					Status: http.StatusBadGateway,
				})
				return
			}
			ctrl.Observe(models.NetworkEvent{
				Kind:         models.EventResponse,
				URL:          reqURL,
				ResourceType: string(ctx.Request.Type()),
				Status:       ctx.Response.Payload().ResponseCode,
				Body:         ctx.Response.Body(),
			})
			return
		}

		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})

	// router.Run() blocks, so it must live in its own goroutine.
	// It will exit when router.Stop() is called.
	go router.Run()

	return router
}

// fulfillFromCache serves a shared asset from the cache, fetching it
// once on a cold miss. Returns false when the fetch failed; the caller
// lets the request continue normally instead.
func (s *Scraper) fulfillFromCache(ctx *rod.Hijack, reqURL string) bool {
	asset, err := s.assets.GetOrFill(cache.Key(reqURL), func() (*cache.Asset, error) {
		if err := ctx.LoadResponse(http.DefaultClient, true); err != nil {
			return nil, err
		}
		return &cache.Asset{
			Body:        []byte(ctx.Response.Body()),
			ContentType: ctx.Response.Headers().Get("Content-Type"),
		}, nil
	})
	if err != nil {
		return false
	}

	ctx.Response.SetHeader("Content-Type", asset.ContentType)
	ctx.Response.SetBody(asset.Body)
	return true
}
