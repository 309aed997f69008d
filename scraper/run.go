package scraper

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"net/url"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/use-agent/adscope/models"
	"github.com/use-agent/adscope/smartwait"
)

// RunCapture is everything one page run produced: the controller's
// final snapshot, the rendered HTML for sponsor extraction, the session
// captured for reuse, and the run's page-equivalent cost.
type RunCapture struct {
	Snapshot smartwait.Snapshot
	HTML     string
	Session  *models.SessionContext
	Cost     float64
}

// CapturePage runs one creative detail page through a full browser
// acquisition: navigate, watch the network-event stream until the
// smartwait controller calls the run done, then export the session for
// the rest of the batch.
//
// Lifecycle (numbered steps match the inline comments):
//
//  1. Timeout guard     – hard deadline on the entire operation
//  2. Acquire page      – borrow a tab from the pool (or create one)
//  3. DEFER: cleanup    – about:blank + return to pool (leak prevention)
//  4. Stealth injection – mask navigator.webdriver etc. (before navigation!)
//  5. Hijack mount      – interception decisions (before navigation!)
//  6. Context binding   – propagate timeout to all Rod operations
//  7. Navigate          – triggers page load
//  8. Smart wait        – block until COMPLETE/TIMEOUT/ERROR
//  9. Extract HTML      – rendered DOM for the sponsor fallback
//  10. Export session   – cookies + user agent for direct reuse
//
// Steps 4–5 MUST happen before step 7: stealth JS and interception only
// take effect for navigations that happen after they are installed.
func (s *Scraper) CapturePage(ctx context.Context, pageURL string) (*RunCapture, error) {
	// ── 1. Timeout guard ──────────────────────────────────────────────
	// The wait ceiling plus slack for navigation and extraction.
	ctx, cancel := context.WithTimeout(ctx, s.waitCfg.MaxWait*2)
	defer cancel()

	// ── 2. Acquire page from pool ─────────────────────────────────────
	page, acquireErr := s.pagePool.Get(func() (*rod.Page, error) {
		return s.browser.Page(proto.TargetCreateTarget{})
	})
	if acquireErr != nil {
		return nil, models.NewTaskError(
			models.ErrCodeSessionEstablishment,
			"failed to acquire page from pool",
			acquireErr,
		)
	}

	// ── 3. CRITICAL DEFER: prevent DOM memory leak + guarantee pool return
	defer func() {
		if navErr := page.Navigate("about:blank"); navErr != nil {
			slog.Warn("cleanup: failed to navigate to about:blank", "error", navErr)
		}
		s.pagePool.Put(page)
	}()

	// ── 4. Stealth injection ──────────────────────────────────────────
	if _, evalErr := page.EvalOnNewDocument(stealth.JS); evalErr != nil {
		slog.Warn("stealth injection failed, proceeding without stealth", "error", evalErr)
	}

	// ── 4b. Referer header (organic-looking arrival) ─────────────────
	if u, parseErr := url.Parse(pageURL); parseErr == nil {
		_ = proto.NetworkSetExtraHTTPHeaders{
			Headers: toHeadersMap(map[string]string{
				"Referer": "https://www.google.com/search?q=" + url.QueryEscape(u.Hostname()),
			}),
		}.Call(page)
	}

	// ── 5. Mount hijack router ────────────────────────────────────────
	ctrl := smartwait.New(s.waitCfg, s.classifier)
	router := s.mountHijack(page, ctrl)
	defer func() { _ = router.Stop() }()

	// ── 6. Bind request context to page ───────────────────────────────
	p := page.Context(ctx)

	// ── 7. Navigate ───────────────────────────────────────────────────
	if navErr := p.Navigate(pageURL); navErr != nil {
		return nil, categorizeSessionError(navErr, "navigation to detail page failed")
	}

	// ── 8. Smart wait ─────────────────────────────────────────────────
	snap := ctrl.Wait(ctx)

	// ── 9. Extract rendered HTML (best-effort) ────────────────────────
	rawHTML, htmlErr := p.HTML()
	if htmlErr != nil {
		slog.Debug("failed to extract rendered HTML", "url", pageURL, "error", htmlErr)
	}

	// ── 10. Export session for direct reuse ───────────────────────────
	session, sessErr := s.exportSession(p)
	if sessErr != nil {
		return nil, models.NewTaskError(
			models.ErrCodeSessionEstablishment,
			"failed to export session cookies",
			sessErr,
		)
	}

	return &RunCapture{
		Snapshot: snap,
		HTML:     rawHTML,
		Session:  session,
		Cost:     pageCost(snap),
	}, nil
}

// pageCost converts a run snapshot into page-equivalents: the base
// navigation plus one unit per four bundles delivered.
func pageCost(snap smartwait.Snapshot) float64 {
	return 1 + math.Ceil(float64(len(snap.Bundles))/4)
}

// exportSession reads the page's cookies and user agent into a
// SessionContext.
func (s *Scraper) exportSession(p *rod.Page) (*models.SessionContext, error) {
	cookies, err := p.Cookies(nil)
	if err != nil {
		return nil, err
	}

	session := models.NewSession()
	for _, c := range cookies {
		session.Cookies = append(session.Cookies, &http.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
		})
	}

	if res, err := p.Eval(`() => navigator.userAgent`); err == nil {
		session.UserAgent = res.Value.Str()
	}
	if session.UserAgent == "" {
		session.UserAgent = chromeUA
	}
	return session, nil
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders
// type (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

// categorizeSessionError wraps raw navigation errors into typed
// TaskErrors. Everything that prevents the first page from producing a
// reusable session is a session-establishment failure for the batch.
func categorizeSessionError(err error, msg string) *models.TaskError {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return models.NewTaskError(models.ErrCodeTimeout, msg, err)
	default:
		return models.NewTaskError(models.ErrCodeSessionEstablishment, msg, err)
	}
}
