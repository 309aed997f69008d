package scraper

import (
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"golang.org/x/time/rate"

	"github.com/use-agent/adscope/cache"
	"github.com/use-agent/adscope/config"
	"github.com/use-agent/adscope/models"
	"github.com/use-agent/adscope/smartwait"
)

// Scraper manages the global browser lifecycle and the page pool.
// It is safe for concurrent use.
type Scraper struct {
	browser    *rod.Browser
	pagePool   rod.Pool[rod.Page]
	browserCfg config.Browser
	waitCfg    config.Wait
	classifier *smartwait.Classifier
	assets     *cache.Assets
	startTime  time.Time
}

// NewScraper launches a headless browser and initialises the reusable
// page pool.
func NewScraper(browserCfg config.Browser, waitCfg config.Wait, assets *cache.Assets) (*Scraper, error) {
	l := launcher.New().
		Headless(browserCfg.Headless).
		NoSandbox(browserCfg.NoSandbox)

	if browserCfg.BrowserBin != "" {
		l = l.Bin(browserCfg.BrowserBin)
	}
	if browserCfg.DefaultProxy != "" {
		l = l.Proxy(browserCfg.DefaultProxy)
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-ipc-flooding-protection"))
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewTaskError(
			models.ErrCodeBrowserCrash,
			"failed to launch browser",
			err,
		)
	}
	slog.Info("browser launched", "controlURL", controlURL)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, models.NewTaskError(
			models.ErrCodeBrowserCrash,
			"failed to connect to browser",
			err,
		)
	}

	pool := rod.NewPagePool(browserCfg.MaxPages)
	slog.Info("page pool created", "maxPages", browserCfg.MaxPages)

	return &Scraper{
		browser:    browser,
		pagePool:   pool,
		browserCfg: browserCfg,
		waitCfg:    waitCfg,
		classifier: smartwait.DefaultClassifier(),
		assets:     assets,
		startTime:  time.Now(),
	}, nil
}

// Close drains the page pool and kills the browser process.
// Call this on graceful shutdown to prevent zombie Chrome processes.
func (s *Scraper) Close() {
	slog.Info("scraper shutting down: draining page pool")
	s.pagePool.Cleanup(func(p *rod.Page) {
		_ = p.Close()
	})
	slog.Info("scraper shutting down: closing browser")
	s.browser.MustClose()
	slog.Info("scraper shutdown complete")
}

// Client bundles the full-acquisition path and the session-reuse path
// behind one object for the orchestrator.
type Client struct {
	*Scraper
	*DirectFetcher
}

// NewClient wires a Scraper and a DirectFetcher together.
func NewClient(s *Scraper, directCfg config.Direct, targetCfg config.Target, waitCfg config.Wait) *Client {
	return &Client{
		Scraper: s,
		DirectFetcher: &DirectFetcher{
			defaultProxy: s.browserCfg.DefaultProxy,
			limiter:      rate.NewLimiter(rate.Limit(directCfg.RequestsPerSecond), directCfg.Burst),
			timeout:      directCfg.Timeout,
			targetCfg:    targetCfg,
			waitCfg:      waitCfg,
			classifier:   s.classifier,
		},
	}
}
