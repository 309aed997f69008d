// Package orchestrator drives the worker pool that drains the backlog.
// Each worker claims a batch, pays for the first item with a full
// browser acquisition, then reuses that item's session for the rest of
// the batch through direct calls.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/use-agent/adscope/config"
	"github.com/use-agent/adscope/extract"
	"github.com/use-agent/adscope/models"
	"github.com/use-agent/adscope/resolve"
	"github.com/use-agent/adscope/scraper"
	"github.com/use-agent/adscope/validate"
)

// PageClient is the acquisition surface the orchestrator needs: one
// full browser run per batch, direct calls for everything after.
type PageClient interface {
	CapturePage(ctx context.Context, pageURL string) (*scraper.RunCapture, error)
	FetchItem(ctx context.Context, session *models.SessionContext, creativeRef string) (*scraper.RunCapture, error)
}

// Backlog is the work-item store surface the orchestrator needs.
type Backlog interface {
	Claim(workerID string, n int) ([]models.WorkItem, error)
	Complete(id string, result *models.ExtractionResult) error
	Fail(id string, msg string) error
	Release(ids []string) error
}

// Orchestrator runs N independent workers against a shared backlog.
type Orchestrator struct {
	cfg     config.Worker
	target  config.Target
	client  PageClient
	backlog Backlog
	gate    *validate.Gate

	// ExitWhenIdle stops workers once the backlog has no PENDING items
	// instead of polling. Used by one-shot runs and tests.
	ExitWhenIdle bool
}

// New wires an Orchestrator. The gate's warning ceiling comes from the
// worker config.
func New(cfg config.Worker, target config.Target, client PageClient, backlog Backlog) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		target:  target,
		client:  client,
		backlog: backlog,
		gate:    validate.NewGate(cfg.BlockedRatioWarn),
	}
}

// Run starts the worker pool and blocks until ctx is cancelled (or,
// with ExitWhenIdle, until the backlog drains).
func (o *Orchestrator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < o.cfg.Concurrency; i++ {
		wg.Add(1)
		workerID := fmt.Sprintf("worker-%d-%s", i, uuid.NewString()[:8])
		go func() {
			defer wg.Done()
			o.workerLoop(ctx, workerID)
		}()
	}
	wg.Wait()
	slog.Info("orchestrator stopped")
}

// workerLoop claims and processes batches until cancelled or idle.
func (o *Orchestrator) workerLoop(ctx context.Context, workerID string) {
	log := slog.With("worker", workerID)
	log.Info("worker started")

	for {
		if ctx.Err() != nil {
			log.Info("worker stopping", "reason", "context cancelled")
			return
		}

		batch, err := o.backlog.Claim(workerID, o.cfg.BatchSize)
		if err != nil {
			log.Error("batch claim failed", "error", err)
			if !o.sleep(ctx, o.cfg.PollInterval) {
				return
			}
			continue
		}

		if len(batch) == 0 {
			if o.ExitWhenIdle {
				log.Info("worker stopping", "reason", "backlog drained")
				return
			}
			if !o.sleep(ctx, o.cfg.PollInterval) {
				return
			}
			continue
		}

		log.Info("batch claimed", "size", len(batch))
		o.processBatch(ctx, log, batch)
	}
}

// processBatch works through one claimed batch. The first item always
// goes through the full browser path and donates its session; every
// later item rides that session on the direct path. The cumulative
// page-equivalent spend is checked between items, and anything
// unprocessed when the budget runs out goes back to PENDING.
func (o *Orchestrator) processBatch(ctx context.Context, log *slog.Logger, batch []models.WorkItem) {
	var session *models.SessionContext
	spent := 0.0

	for i, item := range batch {
		if ctx.Err() != nil {
			o.releaseRemainder(log, batch[i:], "shutdown")
			return
		}
		if i > 0 && spent >= o.cfg.BatchBudget {
			log.Info("batch budget exhausted",
				"spent", spent, "budget", o.cfg.BatchBudget, "released", len(batch)-i)
			o.releaseRemainder(log, batch[i:], "budget exhausted")
			return
		}

		run, err := o.processItem(ctx, log, session, item)
		if err != nil {
			// A first-item session failure means no item in this batch
			// can be served; hand the whole batch back untouched.
			if session == nil && isSessionFailure(err) {
				log.Warn("session establishment failed, releasing batch",
					"item", item.ID, "error", err)
				o.releaseRemainder(log, batch[i:], "session establishment failed")
				return
			}
			log.Warn("item failed", "item", item.ID, "error", err)
			if failErr := o.backlog.Fail(item.ID, err.Error()); failErr != nil {
				log.Error("failed to mark item failed", "item", item.ID, "error", failErr)
			}
			continue
		}

		spent += run.Cost
		if run.Session != nil {
			session = run.Session
		}

		o.finishItem(log, item, run)
	}

	log.Info("batch complete", "spent", spent)
}

// processItem runs one item through the appropriate acquisition path.
// Panics inside an acquisition are contained to the item.
func (o *Orchestrator) processItem(ctx context.Context, log *slog.Logger, session *models.SessionContext, item models.WorkItem) (run *scraper.RunCapture, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing item",
				"item", item.ID, "panic", r, "stack", string(debug.Stack()))
			run = nil
			err = models.NewTaskError(models.ErrCodeInternal,
				fmt.Sprintf("panic: %v", r), nil)
		}
	}()

	if session == nil {
		pageURL := fmt.Sprintf(o.target.DetailURL, url.PathEscape(item.CreativeRef))
		return o.client.CapturePage(ctx, pageURL)
	}
	return o.client.FetchItem(ctx, session, item.CreativeRef)
}

// finishItem resolves, extracts and validates one captured run, then
// records the verdict in the backlog.
func (o *Orchestrator) finishItem(log *slog.Logger, item models.WorkItem, run *scraper.RunCapture) {
	outcome, result, resolveErr := o.evaluate(run)

	if outcome.Success {
		if err := o.backlog.Complete(item.ID, &result); err != nil {
			log.Error("failed to mark item completed", "item", item.ID, "error", err)
			return
		}
		log.Info("item completed",
			"item", item.ID,
			"videoRefs", len(result.VideoRefs),
			"storeRef", result.HasStoreRef(),
			"sponsor", result.HasSponsor(),
			"warnings", len(outcome.Warnings))
		return
	}

	msg := strings.Join(outcome.Errors, "; ")
	if resolveErr != nil {
		msg = resolveErr.Error() + "; " + msg
	}
	if err := o.backlog.Fail(item.ID, msg); err != nil {
		log.Error("failed to mark item failed", "item", item.ID, "error", err)
		return
	}
	log.Warn("item rejected by validation", "item", item.ID, "errors", outcome.Errors)
}

// evaluate runs the post-capture pipeline: disambiguate the creative,
// pull identifiers from the winning bundle, then grade the run.
func (o *Orchestrator) evaluate(run *scraper.RunCapture) (models.ValidationOutcome, models.ExtractionResult, error) {
	snap := run.Snapshot

	var apiIDs []string
	if snap.Evidence != nil {
		apiIDs = snap.Evidence.RenderIDs
	}

	var identityPtr *models.CreativeIdentity
	var result models.ExtractionResult

	identity, resolveErr := resolve.Resolve(snap.Bundles, apiIDs, snap.StaticPage)
	if resolveErr == nil {
		identityPtr = &identity
		if identity.Method != models.MethodStatic {
			result = extract.FromBundle(resolve.MergedText(snap.Bundles, identity.ResolvedID))
		}
	}

	// The rendered DOM backs up the sponsor when the bundle had none.
	if !result.HasSponsor() && run.HTML != "" {
		if name, ok := extract.SponsorFromHTML(run.HTML); ok {
			result.SponsorName = name
		}
	}

	report := validate.Report{
		TargetKnown:  snap.TargetKnown(),
		Outstanding:  snap.Outstanding(),
		Identity:     identityPtr,
		StaticPage:   snap.StaticPage,
		LookupSeen:   snap.LookupSeen,
		BlockedRatio: snap.BlockedRatio(),
		Extraction:   result,
	}
	if snap.TargetKnown() {
		report.TargetCount = len(snap.Evidence.RenderIDs)
	}

	return o.gate.Evaluate(report), result, resolveErr
}

// releaseRemainder returns unprocessed items to PENDING.
func (o *Orchestrator) releaseRemainder(log *slog.Logger, items []models.WorkItem, reason string) {
	if len(items) == 0 {
		return
	}
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	if err := o.backlog.Release(ids); err != nil {
		log.Error("failed to release items", "count", len(ids), "error", err)
		return
	}
	log.Info("items released", "count", len(ids), "reason", reason)
}

// isSessionFailure reports whether err means the browser could not
// produce a reusable session at all.
func isSessionFailure(err error) bool {
	return models.IsCode(err, models.ErrCodeSessionEstablishment) ||
		models.IsCode(err, models.ErrCodeBrowserCrash)
}

// sleep waits for d or cancellation; returns false when cancelled.
func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
