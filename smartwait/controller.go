package smartwait

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/use-agent/adscope/config"
	"github.com/use-agent/adscope/models"
)

// State is the controller's position in the completion state machine.
type State string

const (
	StateWaiting  State = "WAITING"
	StatePartial  State = "PARTIAL"
	StateComplete State = "COMPLETE"
	StateTimeout  State = "TIMEOUT"
	StateError    State = "ERROR"
)

// terminal reports whether s ends the run.
func terminal(s State) bool {
	return s == StateComplete || s == StateTimeout || s == StateError
}

// Snapshot is the controller's final (or current) view of a run.
// Timeout snapshots keep every bundle captured so far: partial data is
// preserved, not discarded.
type Snapshot struct {
	State        State
	Bundles      []models.CandidateBundle
	Evidence     *Evidence
	StaticPage   bool
	LookupSeen   bool
	RequestCount int
	BlockedCount int
}

// TargetKnown reports whether the lookup supplied an authoritative set
// of expected bundle ids.
func (s Snapshot) TargetKnown() bool {
	return s.Evidence != nil && !s.Evidence.Static
}

// Outstanding counts expected bundles that never arrived. Zero when no
// target is known.
func (s Snapshot) Outstanding() int {
	if !s.TargetKnown() {
		return 0
	}
	seen := make(map[string]struct{}, len(s.Bundles))
	for _, b := range s.Bundles {
		seen[b.RenderID] = struct{}{}
	}
	missing := 0
	for _, id := range s.Evidence.RenderIDs {
		if _, ok := seen[id]; !ok {
			missing++
		}
	}
	return missing
}

// BlockedRatio is the fraction of observed requests that interception
// aborted.
func (s Snapshot) BlockedRatio() float64 {
	if s.RequestCount == 0 {
		return 0
	}
	return float64(s.BlockedCount) / float64(s.RequestCount)
}

// Controller consumes one run's network-event stream and decides when
// enough data has arrived. It exits as early as the evidence allows but
// never blocks past the configured maximum wait.
//
// One Controller serves exactly one page run and is not reused.
type Controller struct {
	mu  sync.Mutex
	cfg config.Wait
	cls *Classifier

	state        State
	bundles      []models.CandidateBundle
	evidence     *Evidence
	outstanding  map[string]struct{}
	targetKnown  bool
	staticPage   bool
	lookupSeen   bool
	requestCount int
	blockedCount int

	quiet *time.Timer
	done  chan struct{}
}

// New creates a Controller in WAITING.
func New(cfg config.Wait, cls *Classifier) *Controller {
	if cls == nil {
		cls = DefaultClassifier()
	}
	return &Controller{
		cfg:   cfg,
		cls:   cls,
		state: StateWaiting,
		done:  make(chan struct{}),
	}
}

// NoteRequest counts an outgoing request, blocked or not.
func (c *Controller) NoteRequest() {
	c.mu.Lock()
	c.requestCount++
	c.mu.Unlock()
}

// NoteBlocked counts a request aborted by interception.
func (c *Controller) NoteBlocked() {
	c.mu.Lock()
	c.blockedCount++
	c.mu.Unlock()
}

// Observe feeds one network event into the state machine. Safe to call
// from the hijack goroutine while Wait blocks elsewhere. Events after a
// terminal state are ignored.
func (c *Controller) Observe(ev models.NetworkEvent) {
	if ev.Kind != models.EventResponse {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if terminal(c.state) {
		return
	}

	switch {
	case c.cls.Lookup.MatchString(ev.URL):
		c.observeLookup(ev)
	case c.cls.Bundle.MatchString(ev.URL):
		c.observeBundle(ev)
	}
}

// observeLookup handles the authoritative lookup response. Caller holds mu.
func (c *Controller) observeLookup(ev models.NetworkEvent) {
	c.lookupSeen = true

	if ev.Status >= 400 {
		slog.Debug("lookup returned error status", "url", ev.URL, "status", ev.Status)
		c.finishLocked(StateError)
		return
	}

	evidence, err := parseLookup(ev.Body)
	if err != nil {
		// Malformed evidence costs us the early exit, not the run.
		slog.Debug("lookup response unparseable", "url", ev.URL, "error", err)
		return
	}
	c.evidence = evidence

	if evidence.Static {
		// Static/cached creative: no dynamic bundles expected.
		c.staticPage = true
		c.finishLocked(StateComplete)
		return
	}

	c.targetKnown = true
	c.outstanding = make(map[string]struct{}, len(evidence.RenderIDs))
	for _, id := range evidence.RenderIDs {
		c.outstanding[id] = struct{}{}
	}
	// Bundles that raced ahead of the lookup already count.
	for _, b := range c.bundles {
		delete(c.outstanding, b.RenderID)
	}
	c.stopQuietLocked()
	c.checkCompleteLocked()
}

// observeBundle records a candidate bundle delivery. Caller holds mu.
func (c *Controller) observeBundle(ev models.NetworkEvent) {
	if ev.Status >= 400 {
		slog.Debug("bundle delivery failed", "url", ev.URL, "status", ev.Status)
		c.finishLocked(StateError)
		return
	}

	b := bundleFromEvent(ev, len(c.bundles))
	c.bundles = append(c.bundles, b)
	if c.state == StateWaiting {
		c.state = StatePartial
	}

	if c.targetKnown {
		delete(c.outstanding, b.RenderID)
		c.checkCompleteLocked()
		return
	}

	// No target known yet: complete after a quiet period with no new
	// bundles.
	c.resetQuietLocked()
}

// checkCompleteLocked fires COMPLETE the instant the outstanding target
// count reaches zero. Caller holds mu.
func (c *Controller) checkCompleteLocked() {
	if c.targetKnown && len(c.outstanding) == 0 {
		c.finishLocked(StateComplete)
	}
}

func (c *Controller) resetQuietLocked() {
	c.stopQuietLocked()
	c.quiet = time.AfterFunc(c.cfg.QuietPeriod, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if !terminal(c.state) && !c.targetKnown && len(c.bundles) > 0 {
			c.finishLocked(StateComplete)
		}
	})
}

func (c *Controller) stopQuietLocked() {
	if c.quiet != nil {
		c.quiet.Stop()
		c.quiet = nil
	}
}

// finishLocked moves to a terminal state exactly once. Caller holds mu.
func (c *Controller) finishLocked(s State) {
	if terminal(c.state) {
		return
	}
	c.state = s
	c.stopQuietLocked()
	close(c.done)
}

// Wait blocks until the run reaches a terminal state or the maximum
// wait elapses, then returns the final snapshot. A timeout (including
// context cancellation) finalizes with whatever partial data exists;
// it does not abort the underlying network session.
func (c *Controller) Wait(ctx context.Context) Snapshot {
	timer := time.NewTimer(c.cfg.MaxWait)
	defer timer.Stop()

	select {
	case <-c.done:
	case <-timer.C:
		c.mu.Lock()
		c.finishLocked(StateTimeout)
		c.mu.Unlock()
	case <-ctx.Done():
		c.mu.Lock()
		c.finishLocked(StateTimeout)
		c.mu.Unlock()
	}
	return c.Snapshot()
}

// Snapshot returns a copy of the controller's current view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	bundles := make([]models.CandidateBundle, len(c.bundles))
	copy(bundles, c.bundles)

	return Snapshot{
		State:        c.state,
		Bundles:      bundles,
		Evidence:     c.evidence,
		StaticPage:   c.staticPage,
		LookupSeen:   c.lookupSeen,
		RequestCount: c.requestCount,
		BlockedCount: c.blockedCount,
	}
}
