package smartwait

import (
	"context"
	"testing"
	"time"

	"github.com/use-agent/adscope/config"
	"github.com/use-agent/adscope/models"
)

func testCfg() config.Wait {
	return config.Wait{
		MaxWait:     200 * time.Millisecond,
		QuietPeriod: 40 * time.Millisecond,
	}
}

func lookupEvent(body string) models.NetworkEvent {
	return models.NetworkEvent{
		Kind:   models.EventResponse,
		URL:    "https://ads.example.com/api/v1/creative/detail?creative_id=c1",
		Status: 200,
		Body:   body,
	}
}

func bundleEvent(renderID string) models.NetworkEvent {
	return models.NetworkEvent{
		Kind:   models.EventResponse,
		URL:    "https://cdn.example.com/render/bundle?render_id=" + renderID,
		Status: 200,
		Body:   `{"video_id":"1234567890"}`,
	}
}

func TestController_StaticMarkerCompletesImmediately(t *testing.T) {
	c := New(testCfg(), nil)
	c.Observe(lookupEvent(`{"code":0,"data":{"static_creative":true}}`))

	start := time.Now()
	snap := c.Wait(context.Background())

	if snap.State != StateComplete {
		t.Fatalf("state = %s, want COMPLETE", snap.State)
	}
	if !snap.StaticPage {
		t.Error("expected StaticPage to be set")
	}
	if len(snap.Bundles) != 0 {
		t.Errorf("static page should carry no bundles, got %d", len(snap.Bundles))
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("static complete should be immediate, took %v", elapsed)
	}
}

func TestController_TargetMetCompletes(t *testing.T) {
	c := New(testCfg(), nil)
	c.Observe(lookupEvent(`{"code":0,"data":{"render_ids":["r1","r2"]}}`))
	c.Observe(bundleEvent("r1"))
	c.Observe(bundleEvent("r2"))

	snap := c.Wait(context.Background())
	if snap.State != StateComplete {
		t.Fatalf("state = %s, want COMPLETE", snap.State)
	}
	if len(snap.Bundles) != 2 {
		t.Errorf("bundles = %d, want 2", len(snap.Bundles))
	}
	if !snap.LookupSeen {
		t.Error("expected LookupSeen")
	}
}

func TestController_BundlesBeforeLookupStillCount(t *testing.T) {
	c := New(testCfg(), nil)
	c.Observe(bundleEvent("r1"))
	c.Observe(bundleEvent("r2"))
	c.Observe(lookupEvent(`{"code":0,"data":{"render_ids":["r1","r2"]}}`))

	snap := c.Wait(context.Background())
	if snap.State != StateComplete {
		t.Fatalf("state = %s, want COMPLETE", snap.State)
	}
}

func TestController_QuietPeriodCompletesWithoutTarget(t *testing.T) {
	c := New(testCfg(), nil)
	c.Observe(bundleEvent("r1"))

	snap := c.Wait(context.Background())
	if snap.State != StateComplete {
		t.Fatalf("state = %s, want COMPLETE via quiet period", snap.State)
	}
	if len(snap.Bundles) != 1 {
		t.Errorf("bundles = %d, want 1", len(snap.Bundles))
	}
}

func TestController_TimeoutPreservesPartialData(t *testing.T) {
	c := New(testCfg(), nil)
	c.Observe(lookupEvent(`{"code":0,"data":{"render_ids":["r1","r2","r3"]}}`))
	c.Observe(bundleEvent("r1"))

	snap := c.Wait(context.Background())
	if snap.State != StateTimeout {
		t.Fatalf("state = %s, want TIMEOUT", snap.State)
	}
	if len(snap.Bundles) != 1 {
		t.Errorf("timeout discarded partial data: bundles = %d, want 1", len(snap.Bundles))
	}
}

func TestController_ErrorStatusTransitionsToError(t *testing.T) {
	c := New(testCfg(), nil)
	ev := lookupEvent("")
	ev.Status = 500
	c.Observe(ev)

	snap := c.Wait(context.Background())
	if snap.State != StateError {
		t.Fatalf("state = %s, want ERROR", snap.State)
	}
}

func TestController_MalformedLookupIsNotFatal(t *testing.T) {
	c := New(testCfg(), nil)
	c.Observe(lookupEvent("not json at all"))
	c.Observe(bundleEvent("r1"))

	snap := c.Wait(context.Background())
	// No usable target: the quiet period closes the run instead.
	if snap.State != StateComplete {
		t.Fatalf("state = %s, want COMPLETE", snap.State)
	}
	if !snap.LookupSeen {
		t.Error("malformed lookup should still count as evidence seen")
	}
}

func TestController_RequestEventsIgnored(t *testing.T) {
	c := New(testCfg(), nil)
	c.Observe(models.NetworkEvent{
		Kind: models.EventRequest,
		URL:  "https://cdn.example.com/render/bundle?render_id=r1",
	})

	if snap := c.Snapshot(); len(snap.Bundles) != 0 {
		t.Errorf("request events must not produce bundles, got %d", len(snap.Bundles))
	}
}

func TestController_ContextCancelFinalizesAsTimeout(t *testing.T) {
	c := New(testCfg(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap := c.Wait(ctx)
	if snap.State != StateTimeout {
		t.Fatalf("state = %s, want TIMEOUT", snap.State)
	}
}

func TestSnapshot_BlockedRatio(t *testing.T) {
	c := New(testCfg(), nil)
	for i := 0; i < 10; i++ {
		c.NoteRequest()
	}
	for i := 0; i < 4; i++ {
		c.NoteBlocked()
	}

	if got := c.Snapshot().BlockedRatio(); got != 0.4 {
		t.Errorf("BlockedRatio = %v, want 0.4", got)
	}

	empty := New(testCfg(), nil)
	if got := empty.Snapshot().BlockedRatio(); got != 0 {
		t.Errorf("BlockedRatio with no requests = %v, want 0", got)
	}
}
