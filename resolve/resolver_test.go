package resolve

import (
	"testing"

	"github.com/use-agent/adscope/models"
)

func bundlesFor(ids ...string) []models.CandidateBundle {
	out := make([]models.CandidateBundle, len(ids))
	for i, id := range ids {
		out[i] = models.CandidateBundle{
			RenderID:     id,
			RawText:      "chunk-" + id,
			ArrivalOrder: i,
		}
	}
	return out
}

func TestResolve_APIMethodPreferred(t *testing.T) {
	bundles := bundlesFor("decoy", "real", "decoy")

	id, err := Resolve(bundles, []string{"real"}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.ResolvedID != "real" || id.Method != models.MethodAPI {
		t.Errorf("got (%s, %s), want (real, api)", id.ResolvedID, id.Method)
	}
	if id.Confidence != 1 {
		t.Errorf("api confidence = %v, want 1", id.Confidence)
	}
}

func TestResolve_FrequencyFallbackWhenAPIUnmatched(t *testing.T) {
	// API evidence that matches no observed bundle must not win.
	bundles := bundlesFor("a", "a", "a", "a", "a", "b", "c")

	id, err := Resolve(bundles, []string{"ghost"}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.ResolvedID != "a" || id.Method != models.MethodFrequency {
		t.Errorf("got (%s, %s), want (a, frequency)", id.ResolvedID, id.Method)
	}
}

func TestResolve_FrequencySelectsStrictMaximum(t *testing.T) {
	// {A:5, B:1, C:1} → A.
	bundles := bundlesFor("A", "A", "A", "A", "A", "B", "C")

	id, err := Resolve(bundles, nil, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.ResolvedID != "A" {
		t.Errorf("ResolvedID = %s, want A", id.ResolvedID)
	}
	if want := 5.0 / 7.0; id.Confidence != want {
		t.Errorf("Confidence = %v, want %v", id.Confidence, want)
	}
}

func TestResolve_FrequencyTieIsAmbiguous(t *testing.T) {
	// {A:3, B:3} → never guess.
	bundles := bundlesFor("A", "B", "A", "B", "A", "B")

	_, err := Resolve(bundles, nil, false)
	if err == nil {
		t.Fatal("expected ambiguous-identity error on a tie")
	}
	if !models.IsCode(err, models.ErrCodeAmbiguousIdentity) {
		t.Errorf("error code = %s, want AMBIGUOUS_IDENTITY", models.CodeOf(err))
	}
}

func TestResolve_StaticShortcutSkipsResolution(t *testing.T) {
	id, err := Resolve(nil, nil, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Method != models.MethodStatic || id.ResolvedID != "" {
		t.Errorf("got (%q, %s), want (\"\", static)", id.ResolvedID, id.Method)
	}
}

func TestResolve_NoCandidatesOnDynamicPage(t *testing.T) {
	_, err := Resolve(nil, nil, false)
	if err == nil {
		t.Fatal("expected error when nothing arrived on a dynamic page")
	}
	if !models.IsCode(err, models.ErrCodeMalformedPayload) {
		t.Errorf("error code = %s, want MALFORMED_PAYLOAD", models.CodeOf(err))
	}
}

func TestResolve_Deterministic(t *testing.T) {
	bundles := bundlesFor("x", "y", "x", "z", "x")

	first, err := Resolve(bundles, []string{"y"}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 50; i++ {
		again, err := Resolve(bundles, []string{"y"}, false)
		if err != nil {
			t.Fatalf("unexpected error on run %d: %v", i, err)
		}
		if again != first {
			t.Fatalf("resolution not deterministic: %+v vs %+v", again, first)
		}
	}
}

func TestMergedText_ConcatenatesChunksInArrivalOrder(t *testing.T) {
	bundles := []models.CandidateBundle{
		{RenderID: "r1", RawText: "beta", ArrivalOrder: 1},
		{RenderID: "r2", RawText: "noise", ArrivalOrder: 2},
		{RenderID: "r1", RawText: "alpha", ArrivalOrder: 0},
	}

	if got := MergedText(bundles, "r1"); got != "alphabeta" {
		t.Errorf("MergedText = %q, want alphabeta", got)
	}
	if got := MergedText(bundles, "missing"); got != "" {
		t.Errorf("MergedText for unknown id = %q, want empty", got)
	}
}

func TestMergedText_DropsRetransmittedChunks(t *testing.T) {
	payload := `{"video_id":"1234567890","seq":"chunk one of two"}`
	bundles := []models.CandidateBundle{
		{RenderID: "r1", RawText: payload, ArrivalOrder: 0},
		{RenderID: "r1", RawText: payload, ArrivalOrder: 1},
		{RenderID: "r1", RawText: `{"landing_page":"https://play.google.com/store/apps/details?id=com.acme.app"}`, ArrivalOrder: 2},
	}

	got := MergedText(bundles, "r1")
	want := payload + `{"landing_page":"https://play.google.com/store/apps/details?id=com.acme.app"}`
	if got != want {
		t.Errorf("MergedText = %q, want retransmit merged once", got)
	}
}
