// Package validate runs the post-hoc consistency and completeness
// checks on a finished page run.
package validate

import (
	"fmt"

	"github.com/use-agent/adscope/extract"
	"github.com/use-agent/adscope/models"
)

// Report is everything the gate needs to judge one run.
type Report struct {
	// TargetKnown is whether an authoritative bundle-count target was
	// learned; Outstanding is how many targeted bundles never arrived.
	TargetKnown bool
	TargetCount int
	Outstanding int

	// Identity is nil when resolution failed. On static pages a nil
	// identity is still legitimate: there was nothing to resolve.
	Identity   *models.CreativeIdentity
	StaticPage bool

	// LookupSeen is whether any lookup/API response was captured.
	LookupSeen bool

	// BlockedRatio is the fraction of requests interception aborted.
	BlockedRatio float64

	Extraction models.ExtractionResult
}

// Gate evaluates the five independent run checks. Checks 1–2 produce
// errors (fatal to the run's success flag), 3–5 produce warnings.
type Gate struct {
	// BlockedRatioWarn is the blocked-request ceiling; blocking is an
	// intentional optimization, so exceeding it only warns.
	BlockedRatioWarn float64
}

// NewGate creates a Gate with the given blocking-ratio ceiling.
func NewGate(blockedRatioWarn float64) *Gate {
	return &Gate{BlockedRatioWarn: blockedRatioWarn}
}

// Evaluate runs every check independently; no check short-circuits
// another. Overall success means no errors.
func (g *Gate) Evaluate(r Report) models.ValidationOutcome {
	out := models.ValidationOutcome{
		Errors:   []string{},
		Warnings: []string{},
	}

	// 1. Completeness.
	if r.TargetKnown && r.Outstanding > 0 {
		out.Errors = append(out.Errors, fmt.Sprintf(
			"completeness: %d of %d targeted bundles never arrived",
			r.Outstanding, r.TargetCount))
	}

	// 2. Identity.
	if r.Identity == nil && !r.StaticPage {
		out.Errors = append(out.Errors, "identity: creative identity was not resolved")
	}

	// 3. Evidence (diagnostic only).
	if !r.LookupSeen {
		out.Warnings = append(out.Warnings, "evidence: no lookup response was captured")
	}

	// 4. Blocking ratio.
	if r.BlockedRatio > g.BlockedRatioWarn {
		out.Warnings = append(out.Warnings, fmt.Sprintf(
			"blocking: %.0f%% of requests were blocked (ceiling %.0f%%)",
			r.BlockedRatio*100, g.BlockedRatioWarn*100))
	}

	// 5. Extraction consistency, dynamic resolutions only.
	if r.Identity != nil && r.Identity.Method != models.MethodStatic &&
		r.Extraction.HasStoreRef() && !extract.WellFormedStoreRef(r.Extraction.StoreRef) {
		out.Warnings = append(out.Warnings, fmt.Sprintf(
			"extraction: store reference %q is malformed", r.Extraction.StoreRef))
	}

	out.Success = len(out.Errors) == 0
	return out
}
