// Package resolve disambiguates the one real creative from the decoy
// content bundles delivered on the same page load.
package resolve

import (
	"fmt"
	"sort"
	"strings"

	"github.com/use-agent/adscope/models"
)

// Resolve decides which observed bundle id is the real creative.
//
// Precedence:
//   - static shortcut: the page was flagged static/cached, there is no
//     dynamic creative to resolve;
//   - API method: the lookup response explicitly named the creative's
//     bundle id(s) and one of them was actually observed;
//   - frequency method: the real creative recurs because the page
//     re-requests it, decoys typically appear once. A tie for the
//     maximum fails with AMBIGUOUS_IDENTITY instead of guessing.
//
// Resolve is deterministic: identical bundles and identical evidence
// always yield the same identity and method tag. It never panics and
// returns typed errors for the caller to grade.
func Resolve(bundles []models.CandidateBundle, apiIDs []string, static bool) (models.CreativeIdentity, error) {
	if static {
		return models.CreativeIdentity{Method: models.MethodStatic, Confidence: 1}, nil
	}

	if len(bundles) == 0 {
		return models.CreativeIdentity{}, models.NewTaskError(models.ErrCodeMalformedPayload,
			"no candidate bundles observed on a dynamic page", nil)
	}

	observed := make(map[string]int, len(bundles))
	for _, b := range bundles {
		observed[b.RenderID]++
	}

	// API method: exact id match against what actually arrived.
	for _, id := range apiIDs {
		if observed[id] > 0 {
			return models.CreativeIdentity{
				ResolvedID: id,
				Method:     models.MethodAPI,
				Confidence: 1,
			}, nil
		}
	}

	// Frequency method: strictly highest occurrence count wins.
	best, tied := "", []string(nil)
	for id, n := range observed {
		switch {
		case best == "" || n > observed[best]:
			best, tied = id, nil
		case n == observed[best]:
			tied = append(tied, id)
		}
	}
	if len(tied) > 0 {
		ids := append(tied, best)
		sort.Strings(ids)
		return models.CreativeIdentity{}, models.NewTaskError(models.ErrCodeAmbiguousIdentity,
			fmt.Sprintf("frequency tie between candidate ids %s", strings.Join(ids, ", ")), nil)
	}

	return models.CreativeIdentity{
		ResolvedID: best,
		Method:     models.MethodFrequency,
		Confidence: float64(observed[best]) / float64(len(bundles)),
	}, nil
}

// MergedText concatenates the chunked bundles matching id in arrival
// order. Chunked delivery splits one payload across several responses
// sharing a render id; the CDN also retransmits chunks it believes were
// lost, so near-identical payloads are merged only once.
func MergedText(bundles []models.CandidateBundle, id string) string {
	matched := make([]models.CandidateBundle, 0, len(bundles))
	for _, b := range bundles {
		if b.RenderID == id {
			matched = append(matched, b)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ArrivalOrder < matched[j].ArrivalOrder
	})

	var sb strings.Builder
	var accepted []uint64
	for _, b := range matched {
		fp := fingerprint(b.RawText)
		if len(accepted) > 0 && isRetransmit(fp, accepted) {
			continue
		}
		accepted = append(accepted, fp)
		sb.WriteString(b.RawText)
	}
	return sb.String()
}
