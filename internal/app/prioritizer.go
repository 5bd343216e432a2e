package app

import (
	"sort"

	"github.com/bft-labs/upshift/internal/domain"
)

// Candidate is an eligible definition waiting for a scheduling slot.
type Candidate struct {
	Definition  domain.UpgradeDefinition
	Eligibility Eligibility
}

// Prioritize orders candidates by priority, then benefit aggregate, then
// eligibility score, all descending. The sort is stable so that equal
// candidates keep their catalog order. The input slice is not modified.
func Prioritize(cands []Candidate) []Candidate {
	out := make([]Candidate, len(cands))
	copy(out, cands)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Definition.Priority != b.Definition.Priority {
			return a.Definition.Priority > b.Definition.Priority
		}
		if ab, bb := a.Definition.BenefitScore(), b.Definition.BenefitScore(); ab != bb {
			return ab > bb
		}
		return a.Eligibility.Score > b.Eligibility.Score
	})
	return out
}
