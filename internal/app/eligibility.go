package app

import (
	"fmt"

	"github.com/bft-labs/upshift/internal/domain"
)

// RequirementResult is the outcome of one requirement check.
type RequirementResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
}

// Eligibility is the evaluator's verdict on a definition.
type Eligibility struct {
	Eligible bool                `json:"eligible"`
	Score    float64             `json:"score"`
	Results  []RequirementResult `json:"results,omitempty"`
}

// Evaluate checks every requirement of def against t independently.
// The definition is eligible only if all checks pass; the score is the
// percentage of passing checks, 100 when there are none. Evaluate has no
// side effects and never fails: malformed requirements are recorded as
// failed checks with a reason.
func Evaluate(def domain.UpgradeDefinition, t domain.Telemetry) Eligibility {
	if len(def.Requirements) == 0 {
		return Eligibility{Eligible: true, Score: 100}
	}

	results := make([]RequirementResult, 0, len(def.Requirements))
	passed := 0
	for _, req := range def.Requirements {
		ok, reason := checkRequirement(req, t)
		if ok {
			passed++
		}
		results = append(results, RequirementResult{Name: requirementName(req), Passed: ok, Reason: reason})
	}

	return Eligibility{
		Eligible: passed == len(results),
		Score:    float64(passed) / float64(len(results)) * 100,
		Results:  results,
	}
}

func requirementName(req domain.Requirement) string {
	if req.Name != "" {
		return req.Name
	}
	if req.Type == domain.RequirementDependency {
		return "dependency:" + req.Target
	}
	return req.Type + ":" + req.Metric
}

func checkRequirement(req domain.Requirement, t domain.Telemetry) (bool, string) {
	switch req.Type {
	case domain.RequirementMin, domain.RequirementMax, domain.RequirementRange:
		if req.Metric == "" {
			return false, "requirement has no metric"
		}
		v, ok := t.Metric(req.Metric)
		if !ok {
			return false, fmt.Sprintf("metric %q not reported", req.Metric)
		}
		return checkBound(req, v)

	case domain.RequirementDependency:
		if req.Target == "" {
			return false, "dependency has no target"
		}
		if !t.IsAvailable(req.Target) {
			return false, fmt.Sprintf("dependency %q not available", req.Target)
		}
		return true, ""

	default:
		return false, fmt.Sprintf("unknown requirement type %q", req.Type)
	}
}

func checkBound(req domain.Requirement, v float64) (bool, string) {
	if !domain.Finite(v) {
		return false, fmt.Sprintf("metric %q is not finite", req.Metric)
	}
	if !domain.Finite(req.Value, req.Min, req.Max) {
		return false, "bound is not finite"
	}
	switch req.Type {
	case domain.RequirementMin:
		if v < req.Value {
			return false, fmt.Sprintf("%s %.4g below minimum %.4g", req.Metric, v, req.Value)
		}
	case domain.RequirementMax:
		if v > req.Value {
			return false, fmt.Sprintf("%s %.4g above maximum %.4g", req.Metric, v, req.Value)
		}
	case domain.RequirementRange:
		if req.Min > req.Max {
			return false, fmt.Sprintf("invalid range %.4g..%.4g", req.Min, req.Max)
		}
		if v < req.Min || v > req.Max {
			return false, fmt.Sprintf("%s %.4g outside %.4g..%.4g", req.Metric, v, req.Min, req.Max)
		}
	}
	return true, ""
}
