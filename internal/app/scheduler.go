package app

import (
	"github.com/juju/collections/set"

	"github.com/bft-labs/upshift/internal/domain"
)

// Scheduler decides which prioritized candidates may start now.
type Scheduler struct {
	// MaxConcurrent caps the number of non-terminal executions.
	MaxConcurrent int

	// MaxAttempts caps failed attempts per definition; zero means unlimited.
	MaxAttempts int
}

// AdmissionState is the engine bookkeeping the scheduler reads.
type AdmissionState struct {
	// Active holds the definitions that currently have a non-terminal execution.
	Active []domain.UpgradeDefinition

	// Completed holds ids of definitions that were applied successfully.
	Completed set.Strings

	// Failures counts finished unsuccessful attempts per definition id.
	Failures map[string]int

	// Blocked holds ids whose last rollback failed. They need an operator.
	Blocked set.Strings
}

// SkipReason explains why a candidate was not admitted.
type SkipReason string

const (
	SkipCapacity     SkipReason = "no free slot"
	SkipActive       SkipReason = "already active"
	SkipCompleted    SkipReason = "already completed"
	SkipConflict     SkipReason = "conflicts with active upgrade"
	SkipDependencies SkipReason = "dependencies not completed"
	SkipAttempts     SkipReason = "attempt limit reached"
	SkipBlocked      SkipReason = "rollback failed previously"

	// SkipIneligible is only reported by dry-run plans.
	SkipIneligible SkipReason = "requirements not met"
)

// Decision is the scheduler's verdict on a single candidate.
type Decision struct {
	Candidate Candidate
	Admitted  bool
	Reason    SkipReason
}

// Admit returns the candidates to start, in priority order. It admits at
// most MaxConcurrent-len(st.Active) of them and never blocks. Candidates
// it passes over stay eligible for the next call.
func (s Scheduler) Admit(prioritized []Candidate, st AdmissionState) []Candidate {
	var admitted []Candidate
	for _, d := range s.Decide(prioritized, st) {
		if d.Admitted {
			admitted = append(admitted, d.Candidate)
		}
	}
	return admitted
}

// Decide is Admit with a verdict for every candidate. Conflicts are
// checked in both directions and include candidates admitted earlier in
// the same call.
func (s Scheduler) Decide(prioritized []Candidate, st AdmissionState) []Decision {
	free := s.MaxConcurrent - len(st.Active)
	if free < 0 {
		free = 0
	}

	running := set.NewStrings()
	excluded := set.NewStrings()
	for _, def := range st.Active {
		running.Add(def.ID)
		excluded = excluded.Union(set.NewStrings(def.Conflicts...))
	}
	completed := st.Completed
	if completed == nil {
		completed = set.NewStrings()
	}

	decisions := make([]Decision, 0, len(prioritized))
	for _, c := range prioritized {
		def := c.Definition
		reason := s.skipReason(def, st, running, excluded, completed)
		if reason == "" && free == 0 {
			reason = SkipCapacity
		}
		if reason != "" {
			decisions = append(decisions, Decision{Candidate: c, Reason: reason})
			continue
		}

		free--
		running.Add(def.ID)
		excluded = excluded.Union(set.NewStrings(def.Conflicts...))
		decisions = append(decisions, Decision{Candidate: c, Admitted: true})
	}
	return decisions
}

func (s Scheduler) skipReason(def domain.UpgradeDefinition, st AdmissionState, running, excluded, completed set.Strings) SkipReason {
	switch {
	case running.Contains(def.ID):
		return SkipActive
	case completed.Contains(def.ID):
		return SkipCompleted
	case st.Blocked != nil && st.Blocked.Contains(def.ID):
		return SkipBlocked
	case s.MaxAttempts > 0 && st.Failures[def.ID] >= s.MaxAttempts:
		return SkipAttempts
	case excluded.Contains(def.ID):
		return SkipConflict
	case !set.NewStrings(def.Conflicts...).Intersection(running).IsEmpty():
		return SkipConflict
	case !set.NewStrings(def.DependsOn...).Difference(completed).IsEmpty():
		return SkipDependencies
	}
	return ""
}
