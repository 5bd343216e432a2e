package app

import (
	"sort"
	"time"

	"github.com/bft-labs/upshift/internal/domain"
)

// Aggregate summarises a group of finished executions.
type Aggregate struct {
	Total          int `json:"total"`
	Completed      int `json:"completed"`
	RolledBack     int `json:"rolled_back"`
	Failed         int `json:"failed"`
	RollbackFailed int `json:"rollback_failed"`
	ForceStopped   int `json:"force_stopped"`

	SuccessRatio    float64       `json:"success_ratio"`
	FailureRatio    float64       `json:"failure_ratio"`
	AverageDuration time.Duration `json:"average_duration"`

	totalDuration time.Duration
}

func (a *Aggregate) add(rec domain.HistoryRecord) {
	a.Total++
	a.totalDuration += rec.Duration
	switch rec.FinalState {
	case domain.StateCompleted:
		a.Completed++
	case domain.StateRolledBack:
		a.RolledBack++
	case domain.StateRollbackFailed:
		a.RollbackFailed++
	case domain.StateForceStopped:
		a.ForceStopped++
	default:
		a.Failed++
	}
}

func (a *Aggregate) finish() {
	if a.Total == 0 {
		return
	}
	n := float64(a.Total)
	a.SuccessRatio = float64(a.Completed) / n
	a.FailureRatio = float64(a.Failed+a.RolledBack+a.RollbackFailed) / n
	a.AverageDuration = a.totalDuration / time.Duration(a.Total)
}

// Report aggregates execution history over a trailing window.
type Report struct {
	Window time.Duration `json:"window"`
	From   time.Time     `json:"from"`
	To     time.Time     `json:"to"`

	Overall    Aggregate            `json:"overall"`
	ByKind     map[string]Aggregate `json:"by_kind"`
	ByPriority map[string]Aggregate `json:"by_priority"`

	// FailuresByPhase counts unsuccessful executions by the phase they failed in.
	FailuresByPhase map[string]int `json:"failures_by_phase"`

	// RollbackFailures lists executions that need operator attention.
	RollbackFailures []string `json:"rollback_failures,omitempty"`
}

// BuildReport aggregates the records that ended within window before now.
// A non-positive window includes every record.
func BuildReport(records []domain.HistoryRecord, window time.Duration, now time.Time) Report {
	rep := Report{
		Window:          window,
		To:              now,
		ByKind:          make(map[string]Aggregate),
		ByPriority:      make(map[string]Aggregate),
		FailuresByPhase: make(map[string]int),
	}
	if window > 0 {
		rep.From = now.Add(-window)
	}

	for _, rec := range records {
		if window > 0 && rec.EndedAt.Before(rep.From) {
			continue
		}
		if rec.EndedAt.After(now) {
			continue
		}

		rep.Overall.add(rec)

		kind := rep.ByKind[string(rec.Kind)]
		kind.add(rec)
		rep.ByKind[string(rec.Kind)] = kind

		prio := rep.ByPriority[rec.Priority.String()]
		prio.add(rec)
		rep.ByPriority[rec.Priority.String()] = prio

		if !rec.Succeeded() && rec.FinalState != domain.StateForceStopped && rec.Phase != "" {
			rep.FailuresByPhase[rec.Phase.String()]++
		}
		if rec.FinalState == domain.StateRollbackFailed {
			rep.RollbackFailures = append(rep.RollbackFailures, rec.ExecutionID)
		}
	}

	rep.Overall.finish()
	for k, a := range rep.ByKind {
		a.finish()
		rep.ByKind[k] = a
	}
	for k, a := range rep.ByPriority {
		a.finish()
		rep.ByPriority[k] = a
	}
	sort.Strings(rep.RollbackFailures)
	return rep
}
