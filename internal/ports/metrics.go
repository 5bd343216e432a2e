package ports

import (
	"time"

	"github.com/bft-labs/upshift/internal/domain"
)

// Metrics records engine measurements.
type Metrics interface {
	ExecutionFinished(rec domain.HistoryRecord)
	ActiveExecutions(n int)
	StateTransition(to domain.State)
	CatalogSize(n int)
	DefinitionLoadErrors(n int)
	TickDuration(d time.Duration)
}
