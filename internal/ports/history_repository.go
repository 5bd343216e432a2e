package ports

import (
	"context"
	"time"

	"github.com/bft-labs/upshift/internal/domain"
)

// HistoryRepository persists records of finished executions.
type HistoryRepository interface {
	// Append stores a record. Records are never updated.
	Append(ctx context.Context, rec domain.HistoryRecord) error

	// Since returns records that ended at or after t, oldest first.
	// The zero time returns all records.
	Since(ctx context.Context, t time.Time) ([]domain.HistoryRecord, error)
}
