package app

import (
	"context"
	"sync"
	"time"

	"github.com/bft-labs/upshift/internal/domain"
	"github.com/bft-labs/upshift/internal/ports"
)

// MemoryHistory is an in-process HistoryRepository.
type MemoryHistory struct {
	mu      sync.RWMutex
	records []domain.HistoryRecord
}

// NewMemoryHistory creates an empty history.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

// Append implements ports.HistoryRepository.
func (h *MemoryHistory) Append(_ context.Context, rec domain.HistoryRecord) error {
	h.mu.Lock()
	h.records = append(h.records, rec)
	h.mu.Unlock()
	return nil
}

// Since implements ports.HistoryRepository.
func (h *MemoryHistory) Since(_ context.Context, t time.Time) ([]domain.HistoryRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []domain.HistoryRecord
	for _, rec := range h.records {
		if !rec.EndedAt.Before(t) {
			out = append(out, rec)
		}
	}
	return out, nil
}

var _ ports.HistoryRepository = (*MemoryHistory)(nil)
