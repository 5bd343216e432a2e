package ports

import (
	"context"

	"github.com/bft-labs/upshift/internal/domain"
)

// SnapshotStore captures and restores system state around an upgrade.
type SnapshotStore interface {
	// Create captures the current state and returns an opaque handle.
	Create(ctx context.Context, def domain.UpgradeDefinition) (string, error)

	// Restore puts the system back into the state captured under handle.
	Restore(ctx context.Context, handle string) error
}
