package ports

import (
	"context"

	"github.com/bft-labs/upshift/internal/domain"
)

// TelemetryProvider supplies current system metrics on demand.
type TelemetryProvider interface {
	Snapshot(ctx context.Context) (domain.Telemetry, error)
}

// ModuleSource lists the installed modules and the capabilities they declare.
type ModuleSource interface {
	InstalledModules(ctx context.Context) ([]domain.Module, error)
}
