package webhook

import (
	"context"
	"fmt"
	"sync"

	"github.com/bft-labs/upshift/internal/domain"
	"github.com/bft-labs/upshift/internal/ports"
)

// Registry routes deployments to an executor by upgrade kind.
type Registry struct {
	mu       sync.RWMutex
	byKind   map[domain.Kind]ports.DeploymentExecutor
	fallback ports.DeploymentExecutor
}

// NewRegistry creates a registry. fallback, which may be nil, handles
// kinds without a registered executor.
func NewRegistry(fallback ports.DeploymentExecutor) *Registry {
	return &Registry{
		byKind:   make(map[domain.Kind]ports.DeploymentExecutor),
		fallback: fallback,
	}
}

// Register sets the executor for kind, replacing any previous one.
func (r *Registry) Register(kind domain.Kind, exec ports.DeploymentExecutor) {
	r.mu.Lock()
	r.byKind[kind] = exec
	r.mu.Unlock()
}

// Deploy implements ports.DeploymentExecutor.
func (r *Registry) Deploy(ctx context.Context, def domain.UpgradeDefinition, req ports.DeployRequest) (ports.DeployResult, error) {
	r.mu.RLock()
	exec, ok := r.byKind[def.Kind]
	if !ok {
		exec = r.fallback
	}
	r.mu.RUnlock()

	if exec == nil {
		return ports.DeployResult{}, fmt.Errorf("no executor registered for kind %q", def.Kind)
	}
	return exec.Deploy(ctx, def, req)
}

var _ ports.DeploymentExecutor = (*Registry)(nil)
