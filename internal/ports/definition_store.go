package ports

import (
	"context"
	"fmt"

	"github.com/bft-labs/upshift/internal/domain"
)

// DefinitionStore loads upgrade definitions.
type DefinitionStore interface {
	// LoadAll returns every well-formed definition in load order.
	// Malformed records are skipped and reported in the second return value;
	// the error is reserved for failures that prevent loading anything.
	LoadAll(ctx context.Context) ([]domain.UpgradeDefinition, []LoadError, error)
}

// LoadError describes one record that could not be loaded.
type LoadError struct {
	Path string
	Err  error
}

func (e LoadError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e LoadError) Unwrap() error {
	return e.Err
}
