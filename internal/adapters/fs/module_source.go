package fs

import (
	"context"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/bft-labs/upshift/internal/domain"
	"github.com/bft-labs/upshift/internal/ports"
)

// manifest is the on-disk list of installed modules.
//
//	[[modules]]
//	id = "cache-v1"
//	capabilities = ["caching"]
//	performance = 0.4
type manifest struct {
	Modules []domain.Module `toml:"modules"`
}

// ModuleSource implements ports.ModuleSource over a TOML manifest file.
type ModuleSource struct {
	path string
}

// NewModuleSource creates a module source reading path.
func NewModuleSource(path string) *ModuleSource {
	return &ModuleSource{path: path}
}

// InstalledModules reads the manifest.
// Returns an empty list and nil error if the manifest does not exist.
func (s *ModuleSource) InstalledModules(ctx context.Context) ([]domain.Module, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var m manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse modules manifest %s: %w", s.path, err)
	}
	return m.Modules, nil
}

// WriteManifest replaces the manifest atomically.
func WriteManifest(path string, mods []domain.Module) error {
	data, err := toml.Marshal(manifest{Modules: mods})
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data, 0o600)
}

var _ ports.ModuleSource = (*ModuleSource)(nil)
