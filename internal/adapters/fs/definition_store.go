package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/bft-labs/upshift/internal/domain"
	"github.com/bft-labs/upshift/internal/ports"
)

// definitionRecord is the on-disk shape of an upgrade definition.
type definitionRecord struct {
	ID          string `toml:"id" yaml:"id"`
	Name        string `toml:"name" yaml:"name"`
	Description string `toml:"description" yaml:"description"`
	Kind        string `toml:"kind" yaml:"kind"`
	Priority    string `toml:"priority" yaml:"priority"`

	Strategy      string `toml:"strategy" yaml:"strategy"`
	Phases        []int  `toml:"phases" yaml:"phases"`
	CanaryPercent int    `toml:"canary_percent" yaml:"canary_percent"`

	RollbackSupported bool `toml:"rollback_supported" yaml:"rollback_supported"`
	TestingRequired   bool `toml:"testing_required" yaml:"testing_required"`

	Conflicts []string `toml:"conflicts" yaml:"conflicts"`
	DependsOn []string `toml:"depends_on" yaml:"depends_on"`
	Timeout   string   `toml:"timeout" yaml:"timeout"`

	Requirements []requirementRecord `toml:"requirements" yaml:"requirements"`
	Benefits     []benefitRecord     `toml:"benefits" yaml:"benefits"`
}

type requirementRecord struct {
	Name   string  `toml:"name" yaml:"name"`
	Type   string  `toml:"type" yaml:"type"`
	Metric string  `toml:"metric" yaml:"metric"`
	Value  float64 `toml:"value" yaml:"value"`
	Min    float64 `toml:"min" yaml:"min"`
	Max    float64 `toml:"max" yaml:"max"`
	Target string  `toml:"target" yaml:"target"`
}

type benefitRecord struct {
	Name string  `toml:"name" yaml:"name"`
	Min  float64 `toml:"min" yaml:"min"`
	Max  float64 `toml:"max" yaml:"max"`
}

// DefinitionStore implements ports.DefinitionStore over a directory with
// one file per definition: <id>.toml, <id>.yaml or <id>.yml.
type DefinitionStore struct {
	dir string
}

// NewDefinitionStore creates a store reading from dir.
func NewDefinitionStore(dir string) *DefinitionStore {
	return &DefinitionStore{dir: dir}
}

// Dir returns the directory the store reads from.
func (s *DefinitionStore) Dir() string {
	return s.dir
}

// LoadAll reads every definition file in lexical order. When two files
// carry the same id the first one wins and the second is a load error.
func (s *DefinitionStore) LoadAll(ctx context.Context) ([]domain.UpgradeDefinition, []ports.LoadError, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read definitions directory: %w", err)
	}

	var (
		defs     []domain.UpgradeDefinition
		loadErrs []ports.LoadError
		seen     = make(map[string]string)
	)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if entry.IsDir() || !IsDefinitionFile(entry.Name()) {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		def, err := LoadDefinitionFile(path)
		if err != nil {
			loadErrs = append(loadErrs, ports.LoadError{Path: path, Err: err})
			continue
		}
		if first, dup := seen[def.ID]; dup {
			loadErrs = append(loadErrs, ports.LoadError{
				Path: path,
				Err:  fmt.Errorf("%w: duplicate id %q, already loaded from %s", domain.ErrInvalidDefinition, def.ID, first),
			})
			continue
		}
		seen[def.ID] = path
		defs = append(defs, def)
	}
	return defs, loadErrs, nil
}

// IsDefinitionFile reports whether name has a definition file extension.
func IsDefinitionFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".toml", ".yaml", ".yml":
		return true
	}
	return false
}

// LoadDefinitionFile parses and validates a single definition file.
func LoadDefinitionFile(path string) (domain.UpgradeDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.UpgradeDefinition{}, err
	}

	var rec definitionRecord
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &rec)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &rec)
	default:
		err = fmt.Errorf("unsupported extension %q", filepath.Ext(path))
	}
	if err != nil {
		return domain.UpgradeDefinition{}, fmt.Errorf("%w: parse: %w", domain.ErrInvalidDefinition, err)
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if rec.ID == "" {
		rec.ID = stem
	} else if rec.ID != stem {
		return domain.UpgradeDefinition{}, fmt.Errorf("%w: id %q does not match file name %q", domain.ErrInvalidDefinition, rec.ID, stem)
	}

	def, err := rec.toDomain()
	if err != nil {
		return domain.UpgradeDefinition{}, err
	}
	if err := def.Validate(); err != nil {
		return domain.UpgradeDefinition{}, err
	}
	return def, nil
}

func (r definitionRecord) toDomain() (domain.UpgradeDefinition, error) {
	prio, err := domain.ParsePriority(r.Priority)
	if err != nil {
		return domain.UpgradeDefinition{}, fmt.Errorf("%w: %w", domain.ErrInvalidDefinition, err)
	}

	var timeout time.Duration
	if r.Timeout != "" {
		timeout, err = time.ParseDuration(r.Timeout)
		if err != nil {
			return domain.UpgradeDefinition{}, fmt.Errorf("%w: timeout: %w", domain.ErrInvalidDefinition, err)
		}
	}

	strategy := domain.Strategy(strings.ToLower(r.Strategy))
	if strategy == "" {
		strategy = domain.StrategyImmediate
	}

	name := r.Name
	if name == "" {
		name = r.ID
	}

	def := domain.UpgradeDefinition{
		ID:                r.ID,
		Name:              name,
		Description:       r.Description,
		Kind:              domain.Kind(strings.ToLower(r.Kind)),
		Priority:          prio,
		Strategy:          strategy,
		Phases:            r.Phases,
		CanaryPercent:     r.CanaryPercent,
		RollbackSupported: r.RollbackSupported,
		TestingRequired:   r.TestingRequired,
		Conflicts:         r.Conflicts,
		DependsOn:         r.DependsOn,
		Timeout:           timeout,
	}
	for _, req := range r.Requirements {
		if !domain.Finite(req.Value, req.Min, req.Max) {
			return domain.UpgradeDefinition{}, fmt.Errorf("%w: requirement %q has a non-finite bound", domain.ErrInvalidDefinition, req.Name)
		}
		def.Requirements = append(def.Requirements, domain.Requirement{
			Name:   req.Name,
			Type:   strings.ToLower(req.Type),
			Metric: req.Metric,
			Value:  req.Value,
			Min:    req.Min,
			Max:    req.Max,
			Target: req.Target,
		})
	}
	for _, b := range r.Benefits {
		if !domain.Finite(b.Min, b.Max) {
			return domain.UpgradeDefinition{}, fmt.Errorf("%w: benefit %q has a non-finite estimate", domain.ErrInvalidDefinition, b.Name)
		}
		if b.Max < b.Min {
			return domain.UpgradeDefinition{}, fmt.Errorf("%w: benefit %q has max below min", domain.ErrInvalidDefinition, b.Name)
		}
		def.Benefits = append(def.Benefits, domain.Benefit{Name: b.Name, Min: b.Min, Max: b.Max})
	}
	return def, nil
}

var _ ports.DefinitionStore = (*DefinitionStore)(nil)
