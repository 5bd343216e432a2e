package app

import (
	"sort"
	"sync"

	"github.com/juju/collections/set"

	"github.com/bft-labs/upshift/internal/domain"
)

// CapabilityRegistry maps capabilities to the installed modules providing
// them. It is rebuilt from scratch from the module list, never patched.
type CapabilityRegistry struct {
	mu      sync.RWMutex
	records map[string]domain.CapabilityRecord
	modules set.Strings
}

// NewCapabilityRegistry creates an empty registry.
func NewCapabilityRegistry() *CapabilityRegistry {
	return &CapabilityRegistry{
		records: make(map[string]domain.CapabilityRecord),
		modules: set.NewStrings(),
	}
}

// Rebuild replaces the registry contents with those derived from mods.
// A capability's performance is the mean performance of its modules.
func (r *CapabilityRegistry) Rebuild(mods []domain.Module) {
	providers := make(map[string]set.Strings)
	totals := make(map[string]float64)
	moduleIDs := set.NewStrings()

	for _, m := range mods {
		moduleIDs.Add(m.ID)
		for _, c := range set.NewStrings(m.Capabilities...).SortedValues() {
			if providers[c] == nil {
				providers[c] = set.NewStrings()
			}
			providers[c].Add(m.ID)
			totals[c] += m.Performance
		}
	}

	records := make(map[string]domain.CapabilityRecord, len(providers))
	for name, ids := range providers {
		records[name] = domain.CapabilityRecord{
			Name:        name,
			Modules:     ids.SortedValues(),
			Performance: totals[name] / float64(ids.Size()),
		}
	}

	r.mu.Lock()
	r.records = records
	r.modules = moduleIDs
	r.mu.Unlock()
}

// Get returns the record for a capability.
func (r *CapabilityRegistry) Get(name string) (domain.CapabilityRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[name]
	return rec, ok
}

// All returns every record sorted by capability name.
func (r *CapabilityRegistry) All() []domain.CapabilityRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.CapabilityRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Available returns installed module ids and provided capability names,
// sorted, for dependency requirements.
func (r *CapabilityRegistry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := set.NewStrings(r.modules.Values()...)
	for name := range r.records {
		names.Add(name)
	}
	return names.SortedValues()
}

// Gaps returns capabilities whose performance is below threshold, sorted by name.
func (r *CapabilityRegistry) Gaps(threshold float64) []domain.CapabilityGap {
	var gaps []domain.CapabilityGap
	for _, rec := range r.All() {
		if rec.Performance < threshold {
			gaps = append(gaps, domain.CapabilityGap{
				Capability: rec.Name,
				Required:   threshold,
				Current:    rec.Performance,
			})
		}
	}
	return gaps
}

// UpgradesClosing returns the ids of definitions whose benefit tags name
// the gap's capability, in catalog order.
func UpgradesClosing(gap domain.CapabilityGap, defs []domain.UpgradeDefinition) []string {
	var ids []string
	for _, d := range defs {
		if d.HasBenefitTag(gap.Capability) {
			ids = append(ids, d.ID)
		}
	}
	return ids
}
