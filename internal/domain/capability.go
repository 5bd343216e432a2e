package domain

// Module is an installed unit that provides capabilities.
type Module struct {
	ID           string   `toml:"id" json:"id"`
	Capabilities []string `toml:"capabilities" json:"capabilities"`
	Performance  float64  `toml:"performance" json:"performance"`
}

// CapabilityRecord aggregates the modules providing one capability.
type CapabilityRecord struct {
	Name        string   `json:"name"`
	Modules     []string `json:"modules"`
	Performance float64  `json:"performance"`
}

// CapabilityGap is a capability whose provided level is below the required one.
type CapabilityGap struct {
	Capability string   `json:"capability"`
	Required   float64  `json:"required"`
	Current    float64  `json:"current"`
	Upgrades   []string `json:"upgrades,omitempty"`
}
