package simulation

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Parameter types understood by the prompt layer
const (
	TypeInteger  = "integer"
	TypeFloat    = "float"
	TypeString   = "string"
	TypeBoolean  = "boolean"
	TypeDuration = "duration"
)

// SimulationConfig represents the configuration structure for a simulation
// loaded from simulation.yaml
type SimulationConfig struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Version     string      `yaml:"version"`
	Category    string      `yaml:"category"`
	Parameters  []Parameter `yaml:"parameters"`
}

// Parameter defines a configurable parameter for a simulation
type Parameter struct {
	Name        string      `yaml:"name"`
	Type        string      `yaml:"type"` // integer, float, string, duration, boolean
	Description string      `yaml:"description"`
	Default     interface{} `yaml:"default"`
	Required    bool        `yaml:"required"`
	Min         interface{} `yaml:"min,omitempty"`
	Max         interface{} `yaml:"max,omitempty"`
	Options     []string    `yaml:"options,omitempty"` // For string enums
}

// ParseManifest decodes and checks a simulation.yaml document
func ParseManifest(data []byte) (*SimulationConfig, error) {
	var cfg SimulationConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse simulation manifest: %w", err)
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("simulation manifest has no name")
	}

	seen := make(map[string]bool, len(cfg.Parameters))
	for _, p := range cfg.Parameters {
		if p.Name == "" {
			return nil, fmt.Errorf("simulation %s: parameter without a name", cfg.Name)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("simulation %s: duplicate parameter %s", cfg.Name, p.Name)
		}
		seen[p.Name] = true

		switch p.Type {
		case TypeInteger, TypeFloat, TypeString, TypeBoolean, TypeDuration:
		default:
			return nil, fmt.Errorf("simulation %s: parameter %s has unsupported type %q", cfg.Name, p.Name, p.Type)
		}
	}

	return &cfg, nil
}

// Parameter returns the named parameter
func (c *SimulationConfig) Parameter(name string) (Parameter, bool) {
	for _, p := range c.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// WithDefaults returns a copy whose parameter defaults are replaced by any
// matching entry in defaults
func (c *SimulationConfig) WithDefaults(defaults map[string]interface{}) *SimulationConfig {
	out := *c
	out.Parameters = make([]Parameter, len(c.Parameters))
	for i, p := range c.Parameters {
		if v, ok := defaults[p.Name]; ok {
			p.Default = v
		}
		out.Parameters[i] = p
	}
	return &out
}
