package utils

import (
	"fmt"

	"github.com/picogrid/drone-lockstep/pkg/simulation"
)

// SimulationInfo contains information about a discovered simulation
type SimulationInfo struct {
	Name   string
	Config simulation.SimulationConfig
}

// DiscoverSimulations lists every simulation registered in reg together with
// its manifest. Simulations registered without a manifest get a bare entry.
func DiscoverSimulations(reg *simulation.Registry) ([]SimulationInfo, error) {
	if reg == nil {
		return nil, fmt.Errorf("no simulation registry")
	}

	var simulations []SimulationInfo
	for _, name := range reg.List() {
		info := SimulationInfo{Name: name}
		if manifest, ok := reg.Manifest(name); ok {
			info.Config = *manifest
		} else {
			sim, err := reg.Get(name)
			if err != nil {
				return nil, fmt.Errorf("failed to load simulation %s: %w", name, err)
			}
			info.Config = simulation.SimulationConfig{
				Name:        name,
				Description: sim.Description(),
			}
		}
		simulations = append(simulations, info)
	}

	return simulations, nil
}

// FindSimulation returns the discovered entry for name
func FindSimulation(infos []SimulationInfo, name string) (*SimulationInfo, bool) {
	for i := range infos {
		if infos[i].Name == name {
			return &infos[i], true
		}
	}
	return nil, false
}
