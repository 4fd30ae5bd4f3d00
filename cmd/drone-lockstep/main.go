package main

import (
	"fmt"
	"os"

	// Import to register the simulation presets
	_ "github.com/picogrid/drone-lockstep/cmd/drone-lockstep/simulation"
	"github.com/picogrid/drone-lockstep/pkg/simulation"
)

func main() {
	fmt.Println("Drone lockstep simulations registered:")
	for _, name := range simulation.DefaultRegistry.List() {
		fmt.Printf("  %s\n", name)
	}
	fmt.Println("Use 'drone-lockstep run' to execute.")
	os.Exit(0)
}
