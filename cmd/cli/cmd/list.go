package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/picogrid/drone-lockstep/pkg/simulation"
	"github.com/picogrid/drone-lockstep/pkg/utils"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List available simulations",
	Long:  `List all available simulations with their descriptions`,
	RunE:  listSimulations,
}

func init() {
	listCmd.Flags().BoolP("params", "p", false, "show each simulation's parameters")
}

func listSimulations(cmd *cobra.Command, _ []string) error {
	simInfos, err := utils.DiscoverSimulations(simulation.DefaultRegistry)
	if err != nil {
		return fmt.Errorf("failed to discover simulations: %w", err)
	}

	if len(simInfos) == 0 {
		fmt.Println("No simulations found")
		return nil
	}

	showParams, _ := cmd.Flags().GetBool("params")

	// Create tabwriter for formatted output
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tVERSION\tCATEGORY\tDESCRIPTION")
	_, _ = fmt.Fprintln(w, "----\t-------\t--------\t-----------")

	for _, info := range simInfos {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			info.Name,
			info.Config.Version,
			info.Config.Category,
			info.Config.Description,
		)
		if !showParams {
			continue
		}
		for _, p := range info.Config.Parameters {
			_, _ = fmt.Fprintf(w, "  %s\t%s\tdefault=%v\t%s\n", p.Name, p.Type, p.Default, p.Description)
		}
	}

	return w.Flush()
}
