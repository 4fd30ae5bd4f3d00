package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/picogrid/drone-lockstep/cmd/drone-lockstep/storage"
	"github.com/picogrid/drone-lockstep/pkg/logger"
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show past simulation runs",
	Long: `List runs stored in the run history database, newest first, or show one
run with its drones and collision log. Runs are stored when storage is enabled
in the simulation config or a storage_path parameter is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: showHistory,
}

func init() {
	historyCmd.Flags().String("db", "./drone-lockstep.db", "run history database")
	historyCmd.Flags().IntP("limit", "n", 20, "number of runs to list (0 for all)")

	_ = viper.BindPFlag("storage_path", historyCmd.Flags().Lookup("db"))
}

func showHistory(cmd *cobra.Command, args []string) error {
	store, err := storage.Open(viper.GetString("storage_path"))
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	if len(args) == 1 {
		return showRun(ctx, store, args[0])
	}

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := store.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		logger.Infof("No runs recorded in %s", store.Path())
		return nil
	}

	table := logger.NewTable("RUN ID", "SIMULATION", "STARTED", "OUTCOME", "VERDICT", "COLLISIONS", "STEPS")
	for _, r := range runs {
		table.AddRow(
			r.RunID,
			r.Simulation,
			r.StartedAt.Local().Format(time.DateTime),
			r.Outcome,
			r.Verdict,
			fmt.Sprintf("%d/%d", r.CollisionCount, r.MaxCollisions),
			fmt.Sprintf("%d/%d", r.StepsCompleted, r.TimeSteps),
		)
	}
	table.Print()
	return nil
}

func showRun(ctx context.Context, store *storage.SQLiteStore, runID string) error {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	logger.LogSection(fmt.Sprintf("Run %s", run.RunID))
	logger.LogKeyValue("Simulation", run.Simulation)
	logger.LogKeyValue("Started", run.StartedAt.Local().Format(time.DateTime))
	logger.LogKeyValue("Duration", (time.Duration(run.DurationMS) * time.Millisecond).String())
	logger.LogKeyValue("Drones", run.NumAgents)
	logger.LogKeyValue("Drone size", run.DroneSize)
	logger.LogKeyValue("Outcome", run.Outcome)
	logger.LogKeyValue("Reason", run.Reason)
	logger.LogKeyValue("Terminated at", run.TerminatedAt)
	logger.LogKeyValue("Collisions", fmt.Sprintf("%d (max %d, %d without detail)", run.CollisionCount, run.MaxCollisions, run.Dropped))
	logger.LogKeyValue("Verdict", run.Verdict)
	if run.Faults != "" {
		logger.LogList("Faults", strings.Split(run.Faults, "\n"))
	}

	logger.LogSubSection("Drones")
	drones := logger.NewTable("ID", "LAST STEP", "LAST POSITION", "STATE", "NOTICES", "REASON")
	for _, a := range run.Agents {
		pos := "-"
		if a.HasPosition {
			pos = fmt.Sprintf("(%.2f, %.2f, %.2f)", a.X, a.Y, a.Z)
		}
		state := "inactive"
		switch {
		case a.ForceStopped:
			state = "force-stopped"
		case a.Active:
			state = "active"
		}
		drones.AddRow(strconv.Itoa(a.AgentID), strconv.Itoa(a.LastStep), pos, state, strconv.Itoa(a.Notices), a.Reason)
	}
	drones.Print()

	if len(run.Collisions) == 0 {
		return nil
	}
	logger.LogSubSection("Collision log")
	collisions := logger.NewTable("#", "STEP", "DRONES", "POSITION A", "POSITION B")
	for _, c := range run.Collisions {
		collisions.AddRow(
			strconv.Itoa(c.Seq+1),
			strconv.Itoa(c.Timestep),
			fmt.Sprintf("%d-%d", c.AgentA, c.AgentB),
			fmt.Sprintf("(%.2f, %.2f, %.2f)", c.AX, c.AY, c.AZ),
			fmt.Sprintf("(%.2f, %.2f, %.2f)", c.BX, c.BY, c.BZ),
		)
	}
	collisions.Print()
	return nil
}
