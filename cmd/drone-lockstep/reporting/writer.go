package reporting

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"

	"github.com/picogrid/drone-lockstep/cmd/drone-lockstep/core"
)

// Supported artifact formats
const (
	FormatText     = "text"
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

var extensions = map[string]string{
	FormatText:     ".txt",
	FormatJSON:     ".json",
	FormatMarkdown: ".md",
}

// Write renders the report in the given format
func Write(w io.Writer, r *Report, format string) error {
	switch format {
	case FormatText:
		return writeText(w, r)
	case FormatJSON:
		return writeJSON(w, r)
	case FormatMarkdown:
		return writeMarkdown(w, r)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

// SaveArtifacts writes one file per format into dir and returns their paths.
// A failing format does not stop the others.
func SaveArtifacts(r *Report, dir string, formats []string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("error creating report directory: %w", err)
	}

	var paths []string
	var errs error
	for _, format := range formats {
		ext, ok := extensions[format]
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("unknown report format %q", format))
			continue
		}

		path := filepath.Join(dir, fmt.Sprintf("simulation_report_%s%s", shortID(r.RunID), ext))
		if err := saveFile(path, r, format); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		paths = append(paths, path)
	}
	return paths, errs
}

func saveFile(path string, r *Report, format string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating %s: %w", path, err)
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()

	if err := Write(f, r, format); err != nil {
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return nil
}

func shortID(id string) string {
	if id == "" {
		return "run"
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func writeJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func writeText(w io.Writer, r *Report) error {
	var sb strings.Builder

	sb.WriteString("DRONE SIMULATION FINAL REPORT\n")
	sb.WriteString("=============================\n\n")
	sb.WriteString(fmt.Sprintf("Run ID: %s\n", r.RunID))
	if !r.StartedAt.IsZero() {
		sb.WriteString(fmt.Sprintf("Started: %s\n", r.StartedAt.Format("2006-01-02 15:04:05")))
		sb.WriteString(fmt.Sprintf("Duration: %s\n", r.Duration()))
	}
	sb.WriteString("\n")

	sb.WriteString("SIMULATION CONFIGURATION:\n")
	sb.WriteString(fmt.Sprintf("- Total drones: %d\n", r.Config.NumAgents))
	sb.WriteString(fmt.Sprintf("- Drone size (collision box): %g units\n", r.Config.DroneSize))
	sb.WriteString(fmt.Sprintf("- Collision threshold: %d\n", r.Config.MaxCollisions))
	sb.WriteString(fmt.Sprintf("- Time steps: %d\n", r.Config.TimeSteps))
	sb.WriteString("\n")

	sb.WriteString("TERMINATION:\n")
	sb.WriteString(fmt.Sprintf("- Outcome: %s\n", r.Outcome))
	sb.WriteString(fmt.Sprintf("- Steps completed: %d\n", r.StepsCompleted))
	if r.Reason != "" {
		sb.WriteString(fmt.Sprintf("- Reason: %s\n", r.Reason))
	}
	for _, f := range r.Faults {
		sb.WriteString(fmt.Sprintf("- Fault: %s\n", f))
	}
	sb.WriteString("\n")

	sb.WriteString("INDIVIDUAL DRONE STATUS:\n")
	for _, a := range r.Agents {
		sb.WriteString(fmt.Sprintf("Drone %d: %s\n", a.ID, agentState(a)))
		sb.WriteString(fmt.Sprintf(" Position: %s\n", lastPosition(a)))
		if a.Notices > 0 {
			sb.WriteString(fmt.Sprintf(" Collision notices: %d\n", a.Notices))
		}
	}
	sb.WriteString("\n")

	sb.WriteString("COLLISION ANALYSIS:\n")
	sb.WriteString(fmt.Sprintf("- Total collisions detected: %d\n", r.CollisionCount))
	sb.WriteString(fmt.Sprintf("- Collision rate: %.2f per timestep\n", r.CollisionRate))
	if r.Dropped > 0 {
		sb.WriteString(fmt.Sprintf("- Collisions without detail (log full): %d\n", r.Dropped))
	}

	if len(r.Collisions) == 0 {
		sb.WriteString("- No collisions detected during simulation.\n")
	} else {
		sb.WriteString("\nDETAILED COLLISION EVENTS:\n")
		for i, c := range r.Collisions {
			sb.WriteString(fmt.Sprintf("Collision %d:\n", i+1))
			sb.WriteString(fmt.Sprintf(" - Timestep: %d\n", c.Timestep))
			sb.WriteString(fmt.Sprintf(" - Drones involved: %d and %d\n", c.AgentA, c.AgentB))
			sb.WriteString(fmt.Sprintf(" - Drone %d position: %s box %s\n", c.AgentA, c.PositionA,
				core.BoundingBox(c.PositionA, r.Config.DroneSize)))
			sb.WriteString(fmt.Sprintf(" - Drone %d position: %s box %s\n", c.AgentB, c.PositionB,
				core.BoundingBox(c.PositionB, r.Config.DroneSize)))
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\nSIMULATION VALIDATION RESULT: ")
	if r.Passed() {
		sb.WriteString("PASS\n")
		sb.WriteString("Reason: Safe flight pattern maintained\n")
		sb.WriteString(fmt.Sprintf("Quality: %d collisions detected (within threshold of %d)\n",
			r.CollisionCount, r.MaxCollisions))
	} else {
		sb.WriteString("FAIL\n")
		sb.WriteString(fmt.Sprintf("Reason: Collision threshold exceeded (%d >= %d)\n",
			r.CollisionCount, r.MaxCollisions))
		sb.WriteString(fmt.Sprintf("Recommendation: %s\n", r.Recommendation))
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

func writeMarkdown(w io.Writer, r *Report) error {
	var sb strings.Builder

	sb.WriteString("# Drone Simulation Report\n\n")
	sb.WriteString(fmt.Sprintf("**Run ID:** %s  \n", r.RunID))
	sb.WriteString(fmt.Sprintf("**Simulation:** %s  \n", r.Simulation))
	sb.WriteString(fmt.Sprintf("**Outcome:** %s  \n", r.Outcome))
	sb.WriteString(fmt.Sprintf("**Verdict:** %s\n\n", r.Verdict))

	sb.WriteString("## Configuration\n\n")
	sb.WriteString("| Setting | Value |\n|---|---|\n")
	sb.WriteString(fmt.Sprintf("| Drones | %d |\n", r.Config.NumAgents))
	sb.WriteString(fmt.Sprintf("| Drone size | %g |\n", r.Config.DroneSize))
	sb.WriteString(fmt.Sprintf("| Collision threshold | %d |\n", r.Config.MaxCollisions))
	sb.WriteString(fmt.Sprintf("| Time steps | %d |\n", r.Config.TimeSteps))
	sb.WriteString(fmt.Sprintf("| Log capacity | %d |\n\n", r.Config.LogCapacity))

	sb.WriteString("## Termination\n\n")
	sb.WriteString(fmt.Sprintf("- Steps completed: %d\n", r.StepsCompleted))
	if r.Reason != "" {
		sb.WriteString(fmt.Sprintf("- Reason: %s\n", r.Reason))
	}
	sb.WriteString(fmt.Sprintf("- Duration: %s\n", r.Duration()))
	for _, f := range r.Faults {
		sb.WriteString(fmt.Sprintf("- Fault: %s\n", f))
	}
	sb.WriteString("\n")

	sb.WriteString("## Drones\n\n")
	sb.WriteString("| ID | Last position | Status | Notices |\n|---|---|---|---|\n")
	for _, a := range r.Agents {
		sb.WriteString(fmt.Sprintf("| %d | %s | %s | %d |\n", a.ID, lastPosition(a), agentState(a), a.Notices))
	}
	sb.WriteString("\n")

	sb.WriteString("## Collisions\n\n")
	sb.WriteString(fmt.Sprintf("Total: %d (threshold %d), rate %.2f per timestep", r.CollisionCount, r.MaxCollisions, r.CollisionRate))
	if r.Dropped > 0 {
		sb.WriteString(fmt.Sprintf(", %d without detail", r.Dropped))
	}
	sb.WriteString("\n\n")

	if len(r.Collisions) > 0 {
		sb.WriteString("| # | Timestep | Drone A | Position A | Drone B | Position B |\n|---|---|---|---|---|---|\n")
		for i, c := range r.Collisions {
			sb.WriteString(fmt.Sprintf("| %d | %d | %d | %s | %d | %s |\n",
				i+1, c.Timestep, c.AgentA, c.PositionA, c.AgentB, c.PositionB))
		}
		sb.WriteString("\n")
	}

	if r.Recommendation != "" {
		sb.WriteString("## Recommendation\n\n")
		sb.WriteString(r.Recommendation + "\n")
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

func agentState(a AgentStatus) string {
	state := "active"
	if !a.Active {
		state = "inactive"
	}
	if a.Reason != "" {
		state += " (" + a.Reason + ")"
	}
	return state
}

func lastPosition(a AgentStatus) string {
	if a.LastPosition == nil {
		return "none"
	}
	return a.LastPosition.String()
}
