package core

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultTrajectoryPattern is the legacy per-drone file name. The index is 1-based.
const DefaultTrajectoryPattern = "drone%d_movement.csv"

// TrajectoryProvider supplies each agent's ordered positions. A shorter
// sequence is treated as padded with the sentinel.
type TrajectoryProvider interface {
	Trajectory(ctx context.Context, agentID int) ([]Position, error)
}

// StaticTrajectories is an in-memory provider keyed by agent id
type StaticTrajectories map[int][]Position

// Trajectory returns a copy of the agent's positions
func (s StaticTrajectories) Trajectory(_ context.Context, agentID int) ([]Position, error) {
	traj, ok := s[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: no trajectory for agent %d", ErrTrajectory, agentID)
	}
	out := make([]Position, len(traj))
	copy(out, traj)
	return out, nil
}

// CSVTrajectoryProvider reads one "x,y,z" per line from files in Dir
type CSVTrajectoryProvider struct {
	Dir     string
	Pattern string
}

// NewCSVTrajectoryProvider uses the legacy file pattern under dir
func NewCSVTrajectoryProvider(dir string) *CSVTrajectoryProvider {
	return &CSVTrajectoryProvider{Dir: dir, Pattern: DefaultTrajectoryPattern}
}

// Path returns the file backing agentID
func (p *CSVTrajectoryProvider) Path(agentID int) string {
	pattern := p.Pattern
	if pattern == "" {
		pattern = DefaultTrajectoryPattern
	}
	return filepath.Join(p.Dir, fmt.Sprintf(pattern, agentID+1))
}

// Trajectory parses the agent's file. On a malformed line the positions read
// so far are returned together with an ErrTrajectory.
func (p *CSVTrajectoryProvider) Trajectory(ctx context.Context, agentID int) ([]Position, error) {
	path := p.Path(agentID)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: agent %d: %v", ErrTrajectory, agentID, err)
	}
	defer f.Close()

	positions, err := ParseTrajectory(ctx, f)
	if err != nil {
		return positions, fmt.Errorf("agent %d (%s): %w", agentID, path, err)
	}
	return positions, nil
}

// ParseTrajectory reads "x,y,z" records. Blank lines and lines starting with
// '#' are skipped.
func ParseTrajectory(ctx context.Context, r io.Reader) ([]Position, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	var positions []Position
	for {
		if err := ctx.Err(); err != nil {
			return positions, err
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return positions, nil
		}
		if err != nil {
			return positions, fmt.Errorf("%w: %v", ErrTrajectory, err)
		}

		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}

		line, _ := reader.FieldPos(0)
		pos, err := parseRecord(record)
		if err != nil {
			return positions, fmt.Errorf("%w: line %d: %v", ErrTrajectory, line, err)
		}
		positions = append(positions, pos)
	}
}

func parseRecord(record []string) (Position, error) {
	if len(record) != 3 {
		return Position{}, fmt.Errorf("expected 3 fields, got %d", len(record))
	}

	var coords [3]float64
	for i, field := range record {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return Position{}, fmt.Errorf("field %d: %v", i+1, err)
		}
		coords[i] = v
	}
	return Position{X: coords[0], Y: coords[1], Z: coords[2]}, nil
}
