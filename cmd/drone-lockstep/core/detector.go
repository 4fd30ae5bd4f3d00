package core

import "fmt"

// CollisionObserver receives every intersection found by the detector.
// Recorded is false when the log was full and only the counter moved.
type CollisionObserver interface {
	OnCollision(ev CollisionEvent, count int, recorded bool)
}

// ObserverFunc adapts a function to CollisionObserver
type ObserverFunc func(ev CollisionEvent, count int, recorded bool)

// OnCollision calls f
func (f ObserverFunc) OnCollision(ev CollisionEvent, count int, recorded bool) {
	f(ev, count, recorded)
}

// DetectionResult summarises one pass over a closed step
type DetectionResult struct {
	Step             int
	Checked          int
	Intersections    int
	Recorded         []CollisionEvent
	Dropped          int
	CollisionCount   int
	ThresholdReached bool
}

// CapacityExceeded reports whether any intersection lost its detail entry
func (r DetectionResult) CapacityExceeded() bool {
	return r.Dropped > 0
}

// Detector scans one step's position snapshot for new intersections
type Detector struct {
	state     *State
	observers []CollisionObserver
}

// NewDetector binds a detector to the shared state
func NewDetector(state *State, observers ...CollisionObserver) *Detector {
	return &Detector{state: state, observers: observers}
}

// AddObserver registers another collision observer
func (d *Detector) AddObserver(o CollisionObserver) {
	d.observers = append(d.observers, o)
}

type notice struct {
	ev       CollisionEvent
	count    int
	recorded bool
}

// Detect checks every unflagged pair that wrote a position for step. Pairs
// are visited in ascending (i, j) order, which decides which events keep
// their detail once the log is full. Observers run after the state lock is
// released.
func (d *Detector) Detect(step int) (DetectionResult, error) {
	result := DetectionResult{Step: step}
	notices, err := d.scan(step, &result)
	if err != nil {
		return result, err
	}

	for _, n := range notices {
		for _, o := range d.observers {
			o.OnCollision(n.ev, n.count, n.recorded)
		}
	}
	return result, nil
}

func (d *Detector) scan(step int, result *DetectionResult) ([]notice, error) {
	s := d.state
	s.mu.Lock()
	defer s.mu.Unlock()

	if step < 0 || step >= s.cfg.TotalTimeSteps {
		return nil, fmt.Errorf("detect step %d outside [0, %d)", step, s.cfg.TotalTimeSteps)
	}
	if step <= s.closedThrough {
		return nil, fmt.Errorf("detect step %d: %w", step, ErrStepClosed)
	}

	row := s.slots[step]
	var notices []notice

	for i := 0; i < len(row); i++ {
		if !row[i].valid {
			continue
		}
		for j := i + 1; j < len(row); j++ {
			if !row[j].valid {
				continue
			}
			pair := Pair{A: i, B: j}
			if _, flagged := s.dedup[pair]; flagged {
				continue
			}
			result.Checked++
			if !Collides(row[i].pos, row[j].pos, s.cfg.DroneSize) {
				continue
			}

			s.dedup[pair] = struct{}{}
			result.Intersections++

			ev := CollisionEvent{
				Timestep:  step,
				AgentA:    i,
				AgentB:    j,
				PositionA: row[i].pos,
				PositionB: row[j].pos,
			}
			recorded := len(s.log) < s.cfg.LogCapacity
			if recorded {
				s.log = append(s.log, ev)
				result.Recorded = append(result.Recorded, ev)
			} else {
				s.dropped++
				result.Dropped++
			}
			notices = append(notices, notice{ev: ev, count: len(s.log), recorded: recorded})
		}
	}

	result.CollisionCount = len(s.log)
	if len(s.log) >= s.cfg.MaxCollisions {
		result.ThresholdReached = true
		s.requestAbortLocked(step, fmt.Sprintf("collision threshold %d reached at timestep %d", s.cfg.MaxCollisions, step))
	}
	return notices, nil
}
