package reporting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/picogrid/drone-lockstep/cmd/drone-lockstep/core"
	"github.com/picogrid/drone-lockstep/pkg/logger"
)

// Sink persists finished reports
type Sink interface {
	SaveRun(ctx context.Context, r *Report) error
}

// NotificationKind distinguishes queue entries
type NotificationKind int

const (
	NotifyCollision NotificationKind = iota
	NotifyFinish
)

// Notification is one reporter queue entry
type Notification struct {
	Kind     NotificationKind
	Timestep int
	Count    int
	Recorded bool
	Event    core.CollisionEvent

	snapshot core.Snapshot
	meta     RunMeta
}

const (
	defaultQueueSize = 64
	sinkTimeout      = 10 * time.Second
)

// Reporter consumes collision and finish notifications on its own goroutine
// and produces the final report exactly once
type Reporter struct {
	queue   chan Notification
	done    chan struct{}
	started *atomic.Bool

	mu           sync.Mutex
	lastReported int

	once   sync.Once
	report *Report
	paths  []string
	err    error

	artifactDir string
	formats     []string
	sink        Sink
	journal     *Journal
	simLog      *SimulationLogger
	log         logger.Logger
}

// Option configures a Reporter
type Option func(*Reporter)

// WithArtifacts writes the report into dir in each format
func WithArtifacts(dir string, formats []string) Option {
	return func(r *Reporter) {
		r.artifactDir = dir
		r.formats = formats
	}
}

// WithSink persists the report after it is built
func WithSink(s Sink) Option {
	return func(r *Reporter) { r.sink = s }
}

// WithJournal records every notification as a JSON line
func WithJournal(j *Journal) Option {
	return func(r *Reporter) { r.journal = j }
}

// WithSimulationLogger prints collision and outcome lines
func WithSimulationLogger(sl *SimulationLogger) Option {
	return func(r *Reporter) { r.simLog = sl }
}

// WithQueueSize bounds the notification queue
func WithQueueSize(n int) Option {
	return func(r *Reporter) {
		if n > 0 {
			r.queue = make(chan Notification, n)
		}
	}
}

// NewReporter creates a reporter. Call Start to run its goroutine.
func NewReporter(opts ...Option) *Reporter {
	r := &Reporter{
		queue:   make(chan Notification, defaultQueueSize),
		done:    make(chan struct{}),
		started: atomic.NewBool(false),
		log:     logger.WithPrefix("reporter"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start runs the reporter goroutine until a finish notification is handled
// or ctx is cancelled
func (r *Reporter) Start(ctx context.Context) {
	if !r.started.CAS(false, true) {
		return
	}
	go r.run(ctx)
}

func (r *Reporter) run(ctx context.Context) {
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			r.log.Debug("Context cancelled, reporter exiting")
			return
		case n := <-r.queue:
			switch n.Kind {
			case NotifyCollision:
				r.handleCollision(n)
			case NotifyFinish:
				_, _ = r.Finalize(n.snapshot, n.meta)
				return
			}
		}
	}
}

// RunStarted records the engine sizing before the first step
func (r *Reporter) RunStarted(cfg core.StateConfig) {
	if r.journal != nil {
		r.journal.RunStarted(cfg)
	}
	if r.simLog != nil {
		r.simLog.LogStart(cfg)
	}
}

// OnCollision queues a collision notification. It blocks only while the
// queue is full and the goroutine is alive.
func (r *Reporter) OnCollision(ev core.CollisionEvent, count int, recorded bool) {
	n := Notification{
		Kind:     NotifyCollision,
		Timestep: ev.Timestep,
		Count:    count,
		Recorded: recorded,
		Event:    ev,
	}

	if !r.started.Load() {
		r.handleCollision(n)
		return
	}

	select {
	case r.queue <- n:
	case <-r.done:
		r.handleCollision(n)
	}
}

func (r *Reporter) handleCollision(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.journal != nil {
		r.journal.Collision(n.Event, n.Count, n.Recorded)
	}

	// one status line per count increase, plus every dropped detail
	if n.Count > r.lastReported || !n.Recorded {
		if r.simLog != nil {
			r.simLog.LogCollision(n.Event, n.Count, n.Recorded)
		} else {
			r.log.Infof("Collision count %d (drones %d and %d at timestep %d)",
				n.Count, n.Event.AgentA, n.Event.AgentB, n.Timestep)
		}
		if n.Count > r.lastReported {
			r.lastReported = n.Count
		}
	}
}

// LastReported returns the highest collision count emitted so far
func (r *Reporter) LastReported() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastReported
}

// Finish hands the final snapshot to the reporter goroutine and waits for it.
// If the goroutine is gone the report is produced synchronously.
func (r *Reporter) Finish(snap core.Snapshot, meta RunMeta) (*Report, error) {
	if r.started.Load() {
		select {
		case r.queue <- Notification{Kind: NotifyFinish, snapshot: snap, meta: meta}:
		case <-r.done:
		}
		<-r.done
	}
	return r.Finalize(snap, meta)
}

// Finalize builds and writes the report. Only the first call does any work;
// later calls return the same result.
func (r *Reporter) Finalize(snap core.Snapshot, meta RunMeta) (*Report, error) {
	r.once.Do(func() {
		report := BuildReport(snap, meta)
		var errs error

		if r.artifactDir != "" && len(r.formats) > 0 {
			paths, err := SaveArtifacts(report, r.artifactDir, r.formats)
			r.paths = paths
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("writing report: %w", err))
			}
			for _, p := range paths {
				r.log.Infof("Report written: %s", p)
			}
		}

		if r.sink != nil {
			ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
			if err := r.sink.SaveRun(ctx, report); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("persisting run: %w", err))
			}
			cancel()
		}

		if r.journal != nil {
			r.journal.RunFinished(report)
		}
		if r.simLog != nil {
			r.simLog.LogOutcome(report)
		}

		r.report, r.err = report, errs
	})
	return r.report, r.err
}

// Report returns the final report, or nil before Finalize ran
func (r *Reporter) Report() *Report {
	select {
	case <-r.done:
	default:
		if r.started.Load() {
			return nil
		}
	}
	return r.report
}

// Artifacts returns the paths written by Finalize
func (r *Reporter) Artifacts() []string {
	return r.paths
}
