package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/picogrid/drone-lockstep/pkg/logger"
)

// Metrics bundles the Prometheus collectors for simulation runs
type Metrics struct {
	gatherer prometheus.Gatherer

	Steps             prometheus.Counter
	Collisions        prometheus.Counter
	DroppedCollisions prometheus.Counter
	ActiveAgents      prometheus.Gauge
	BarrierWait       prometheus.Histogram
	Runs              *prometheus.CounterVec
}

// NewMetrics registers the simulation metrics against reg, defaulting to the
// global registry when nil. Registering twice returns the existing collectors.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	steps, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dronesim_steps_total",
		Help: "Total number of closed simulation timesteps.",
	}), "dronesim_steps_total")
	if err != nil {
		return nil, err
	}

	collisions, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dronesim_collisions_total",
		Help: "Total number of recorded drone collisions.",
	}), "dronesim_collisions_total")
	if err != nil {
		return nil, err
	}

	dropped, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dronesim_collisions_dropped_total",
		Help: "Collisions detected after the collision log was full.",
	}), "dronesim_collisions_dropped_total")
	if err != nil {
		return nil, err
	}

	active, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dronesim_active_agents",
		Help: "Number of drones still replaying their trajectory.",
	}), "dronesim_active_agents")
	if err != nil {
		return nil, err
	}

	wait, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dronesim_barrier_wait_seconds",
		Help:    "Time the coordinator waited for all drones to report a step.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}), "dronesim_barrier_wait_seconds")
	if err != nil {
		return nil, err
	}

	runs, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dronesim_runs_total",
		Help: "Finished simulation runs, labeled by outcome and verdict.",
	}, []string{"outcome", "verdict"}), "dronesim_runs_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		gatherer:          gatherer,
		Steps:             steps,
		Collisions:        collisions,
		DroppedCollisions: dropped,
		ActiveAgents:      active,
		BarrierWait:       wait,
		Runs:              runs,
	}, nil
}

// ObserveStep records one closed step. A nil receiver is a no-op.
func (m *Metrics) ObserveStep(wait time.Duration, recorded, dropped, active int) {
	if m == nil {
		return
	}
	m.Steps.Inc()
	m.BarrierWait.Observe(wait.Seconds())
	m.Collisions.Add(float64(recorded))
	m.DroppedCollisions.Add(float64(dropped))
	m.ActiveAgents.Set(float64(active))
}

// ObserveRun records a finished run
func (m *Metrics) ObserveRun(outcome, verdict string) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(outcome, verdict).Inc()
	m.ActiveAgents.Set(0)
}

// Handler exposes a ready-to-use /metrics handler
func (m *Metrics) Handler() http.Handler {
	gatherer := m.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Serving metrics on %s/metrics", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return c, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
