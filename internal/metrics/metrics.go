// Package metrics exposes Prometheus counters for the workflow engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for trellis. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	TaskTransitions     *prometheus.CounterVec
	RejectedTransitions *prometheus.CounterVec
	FeatureTransitions  *prometheus.CounterVec
	OperationDuration   *prometheus.HistogramVec

	TimerStops    *prometheus.CounterVec
	SecondsLogged prometheus.Counter

	BoardMoves     *prometheus.CounterVec
	BoardRollbacks prometheus.Counter

	SideEffectFailures *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		TaskTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_task_transitions_total",
				Help: "Committed task status changes",
			},
			[]string{"from", "to"},
		),
		RejectedTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_task_transitions_rejected_total",
				Help: "Task updates rejected before any write",
			},
			[]string{"reason"},
		),
		FeatureTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_feature_transitions_total",
				Help: "Committed feature status changes",
			},
			[]string{"from", "to", "trigger"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trellis_operation_duration_seconds",
				Help:    "Engine operation latency in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation", "success"},
		),
		TimerStops: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_timer_stops_total",
				Help: "Active timers stopped",
			},
			[]string{"trigger"},
		),
		SecondsLogged: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "trellis_time_logged_seconds_total",
				Help: "Seconds appended to task time logs",
			},
		),
		BoardMoves: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_board_moves_total",
				Help: "Board move gestures by outcome",
			},
			[]string{"outcome"},
		),
		BoardRollbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "trellis_board_rollbacks_total",
				Help: "Optimistic board moves undone after the engine rejected them",
			},
		),
		SideEffectFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_side_effect_failures_total",
				Help: "Activity or notification writes that failed after commit",
			},
			[]string{"kind"},
		),
	}
}

// NewRegistry creates a new Prometheus registry with metrics
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	return reg, NewMetrics(reg)
}

// HandlerFor returns an HTTP handler for a specific registry
func HandlerFor(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func (m *Metrics) TaskTransition(from, to string) {
	if m == nil {
		return
	}
	m.TaskTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.RejectedTransitions.WithLabelValues(reason).Inc()
}

func (m *Metrics) FeatureTransition(from, to, trigger string) {
	if m == nil {
		return
	}
	m.FeatureTransitions.WithLabelValues(from, to, trigger).Inc()
}

// ObserveOperation records how long an engine operation took.
func (m *Metrics) ObserveOperation(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	success := "true"
	if err != nil {
		success = "false"
	}
	m.OperationDuration.WithLabelValues(operation, success).Observe(time.Since(start).Seconds())
}

func (m *Metrics) TimerStopped(trigger string, seconds int64) {
	if m == nil {
		return
	}
	m.TimerStops.WithLabelValues(trigger).Inc()
	if seconds > 0 {
		m.SecondsLogged.Add(float64(seconds))
	}
}

func (m *Metrics) BoardMove(outcome string) {
	if m == nil {
		return
	}
	m.BoardMoves.WithLabelValues(outcome).Inc()
}

func (m *Metrics) BoardRollback() {
	if m == nil {
		return
	}
	m.BoardRollbacks.Inc()
}

func (m *Metrics) SideEffectFailed(kind string) {
	if m == nil {
		return
	}
	m.SideEffectFailures.WithLabelValues(kind).Inc()
}
