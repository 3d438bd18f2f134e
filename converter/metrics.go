package converter

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/makewise-vision/libcamera-raspberrypi/metric"
)

// converterMetrics holds Prometheus metrics for the conversion engine.
// All methods tolerate a nil receiver so callers never need to guard.
type converterMetrics struct {
	framesQueued         prometheus.Counter
	conversionsCompleted prometheus.Counter
	outputsCompleted     prometheus.Counter
	staleCompletions     prometheus.Counter
	queueErrors          prometheus.Counter
	pendingDepth         prometheus.Gauge
	activeStreams        prometheus.Gauge
}

// newConverterMetrics creates and registers engine metrics.
// Returns nil when no registry is provided (nil input = nil feature pattern).
func newConverterMetrics(registry *metric.Registry) (*converterMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &converterMetrics{
		framesQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mediapipe",
			Subsystem: "converter",
			Name:      "frames_queued_total",
			Help:      "Input frames accepted for fan-out conversion",
		}),
		conversionsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mediapipe",
			Subsystem: "converter",
			Name:      "conversions_completed_total",
			Help:      "Input frames fully converted across all streams",
		}),
		outputsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mediapipe",
			Subsystem: "converter",
			Name:      "outputs_completed_total",
			Help:      "Per-stream output buffers produced",
		}),
		staleCompletions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mediapipe",
			Subsystem: "converter",
			Name:      "stale_completions_total",
			Help:      "Completion notifications discarded as unrecognized",
		}),
		queueErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mediapipe",
			Subsystem: "converter",
			Name:      "queue_errors_total",
			Help:      "Failed QueueBuffers calls",
		}),
		pendingDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mediapipe",
			Subsystem: "converter",
			Name:      "pending_conversions",
			Help:      "Input buffers currently tracked in the pending table",
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mediapipe",
			Subsystem: "converter",
			Name:      "active_streams",
			Help:      "Configured output streams",
		}),
	}

	const serviceName = "converter"
	if err := registry.RegisterCounter(serviceName, "frames_queued", m.framesQueued); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(serviceName, "conversions_completed", m.conversionsCompleted); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(serviceName, "outputs_completed", m.outputsCompleted); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(serviceName, "stale_completions", m.staleCompletions); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(serviceName, "queue_errors", m.queueErrors); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(serviceName, "pending_depth", m.pendingDepth); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(serviceName, "active_streams", m.activeStreams); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *converterMetrics) recordQueued(pending int) {
	if m == nil {
		return
	}
	m.framesQueued.Inc()
	m.pendingDepth.Set(float64(pending))
}

func (m *converterMetrics) recordQueueError() {
	if m == nil {
		return
	}
	m.queueErrors.Inc()
}

func (m *converterMetrics) recordConversionDone(pending int) {
	if m == nil {
		return
	}
	m.conversionsCompleted.Inc()
	m.pendingDepth.Set(float64(pending))
}

func (m *converterMetrics) recordOutputDone() {
	if m == nil {
		return
	}
	m.outputsCompleted.Inc()
}

func (m *converterMetrics) recordStale() {
	if m == nil {
		return
	}
	m.staleCompletions.Inc()
}

func (m *converterMetrics) setActiveStreams(n int) {
	if m == nil {
		return
	}
	m.activeStreams.Set(float64(n))
}
