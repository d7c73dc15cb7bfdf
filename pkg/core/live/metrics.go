package live

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instrumentation for a voice client.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	BlocksTotal        *prometheus.CounterVec
	FragmentsScheduled prometheus.Counter
	DecodeErrors       prometheus.Counter
	Interruptions      prometheus.Counter
	ToolCallsTotal     *prometheus.CounterVec
	TurnEntriesTotal   *prometheus.CounterVec
	StateTransitions   *prometheus.CounterVec
	SessionsActive     prometheus.Gauge
}

// NewMetrics creates a Metrics instance with its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "vai_voice"
	}

	registry := prometheus.NewRegistry()

	blocksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_blocks_total",
			Help:      "Captured sample blocks by outcome",
		},
		[]string{"outcome"},
	)

	fragmentsScheduled := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_fragments_scheduled_total",
			Help:      "Speech fragments placed on the output timeline",
		},
	)

	decodeErrors := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_decode_errors_total",
			Help:      "Speech fragments that could not be decoded",
		},
	)

	interruptions := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_interruptions_total",
			Help:      "Playback interruptions",
		},
	)

	toolCallsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations by name and status",
		},
		[]string{"tool", "status"},
	)

	turnEntriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_entries_total",
			Help:      "Conversation log entries by role",
		},
		[]string{"role"},
	)

	stateTransitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "controller_state_transitions_total",
			Help:      "Session controller state transitions by target state",
		},
		[]string{"state"},
	)

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of open model sessions",
		},
	)

	registry.MustRegister(
		blocksTotal,
		fragmentsScheduled,
		decodeErrors,
		interruptions,
		toolCallsTotal,
		turnEntriesTotal,
		stateTransitions,
		sessionsActive,
	)

	return &Metrics{
		registry:           registry,
		BlocksTotal:        blocksTotal,
		FragmentsScheduled: fragmentsScheduled,
		DecodeErrors:       decodeErrors,
		Interruptions:      interruptions,
		ToolCallsTotal:     toolCallsTotal,
		TurnEntriesTotal:   turnEntriesTotal,
		StateTransitions:   stateTransitions,
		SessionsActive:     sessionsActive,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) blockSent() {
	if m == nil {
		return
	}
	m.BlocksTotal.WithLabelValues("sent").Inc()
}

func (m *Metrics) blockDropped(reason string) {
	if m == nil {
		return
	}
	m.BlocksTotal.WithLabelValues("dropped_" + reason).Inc()
}

func (m *Metrics) fragmentScheduled() {
	if m == nil {
		return
	}
	m.FragmentsScheduled.Inc()
}

func (m *Metrics) decodeError() {
	if m == nil {
		return
	}
	m.DecodeErrors.Inc()
}

func (m *Metrics) interrupted() {
	if m == nil {
		return
	}
	m.Interruptions.Inc()
}

func (m *Metrics) toolCall(name, status string) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(name, status).Inc()
}

func (m *Metrics) turnEntry(role Role) {
	if m == nil {
		return
	}
	m.TurnEntriesTotal.WithLabelValues(string(role)).Inc()
}

func (m *Metrics) stateChanged(to ControllerState) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(to.String()).Inc()
}

func (m *Metrics) sessionOpened() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *Metrics) sessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}
