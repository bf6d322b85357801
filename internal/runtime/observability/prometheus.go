package observability

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/contractflow/internal/runtime/msgerr"
)

const metricsNamespace = "contractflow"

// TypeStats is the running summary for one request type or event.
type TypeStats struct {
	Handled       uint64    `json:"handled"`
	Failed        uint64    `json:"failed"`
	AvgDurationMs float64   `json:"avg_duration_ms"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// Snapshot is a point-in-time view of PrometheusMetrics.
type Snapshot struct {
	Requests         map[string]TypeStats `json:"requests"`
	Events           map[string]TypeStats `json:"events"`
	Errors           map[string]uint64    `json:"errors"`
	ClientsConnected int                  `json:"clients_connected"`
	CollectedAt      time.Time            `json:"collected_at"`
}

// PrometheusMetrics exports runtime metrics to Prometheus and keeps a small
// in-process summary for the stats endpoint.
type PrometheusMetrics struct {
	mu sync.Mutex

	requests map[string]*TypeStats
	events   map[string]*TypeStats
	errors   map[string]uint64
	clients  int

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	eventsTotal     *prometheus.CounterVec
	eventDuration   *prometheus.HistogramVec
	clientsGauge    prometheus.Gauge
	errorsTotal     *prometheus.CounterVec

	registerer prometheus.Registerer
	registered bool
}

// NewPrometheusMetrics builds the collectors. A nil registerer means
// prometheus.DefaultRegisterer. Call Register before use.
func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	buckets := []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}
	return &PrometheusMetrics{
		requests:   make(map[string]*TypeStats),
		events:     make(map[string]*TypeStats),
		errors:     make(map[string]uint64),
		registerer: registerer,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "requests", Name: "total",
			Help: "Requests handled, by type and outcome",
		}, []string{"type", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: "requests", Name: "duration_seconds",
			Help: "Request handling latency", Buckets: buckets,
		}, []string{"type"}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "events", Name: "total",
			Help: "Events handled, by name and outcome",
		}, []string{"event", "outcome"}),
		eventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: "events", Name: "duration_seconds",
			Help: "Event handling latency", Buckets: buckets,
		}, []string{"event"}),
		clientsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Subsystem: "server", Name: "clients_connected",
			Help: "Currently registered clients",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "errors", Name: "total",
			Help: "Messaging errors, by code and type",
		}, []string{"code", "type"}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *PrometheusMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}
	collectors := []prometheus.Collector{
		m.requestsTotal, m.requestDuration,
		m.eventsTotal, m.eventDuration,
		m.clientsGauge, m.errorsTotal,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	m.registered = true
	return nil
}

func (m *PrometheusMetrics) RequestHandled(requestType, outcome string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(requestType, outcome).Inc()
	m.requestDuration.WithLabelValues(requestType).Observe(duration.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	record(m.requests, requestType, outcome, duration)
}

func (m *PrometheusMetrics) EventHandled(event, outcome string, duration time.Duration) {
	m.eventsTotal.WithLabelValues(event, outcome).Inc()
	m.eventDuration.WithLabelValues(event).Observe(duration.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	record(m.events, event, outcome, duration)
}

func (m *PrometheusMetrics) ClientsConnected(count int) {
	m.clientsGauge.Set(float64(count))

	m.mu.Lock()
	m.clients = count
	m.mu.Unlock()
}

func (m *PrometheusMetrics) ErrorRecorded(code string, errType msgerr.ErrorType) {
	m.errorsTotal.WithLabelValues(code, errType.String()).Inc()

	m.mu.Lock()
	m.errors[code]++
	m.mu.Unlock()
}

// Snapshot copies the in-process summary.
func (m *PrometheusMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := Snapshot{
		Requests:         make(map[string]TypeStats, len(m.requests)),
		Events:           make(map[string]TypeStats, len(m.events)),
		Errors:           make(map[string]uint64, len(m.errors)),
		ClientsConnected: m.clients,
		CollectedAt:      time.Now(),
	}
	for k, v := range m.requests {
		out.Requests[k] = *v
	}
	for k, v := range m.events {
		out.Events[k] = *v
	}
	for k, v := range m.errors {
		out.Errors[k] = v
	}
	return out
}

func record(stats map[string]*TypeStats, name, outcome string, duration time.Duration) {
	s, ok := stats[name]
	if !ok {
		s = &TypeStats{}
		stats[name] = s
	}
	s.Handled++
	if outcome != OutcomeOK {
		s.Failed++
	}
	ms := float64(duration) / float64(time.Millisecond)
	s.AvgDurationMs = ((s.AvgDurationMs * float64(s.Handled-1)) + ms) / float64(s.Handled)
	s.LastUpdatedAt = time.Now()
}
