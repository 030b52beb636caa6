package observability

import (
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/lessongen-backend/internal/platform/envutil"
	"github.com/yungbote/lessongen-backend/internal/platform/logger"
)

// Metrics is a small Prometheus text exporter for the API and run pipeline.
type Metrics struct {
	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *Gauge

	streams    *Gauge
	runSteps   *CounterVec
	runEvents  *CounterVec
	llmCalls   *CounterVec
	llmLatency *HistogramVec
}

var (
	metricsOnce sync.Once
	current     *Metrics
)

func Enabled() bool { return envutil.Bool("METRICS_ENABLED", false) }

// Init returns the process-wide metrics, or nil when METRICS_ENABLED is off.
// Every method is safe on a nil receiver.
func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	metricsOnce.Do(func() {
		current = NewMetrics()
		if log != nil {
			log.Info("Metrics enabled")
		}
	})
	return current
}

func NewMetrics() *Metrics {
	return &Metrics{
		apiRequests: NewCounterVec("lessongen_api_requests_total", "HTTP requests", []string{"method", "route", "status"}),
		apiLatency:  NewHistogramVec("lessongen_api_request_seconds", "HTTP request latency", []string{"method", "route"}, nil),
		apiInflight: NewGauge("lessongen_api_inflight", "HTTP requests in flight"),
		streams:     NewGauge("lessongen_progress_streams_open", "Open progress streams"),
		runSteps:    NewCounterVec("lessongen_run_steps_total", "Scheduled run steps by outcome", []string{"outcome"}),
		runEvents:   NewCounterVec("lessongen_run_events_total", "Progress events delivered live", []string{"type"}),
		llmCalls:    NewCounterVec("lessongen_llm_requests_total", "Generation service calls", []string{"provider", "schema", "status"}),
		llmLatency: NewHistogramVec("lessongen_llm_request_seconds", "Generation service latency", []string{"provider", "schema"},
			[]float64{1, 5, 15, 30, 60, 120, 180, 300}),
	}
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.Inc(strings.ToUpper(method), route, status)
	m.apiLatency.Observe(dur.Seconds(), strings.ToUpper(method), route)
}

func (m *Metrics) ApiInflightInc() {
	if m != nil {
		m.apiInflight.Inc()
	}
}

func (m *Metrics) ApiInflightDec() {
	if m != nil {
		m.apiInflight.Dec()
	}
}

func (m *Metrics) StreamOpened() {
	if m != nil {
		m.streams.Inc()
	}
}

func (m *Metrics) StreamClosed() {
	if m != nil {
		m.streams.Dec()
	}
}

// ObserveRunStep counts one scheduler step: done, pending or error.
func (m *Metrics) ObserveRunStep(outcome string) {
	if m != nil {
		m.runSteps.Inc(outcome)
	}
}

func (m *Metrics) IncRunEvent(eventType string) {
	if m != nil {
		m.runEvents.Inc(eventType)
	}
}

func (m *Metrics) ObserveLLMRequest(provider, schema, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.llmCalls.Inc(provider, schema, status)
	m.llmLatency.Observe(dur.Seconds(), provider, schema)
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	for _, c := range []interface{ WritePrometheus(io.Writer) error }{
		m.apiRequests, m.apiLatency, m.apiInflight, m.streams, m.runSteps, m.runEvents, m.llmCalls, m.llmLatency,
	} {
		if err := c.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}
