package sambung

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric names pushed by the reporter.
const (
	MetricCallsTotal          = "service_calls_total"
	MetricCallsSuccessTotal   = "service_calls_success_total"
	MetricCallsFailureTotal   = "service_calls_failure_total"
	MetricLatencyAvgMs        = "service_calls_latency_avg_ms"
	MetricLatencyMinMs        = "service_calls_latency_min_ms"
	MetricLatencyMaxMs        = "service_calls_latency_max_ms"
	MetricErrorRate           = "service_calls_error_rate"
	MetricInstanceHealthy     = "service_instance_healthy"
	MetricConsecutiveFailures = "service_instance_consecutive_failures"
)

// MetricsSink receives the reporter's periodic pushes. Implementations map
// the fixed metric names above onto a concrete metrics system.
type MetricsSink interface {
	IncrementCounter(name string, labels map[string]string, value float64) error
	SetGauge(name string, labels map[string]string, value float64) error
}

// ReporterConfig configures the reporting loop. Interval defaults to 60s;
// InitialDelay (default 5s) gives the sink time to finish registration before
// the first push.
type ReporterConfig struct {
	Interval     time.Duration
	InitialDelay time.Duration
}

// MetricsReporter periodically pushes CallMetrics to a sink: counter deltas
// since the previous report for the call totals, absolute values for the
// latency, error-rate and health gauges. Sink failures are logged and never
// interrupt the loop.
type MetricsReporter struct {
	metrics *CallMetrics
	sink    MetricsSink
	config  ReporterConfig
	logger  Logger

	reportMu sync.Mutex
	last     map[string]lifetimeCounts

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
}

// NewMetricsReporter creates a reporter, applying defaults for zero config
// fields.
func NewMetricsReporter(metrics *CallMetrics, sink MetricsSink, config ReporterConfig) *MetricsReporter {
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 5 * time.Second
	}

	return &MetricsReporter{
		metrics: metrics,
		sink:    sink,
		config:  config,
		logger:  NewNopLogger(),
		last:    make(map[string]lifetimeCounts),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// SetLogger routes sink failure reports to logger.
func (r *MetricsReporter) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Start launches the reporting loop. Calling Start twice is a no-op.
func (r *MetricsReporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	go r.run()
}

// Stop halts the loop after pushing one final report. Safe to call without a
// prior Start and safe to call twice.
func (r *MetricsReporter) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
	r.mu.Unlock()
	<-r.done
}

// Flush pushes one report immediately.
func (r *MetricsReporter) Flush() {
	r.report()
}

func (r *MetricsReporter) run() {
	defer close(r.done)

	select {
	case <-r.stop:
		r.report()
		return
	case <-time.After(r.config.InitialDelay):
	}
	r.report()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			r.report()
			return
		case <-ticker.C:
			r.report()
		}
	}
}

func (r *MetricsReporter) report() {
	r.reportMu.Lock()
	defer r.reportMu.Unlock()

	for _, st := range r.metrics.AllStats() {
		labels := map[string]string{"service": st.Service, "instance": st.Instance}

		total, success, failure := r.metrics.Counters(st.Service, st.Instance)
		key := metricsKey(st.Service, st.Instance)
		prev := r.last[key]
		r.count(MetricCallsTotal, labels, total-prev.total)
		r.count(MetricCallsSuccessTotal, labels, success-prev.success)
		r.count(MetricCallsFailureTotal, labels, failure-prev.failure)
		r.last[key] = lifetimeCounts{total: total, success: success, failure: failure}

		r.gauge(MetricLatencyAvgMs, labels, millis(st.AvgLatency))
		r.gauge(MetricLatencyMinMs, labels, millis(st.MinLatency))
		r.gauge(MetricLatencyMaxMs, labels, millis(st.MaxLatency))
		r.gauge(MetricErrorRate, labels, st.ErrorRate)
	}

	for _, h := range r.metrics.AllHealth() {
		labels := map[string]string{"service": h.Service, "instance": h.Instance}
		healthy := 0.0
		if h.Healthy {
			healthy = 1.0
		}
		r.gauge(MetricInstanceHealthy, labels, healthy)
		r.gauge(MetricConsecutiveFailures, labels, float64(h.ConsecutiveFailures))
	}
}

func (r *MetricsReporter) count(name string, labels map[string]string, delta int64) {
	if delta <= 0 {
		return
	}
	if err := r.sink.IncrementCounter(name, labels, float64(delta)); err != nil {
		r.logger.Warn("metrics sink counter push failed", "metric", name, "error", err.Error())
	}
}

func (r *MetricsReporter) gauge(name string, labels map[string]string, value float64) {
	if err := r.sink.SetGauge(name, labels, value); err != nil {
		r.logger.Warn("metrics sink gauge push failed", "metric", name, "error", err.Error())
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// PrometheusSink adapts the sink contract to Prometheus collectors with
// (service, instance) labels.
type PrometheusSink struct {
	callsTotal   *prometheus.CounterVec
	callsSuccess *prometheus.CounterVec
	callsFailure *prometheus.CounterVec

	latencyAvg          *prometheus.GaugeVec
	latencyMin          *prometheus.GaugeVec
	latencyMax          *prometheus.GaugeVec
	errorRate           *prometheus.GaugeVec
	instanceHealthy     *prometheus.GaugeVec
	consecutiveFailures *prometheus.GaugeVec
}

// NewPrometheusSink creates a sink on the default registerer.
func NewPrometheusSink() *PrometheusSink {
	return NewPrometheusSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPrometheusSinkWithRegistry creates a sink using the supplied registerer.
func NewPrometheusSinkWithRegistry(registry prometheus.Registerer) *PrometheusSink {
	labelNames := []string{"service", "instance"}

	counter := func(name, help string) *prometheus.CounterVec {
		return promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{Name: name, Help: help},
			labelNames,
		)
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{Name: name, Help: help},
			labelNames,
		)
	}

	return &PrometheusSink{
		callsTotal:          counter(MetricCallsTotal, "Total number of service calls"),
		callsSuccess:        counter(MetricCallsSuccessTotal, "Total number of successful service calls"),
		callsFailure:        counter(MetricCallsFailureTotal, "Total number of failed service calls"),
		latencyAvg:          gauge(MetricLatencyAvgMs, "Rolling average call latency in milliseconds"),
		latencyMin:          gauge(MetricLatencyMinMs, "Rolling minimum call latency in milliseconds"),
		latencyMax:          gauge(MetricLatencyMaxMs, "Rolling maximum call latency in milliseconds"),
		errorRate:           gauge(MetricErrorRate, "Rolling call error rate"),
		instanceHealthy:     gauge(MetricInstanceHealthy, "Instance health flag (1 healthy, 0 unhealthy)"),
		consecutiveFailures: gauge(MetricConsecutiveFailures, "Current consecutive failure count per instance"),
	}
}

// IncrementCounter adds value to the counter behind name.
func (s *PrometheusSink) IncrementCounter(name string, labels map[string]string, value float64) error {
	var vec *prometheus.CounterVec
	switch name {
	case MetricCallsTotal:
		vec = s.callsTotal
	case MetricCallsSuccessTotal:
		vec = s.callsSuccess
	case MetricCallsFailureTotal:
		vec = s.callsFailure
	default:
		return fmt.Errorf("sambung: unknown counter %q", name)
	}

	counter, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return fmt.Errorf("sambung: counter %q labels: %w", name, err)
	}
	counter.Add(value)
	return nil
}

// SetGauge sets the gauge behind name to value.
func (s *PrometheusSink) SetGauge(name string, labels map[string]string, value float64) error {
	var vec *prometheus.GaugeVec
	switch name {
	case MetricLatencyAvgMs:
		vec = s.latencyAvg
	case MetricLatencyMinMs:
		vec = s.latencyMin
	case MetricLatencyMaxMs:
		vec = s.latencyMax
	case MetricErrorRate:
		vec = s.errorRate
	case MetricInstanceHealthy:
		vec = s.instanceHealthy
	case MetricConsecutiveFailures:
		vec = s.consecutiveFailures
	default:
		return fmt.Errorf("sambung: unknown gauge %q", name)
	}

	gauge, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return fmt.Errorf("sambung: gauge %q labels: %w", name, err)
	}
	gauge.Set(value)
	return nil
}
