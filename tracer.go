package sambung

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Trace propagation headers.
const (
	HeaderTraceID      = "X-Trace-Id"
	HeaderSpanID       = "X-Span-Id"
	HeaderParentSpanID = "X-Parent-Span-Id"
	HeaderSampled      = "X-Sampled"
)

// TracerConfig configures span creation. SamplingRate is the probability in
// [0,1] that a new root trace is sampled; 0 means the 1.0 default. Disabled
// keeps the tracer running but marks every span unsampled, so spans stay
// inert and never reach a collector.
type TracerConfig struct {
	SamplingRate float64
	Disabled     bool
}

// Tracer creates, links and finalizes hierarchical spans. Active spans live
// in a table keyed by span id; EndSpan finalizes a span, hands it to the
// collectors when sampled, and drops it from the table. Mutating operations
// on unknown span ids are no-ops. Safe for concurrent use.
type Tracer struct {
	mu         sync.RWMutex
	active     map[string]*Span
	collectors []SpanCollector
	sampling   float64
	disabled   bool
	logger     Logger
}

// NewTracer creates a tracer.
func NewTracer(config TracerConfig) *Tracer {
	sampling := config.SamplingRate
	if sampling <= 0 {
		sampling = 1.0
	}
	if sampling > 1 {
		sampling = 1.0
	}

	return &Tracer{
		active:   make(map[string]*Span),
		sampling: sampling,
		disabled: config.Disabled,
		logger:   NewNopLogger(),
	}
}

// SetLogger routes collector failure reports to logger.
func (t *Tracer) SetLogger(logger Logger) {
	if logger == nil {
		return
	}
	t.mu.Lock()
	t.logger = logger
	t.mu.Unlock()
}

// AddCollector registers a sink for finished sampled spans.
func (t *Tracer) AddCollector(c SpanCollector) {
	if c == nil {
		return
	}
	t.mu.Lock()
	t.collectors = append(t.collectors, c)
	t.mu.Unlock()
}

// StartSpan creates a span and registers it as active. With a parent context
// the span joins the parent's trace and inherits its sampling decision; a
// root span mints a fresh trace id and samples against the configured rate.
// The child is linked into the parent's children only while the parent is
// still active.
func (t *Tracer) StartSpan(name string, kind SpanKind, parent *SpanContext) *Span {
	span := &Span{
		Name:      name,
		Kind:      kind,
		StartTime: time.Now(),
		Status:    SpanStatusUnset,
	}

	if parent != nil {
		span.Context = SpanContext{
			TraceID:      parent.TraceID,
			SpanID:       newSpanID(),
			ParentSpanID: parent.SpanID,
			Sampled:      parent.Sampled,
		}
	} else {
		span.Context = SpanContext{
			TraceID: newTraceID(),
			SpanID:  newSpanID(),
			Sampled: rand.Float64() < t.sampling,
		}
	}
	if t.disabled {
		span.Context.Sampled = false
	}

	t.mu.Lock()
	t.active[span.Context.SpanID] = span
	if parent != nil {
		if parentSpan, ok := t.active[parent.SpanID]; ok {
			parentSpan.Children = append(parentSpan.Children, span)
		}
	}
	t.mu.Unlock()

	return span
}

// EndSpan finalizes the span: stamps end time and duration, sets status and
// error, forwards it to every collector when sampled, and removes it from
// the active table. Collector failures are logged and never propagate.
func (t *Tracer) EndSpan(spanID string, status SpanStatus, callErr error) {
	t.mu.Lock()
	span, ok := t.active[spanID]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.active, spanID)

	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)
	span.Status = status
	if callErr != nil {
		span.Error = callErr.Error()
	}

	collectors := make([]SpanCollector, len(t.collectors))
	copy(collectors, t.collectors)
	logger := t.logger
	t.mu.Unlock()

	if !span.Context.Sampled {
		return
	}
	for _, c := range collectors {
		if err := c.Collect(span); err != nil {
			logger.Warn("span collector failed", "collector", c.Name(), "spanId", spanID, "error", err.Error())
		}
	}
}

// SetSpanTag sets one tag on an active span.
func (t *Tracer) SetSpanTag(spanID, key, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	span, ok := t.active[spanID]
	if !ok {
		return
	}
	if span.Tags == nil {
		span.Tags = make(map[string]string)
	}
	span.Tags[key] = value
}

// SetSpanTags sets several tags on an active span.
func (t *Tracer) SetSpanTags(spanID string, tags map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	span, ok := t.active[spanID]
	if !ok {
		return
	}
	if span.Tags == nil {
		span.Tags = make(map[string]string, len(tags))
	}
	for k, v := range tags {
		span.Tags[k] = v
	}
}

// AddSpanEvent appends a timestamped event to an active span.
func (t *Tracer) AddSpanEvent(spanID, name string, attributes map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	span, ok := t.active[spanID]
	if !ok {
		return
	}
	span.Events = append(span.Events, SpanEvent{
		Name:       name,
		Time:       time.Now(),
		Attributes: attributes,
	})
}

// ActiveCount returns how many spans have been started but not ended.
func (t *Tracer) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.active)
}

// InjectHeaders writes the span context into headers for propagation.
func (t *Tracer) InjectHeaders(sc SpanContext, headers map[string]string) {
	if headers == nil {
		return
	}
	headers[HeaderTraceID] = sc.TraceID
	headers[HeaderSpanID] = sc.SpanID
	if sc.ParentSpanID != "" {
		headers[HeaderParentSpanID] = sc.ParentSpanID
	}
	if sc.Sampled {
		headers[HeaderSampled] = "1"
	} else {
		headers[HeaderSampled] = "0"
	}
}

// ExtractHeaders reads a propagated span context from headers. Returns nil
// when no trace id is present.
func (t *Tracer) ExtractHeaders(headers map[string]string) *SpanContext {
	traceID := headers[HeaderTraceID]
	if traceID == "" {
		return nil
	}
	sampledRaw := strings.ToLower(headers[HeaderSampled])
	return &SpanContext{
		TraceID:      traceID,
		SpanID:       headers[HeaderSpanID],
		ParentSpanID: headers[HeaderParentSpanID],
		Sampled:      sampledRaw == "1" || sampledRaw == "true",
	}
}

// newTraceID mints a 32-hex trace id.
func newTraceID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")
}

// newSpanID mints a 16-hex span id.
func newSpanID() string {
	return newTraceID()[:16]
}
