package sambung

import "time"

// SpanKind classifies the role a span plays in a trace.
type SpanKind string

const (
	SpanKindClient   SpanKind = "CLIENT"
	SpanKindServer   SpanKind = "SERVER"
	SpanKindProducer SpanKind = "PRODUCER"
	SpanKindConsumer SpanKind = "CONSUMER"
	SpanKindInternal SpanKind = "INTERNAL"
)

// SpanStatus is the terminal outcome of a span.
type SpanStatus string

const (
	SpanStatusUnset SpanStatus = "UNSET"
	SpanStatusOK    SpanStatus = "OK"
	SpanStatusError SpanStatus = "ERROR"
)

// SpanContext identifies a span within a trace and carries the sampling
// decision across process boundaries.
type SpanContext struct {
	TraceID      string `json:"traceId"`
	SpanID       string `json:"spanId"`
	ParentSpanID string `json:"parentSpanId,omitempty"`
	Sampled      bool   `json:"sampled"`
}

// SpanEvent is a timestamped annotation on a span.
type SpanEvent struct {
	Name       string            `json:"name"`
	Time       time.Time         `json:"time"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Span is one timed unit of work. While active it is owned by the Tracer and
// mutated only through Tracer methods; after EndSpan ownership passes to the
// collectors that received it and it must be treated as immutable.
type Span struct {
	Context   SpanContext       `json:"context"`
	Name      string            `json:"name"`
	Kind      SpanKind          `json:"kind"`
	StartTime time.Time         `json:"startTime"`
	EndTime   time.Time         `json:"endTime,omitempty"`
	Duration  time.Duration     `json:"durationNs,omitempty"`
	Status    SpanStatus        `json:"status"`
	Error     string            `json:"error,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	Events    []SpanEvent       `json:"events,omitempty"`
	Children  []*Span           `json:"-"`
}
