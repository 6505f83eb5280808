package sambung

import (
	"errors"
	"sync"
	"testing"
)

func isHex(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

func TestTracerStartRootSpan(t *testing.T) {
	tracer := NewTracer(TracerConfig{SamplingRate: 1.0})

	span := tracer.StartSpan("GET users/api/users", SpanKindClient, nil)

	if span.Name != "GET users/api/users" {
		t.Errorf("Expected span name preserved, got %q", span.Name)
	}
	if span.Kind != SpanKindClient {
		t.Errorf("Expected kind CLIENT, got %q", span.Kind)
	}
	if span.Status != SpanStatusUnset {
		t.Errorf("Expected status UNSET before end, got %q", span.Status)
	}
	if len(span.Context.TraceID) != 32 || !isHex(span.Context.TraceID) {
		t.Errorf("Expected 32-char hex trace id, got %q", span.Context.TraceID)
	}
	if len(span.Context.SpanID) != 16 || !isHex(span.Context.SpanID) {
		t.Errorf("Expected 16-char hex span id, got %q", span.Context.SpanID)
	}
	if span.Context.ParentSpanID != "" {
		t.Errorf("Expected empty parent span id for root, got %q", span.Context.ParentSpanID)
	}
	if !span.Context.Sampled {
		t.Error("Expected root span sampled at rate 1.0")
	}
	if got := tracer.ActiveCount(); got != 1 {
		t.Errorf("Expected 1 active span, got %d", got)
	}
}

func TestTracerChildSpanJoinsParentTrace(t *testing.T) {
	tracer := NewTracer(TracerConfig{SamplingRate: 1.0})

	parent := tracer.StartSpan("parent", SpanKindClient, nil)
	child := tracer.StartSpan("child", SpanKindInternal, &parent.Context)

	if child.Context.TraceID != parent.Context.TraceID {
		t.Errorf("Expected child to share trace id %q, got %q", parent.Context.TraceID, child.Context.TraceID)
	}
	if child.Context.ParentSpanID != parent.Context.SpanID {
		t.Errorf("Expected parent span id %q, got %q", parent.Context.SpanID, child.Context.ParentSpanID)
	}
	if child.Context.SpanID == parent.Context.SpanID {
		t.Error("Expected child to get its own span id")
	}
	if !child.Context.Sampled {
		t.Error("Expected child to inherit the sampling decision")
	}
	if len(parent.Children) != 1 || parent.Children[0] != child {
		t.Error("Expected child linked into parent's children")
	}
}

func TestTracerChildOfEndedParentNotLinked(t *testing.T) {
	tracer := NewTracer(TracerConfig{SamplingRate: 1.0})

	parent := tracer.StartSpan("parent", SpanKindClient, nil)
	parentCtx := parent.Context
	tracer.EndSpan(parent.Context.SpanID, SpanStatusOK, nil)

	child := tracer.StartSpan("child", SpanKindInternal, &parentCtx)

	if child.Context.TraceID != parentCtx.TraceID {
		t.Error("Expected child to still join the parent's trace")
	}
	if len(parent.Children) != 0 {
		t.Error("Expected no child link on an already-ended parent")
	}
}

func TestTracerChildInheritsUnsampled(t *testing.T) {
	tracer := NewTracer(TracerConfig{SamplingRate: 1.0})

	parentCtx := &SpanContext{TraceID: newTraceID(), SpanID: newSpanID(), Sampled: false}
	child := tracer.StartSpan("child", SpanKindInternal, parentCtx)

	if child.Context.Sampled {
		t.Error("Expected child of an unsampled parent to stay unsampled")
	}
}

func TestTracerEndSpanFinalizesAndCollects(t *testing.T) {
	tracer := NewTracer(TracerConfig{SamplingRate: 1.0})
	collector := NewMemoryCollector(10)
	tracer.AddCollector(collector)

	span := tracer.StartSpan("op", SpanKindClient, nil)
	tracer.EndSpan(span.Context.SpanID, SpanStatusOK, nil)

	if got := tracer.ActiveCount(); got != 0 {
		t.Errorf("Expected 0 active spans after end, got %d", got)
	}

	spans := collector.Spans()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 collected span, got %d", len(spans))
	}
	got := spans[0]
	if got.Status != SpanStatusOK {
		t.Errorf("Expected status OK, got %q", got.Status)
	}
	if got.EndTime.IsZero() {
		t.Error("Expected end time stamped")
	}
	if got.Duration < 0 {
		t.Errorf("Expected non-negative duration, got %v", got.Duration)
	}
	if got.Error != "" {
		t.Errorf("Expected no error on OK span, got %q", got.Error)
	}
}

func TestTracerEndSpanRecordsError(t *testing.T) {
	tracer := NewTracer(TracerConfig{SamplingRate: 1.0})
	collector := NewMemoryCollector(10)
	tracer.AddCollector(collector)

	span := tracer.StartSpan("op", SpanKindClient, nil)
	tracer.EndSpan(span.Context.SpanID, SpanStatusError, errors.New("connection refused"))

	spans := collector.Spans()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 collected span, got %d", len(spans))
	}
	if spans[0].Status != SpanStatusError {
		t.Errorf("Expected status ERROR, got %q", spans[0].Status)
	}
	if spans[0].Error != "connection refused" {
		t.Errorf("Expected error message recorded, got %q", spans[0].Error)
	}
}

func TestTracerEndUnknownSpanNoOp(t *testing.T) {
	tracer := NewTracer(TracerConfig{SamplingRate: 1.0})
	collector := NewMemoryCollector(10)
	tracer.AddCollector(collector)

	tracer.EndSpan("no-such-span", SpanStatusOK, nil)

	if len(collector.Spans()) != 0 {
		t.Error("Expected nothing collected for an unknown span id")
	}
}

func TestTracerDisabledNeverCollects(t *testing.T) {
	tracer := NewTracer(TracerConfig{Disabled: true})
	collector := NewMemoryCollector(10)
	tracer.AddCollector(collector)

	span := tracer.StartSpan("op", SpanKindClient, nil)
	if span.Context.Sampled {
		t.Error("Expected disabled tracer to mark spans unsampled")
	}
	tracer.EndSpan(span.Context.SpanID, SpanStatusOK, nil)

	if len(collector.Spans()) != 0 {
		t.Error("Expected unsampled span never forwarded to collectors")
	}
	if got := tracer.ActiveCount(); got != 0 {
		t.Errorf("Expected span removed from active table, got %d active", got)
	}
}

func TestTracerSamplingRateClamped(t *testing.T) {
	tests := []struct {
		rate     float64
		expected float64
	}{
		{0, 1.0},
		{-0.5, 1.0},
		{5, 1.0},
		{0.25, 0.25},
	}

	for _, tt := range tests {
		tracer := NewTracer(TracerConfig{SamplingRate: tt.rate})
		if tracer.sampling != tt.expected {
			t.Errorf("Expected sampling %v for rate %v, got %v", tt.expected, tt.rate, tracer.sampling)
		}
	}
}

func TestTracerTagsAndEvents(t *testing.T) {
	tracer := NewTracer(TracerConfig{SamplingRate: 1.0})

	span := tracer.StartSpan("op", SpanKindClient, nil)
	id := span.Context.SpanID

	tracer.SetSpanTag(id, "service", "users")
	tracer.SetSpanTags(id, map[string]string{"method": "GET", "path": "/api/users"})
	tracer.AddSpanEvent(id, "retry", map[string]string{"attempt": "2"})

	if span.Tags["service"] != "users" || span.Tags["method"] != "GET" || span.Tags["path"] != "/api/users" {
		t.Errorf("Expected tags applied, got %v", span.Tags)
	}
	if len(span.Events) != 1 || span.Events[0].Name != "retry" {
		t.Fatalf("Expected 1 retry event, got %v", span.Events)
	}
	if span.Events[0].Attributes["attempt"] != "2" {
		t.Errorf("Expected event attributes preserved, got %v", span.Events[0].Attributes)
	}
	if span.Events[0].Time.IsZero() {
		t.Error("Expected event timestamped")
	}

	// Unknown span ids are ignored.
	tracer.SetSpanTag("missing", "k", "v")
	tracer.SetSpanTags("missing", map[string]string{"k": "v"})
	tracer.AddSpanEvent("missing", "evt", nil)
}

func TestTracerInjectHeaders(t *testing.T) {
	tracer := NewTracer(TracerConfig{SamplingRate: 1.0})

	sc := SpanContext{TraceID: "abc", SpanID: "def", ParentSpanID: "123", Sampled: true}
	headers := map[string]string{}
	tracer.InjectHeaders(sc, headers)

	if headers[HeaderTraceID] != "abc" {
		t.Errorf("Expected trace id header abc, got %q", headers[HeaderTraceID])
	}
	if headers[HeaderSpanID] != "def" {
		t.Errorf("Expected span id header def, got %q", headers[HeaderSpanID])
	}
	if headers[HeaderParentSpanID] != "123" {
		t.Errorf("Expected parent span id header 123, got %q", headers[HeaderParentSpanID])
	}
	if headers[HeaderSampled] != "1" {
		t.Errorf("Expected sampled header 1, got %q", headers[HeaderSampled])
	}

	// No parent header for a root context, sampled 0 when unsampled.
	headers = map[string]string{}
	tracer.InjectHeaders(SpanContext{TraceID: "abc", SpanID: "def"}, headers)
	if _, ok := headers[HeaderParentSpanID]; ok {
		t.Error("Expected no parent header for a root span context")
	}
	if headers[HeaderSampled] != "0" {
		t.Errorf("Expected sampled header 0, got %q", headers[HeaderSampled])
	}

	// Nil map must not panic.
	tracer.InjectHeaders(sc, nil)
}

func TestTracerExtractHeaders(t *testing.T) {
	tracer := NewTracer(TracerConfig{SamplingRate: 1.0})

	sc := tracer.ExtractHeaders(map[string]string{
		HeaderTraceID:      "abc",
		HeaderSpanID:       "def",
		HeaderParentSpanID: "123",
		HeaderSampled:      "1",
	})
	if sc == nil {
		t.Fatal("Expected span context extracted")
	}
	if sc.TraceID != "abc" || sc.SpanID != "def" || sc.ParentSpanID != "123" || !sc.Sampled {
		t.Errorf("Expected round-tripped context, got %+v", sc)
	}

	if tracer.ExtractHeaders(map[string]string{HeaderSpanID: "def"}) != nil {
		t.Error("Expected nil without a trace id header")
	}

	sc = tracer.ExtractHeaders(map[string]string{HeaderTraceID: "abc", HeaderSampled: "TRUE"})
	if sc == nil || !sc.Sampled {
		t.Error("Expected case-insensitive true to mark sampled")
	}

	sc = tracer.ExtractHeaders(map[string]string{HeaderTraceID: "abc", HeaderSampled: "0"})
	if sc == nil || sc.Sampled {
		t.Error("Expected 0 to mark unsampled")
	}
}

type failingCollector struct {
	mu    sync.Mutex
	calls int
}

func (c *failingCollector) Name() string { return "failing" }

func (c *failingCollector) Collect(*Span) error {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return errors.New("sink unavailable")
}

func TestTracerCollectorFailureDoesNotPropagate(t *testing.T) {
	tracer := NewTracer(TracerConfig{SamplingRate: 1.0})
	failing := &failingCollector{}
	memory := NewMemoryCollector(10)
	tracer.AddCollector(failing)
	tracer.AddCollector(memory)

	span := tracer.StartSpan("op", SpanKindClient, nil)
	tracer.EndSpan(span.Context.SpanID, SpanStatusOK, nil)

	if failing.calls != 1 {
		t.Errorf("Expected failing collector invoked once, got %d", failing.calls)
	}
	if len(memory.Spans()) != 1 {
		t.Error("Expected later collectors to still receive the span")
	}
}

func TestTracerConcurrentSpans(t *testing.T) {
	tracer := NewTracer(TracerConfig{SamplingRate: 1.0})
	collector := NewMemoryCollector(1000)
	tracer.AddCollector(collector)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				span := tracer.StartSpan("op", SpanKindClient, nil)
				tracer.SetSpanTag(span.Context.SpanID, "k", "v")
				tracer.EndSpan(span.Context.SpanID, SpanStatusOK, nil)
			}
		}()
	}
	wg.Wait()

	if got := tracer.ActiveCount(); got != 0 {
		t.Errorf("Expected 0 active spans, got %d", got)
	}
	if got := len(collector.Spans()); got != 200 {
		t.Errorf("Expected 200 collected spans, got %d", got)
	}
}
