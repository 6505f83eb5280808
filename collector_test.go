package sambung

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func spanWithID(id string) *Span {
	return &Span{
		Context: SpanContext{TraceID: newTraceID(), SpanID: id, Sampled: true},
		Name:    "op",
		Kind:    SpanKindClient,
		Status:  SpanStatusOK,
	}
}

func TestMemoryCollectorKeepsMostRecent(t *testing.T) {
	c := NewMemoryCollector(3)

	for _, id := range []string{"s1", "s2", "s3", "s4", "s5"} {
		if err := c.Collect(spanWithID(id)); err != nil {
			t.Fatalf("Collect failed: %v", err)
		}
	}

	spans := c.Spans()
	if len(spans) != 3 {
		t.Fatalf("Expected 3 retained spans, got %d", len(spans))
	}
	for i, want := range []string{"s3", "s4", "s5"} {
		if spans[i].Context.SpanID != want {
			t.Errorf("Expected span %s at position %d, got %s", want, i, spans[i].Context.SpanID)
		}
	}
}

func TestMemoryCollectorReset(t *testing.T) {
	c := NewMemoryCollector(10)
	c.Collect(spanWithID("s1"))

	c.Reset()

	if len(c.Spans()) != 0 {
		t.Error("Expected no spans after reset")
	}
}

func TestMemoryCollectorDefaultCapacity(t *testing.T) {
	c := NewMemoryCollector(0)
	if c.capacity != 1000 {
		t.Errorf("Expected default capacity 1000, got %d", c.capacity)
	}
}

// recordingLogger captures log calls for assertions.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	level string
	msg   string
	kv    []interface{}
}

func (l *recordingLogger) record(level, msg string, kv []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, kv: kv})
}

func (l *recordingLogger) Debug(msg string, kv ...interface{}) { l.record("debug", msg, kv) }
func (l *recordingLogger) Info(msg string, kv ...interface{})  { l.record("info", msg, kv) }
func (l *recordingLogger) Warn(msg string, kv ...interface{})  { l.record("warn", msg, kv) }
func (l *recordingLogger) Error(msg string, kv ...interface{}) { l.record("error", msg, kv) }

func (l *recordingLogger) all() []logEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]logEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func TestLogCollectorLogsSpanSummary(t *testing.T) {
	logger := &recordingLogger{}
	c := NewLogCollector(logger)

	span := spanWithID("s1")
	span.Duration = 250 * time.Millisecond
	if err := c.Collect(span); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	entries := logger.all()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 log entry, got %d", len(entries))
	}
	if entries[0].level != "info" || entries[0].msg != "span finished" {
		t.Errorf("Expected info 'span finished', got %s %q", entries[0].level, entries[0].msg)
	}

	// Fields arrive as alternating key/value pairs.
	fields := map[string]interface{}{}
	kv := entries[0].kv
	for i := 0; i+1 < len(kv); i += 2 {
		fields[kv[i].(string)] = kv[i+1]
	}
	if fields["spanId"] != "s1" {
		t.Errorf("Expected spanId field s1, got %v", fields["spanId"])
	}
	if fields["durationMs"] != 250.0 {
		t.Errorf("Expected durationMs 250, got %v", fields["durationMs"])
	}
}

func TestLogCollectorNilLogger(t *testing.T) {
	c := NewLogCollector(nil)
	if err := c.Collect(spanWithID("s1")); err != nil {
		t.Errorf("Expected nil-logger collector to no-op, got %v", err)
	}
}

func TestHTTPCollectorExportsBatch(t *testing.T) {
	batches := make(chan []*Span, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var spans []*Span
		if err := json.Unmarshal(body, &spans); err != nil {
			t.Errorf("Expected JSON span batch, got decode error: %v", err)
		}
		batches <- spans
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	c := NewHTTPCollector(HTTPCollectorConfig{
		Endpoint:      server.URL,
		BatchSize:     2,
		FlushInterval: time.Hour,
	})
	defer c.Close()

	c.Collect(spanWithID("s1"))
	c.Collect(spanWithID("s2"))

	select {
	case spans := <-batches:
		if len(spans) != 2 {
			t.Fatalf("Expected batch of 2 spans, got %d", len(spans))
		}
		if spans[0].Context.SpanID != "s1" || spans[1].Context.SpanID != "s2" {
			t.Errorf("Expected spans s1,s2 in order, got %s,%s", spans[0].Context.SpanID, spans[1].Context.SpanID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected batch exported once batch size was reached")
	}
}

func TestHTTPCollectorFlushesOnClose(t *testing.T) {
	batches := make(chan []*Span, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var spans []*Span
		json.Unmarshal(body, &spans)
		batches <- spans
	}))
	defer server.Close()

	c := NewHTTPCollector(HTTPCollectorConfig{
		Endpoint:      server.URL,
		BatchSize:     100,
		FlushInterval: time.Hour,
	})

	c.Collect(spanWithID("s1"))
	c.Close()

	select {
	case spans := <-batches:
		if len(spans) != 1 || spans[0].Context.SpanID != "s1" {
			t.Errorf("Expected pending span flushed on close, got %v", spans)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected close to flush the pending span")
	}

	// Close is idempotent.
	c.Close()
}

func TestHTTPCollectorDropsWhenFull(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var startedOnce sync.Once
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedOnce.Do(func() { close(started) })
		<-release
	}))
	defer server.Close()

	c := NewHTTPCollector(HTTPCollectorConfig{
		Endpoint:      server.URL,
		BatchSize:     1,
		BufferSize:    1,
		FlushInterval: time.Hour,
	})

	// First span goes straight to an export that blocks in the handler.
	if err := c.Collect(spanWithID("s1")); err != nil {
		t.Fatalf("Expected first span enqueued, got %v", err)
	}
	<-started

	// Second span fills the buffer, the rest are dropped.
	if err := c.Collect(spanWithID("s2")); err != nil {
		t.Fatalf("Expected second span buffered, got %v", err)
	}
	if err := c.Collect(spanWithID("s3")); err == nil {
		t.Error("Expected drop error once buffer is full")
	}
	c.Collect(spanWithID("s4"))

	if got := c.Dropped(); got != 2 {
		t.Errorf("Expected 2 dropped spans, got %d", got)
	}

	close(release)
	c.Close()
}

func TestHTTPCollectorDefaults(t *testing.T) {
	c := NewHTTPCollector(HTTPCollectorConfig{Endpoint: "http://127.0.0.1:0"})
	defer c.Close()

	if c.batch != 64 {
		t.Errorf("Expected default batch size 64, got %d", c.batch)
	}
	if c.interval != 5*time.Second {
		t.Errorf("Expected default flush interval 5s, got %v", c.interval)
	}
	if cap(c.buf) != 1024 {
		t.Errorf("Expected default buffer size 1024, got %d", cap(c.buf))
	}
	if c.client.Timeout != 10*time.Second {
		t.Errorf("Expected default timeout 10s, got %v", c.client.Timeout)
	}
}
