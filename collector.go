package sambung

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// SpanCollector receives finished sampled spans. Collect must not retain a
// reference to span internals it mutates; the span is shared between all
// registered collectors.
type SpanCollector interface {
	Name() string
	Collect(span *Span) error
}

// MemoryCollector keeps the most recent spans in memory, mainly for tests and
// local inspection.
type MemoryCollector struct {
	mu       sync.Mutex
	spans    []*Span
	capacity int
}

// NewMemoryCollector creates a collector retaining at most capacity spans;
// capacity <= 0 means 1000.
func NewMemoryCollector(capacity int) *MemoryCollector {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryCollector{capacity: capacity}
}

// Name identifies the collector in logs.
func (c *MemoryCollector) Name() string { return "memory" }

// Collect stores the span, evicting the oldest beyond capacity.
func (c *MemoryCollector) Collect(span *Span) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spans = append(c.spans, span)
	if len(c.spans) > c.capacity {
		c.spans = c.spans[len(c.spans)-c.capacity:]
	}
	return nil
}

// Spans returns a copy of the retained spans, oldest first.
func (c *MemoryCollector) Spans() []*Span {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Span, len(c.spans))
	copy(out, c.spans)
	return out
}

// Reset discards all retained spans.
func (c *MemoryCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spans = nil
}

// LogCollector writes one structured log line per finished span.
type LogCollector struct {
	logger Logger
}

// NewLogCollector creates a collector logging through logger.
func NewLogCollector(logger Logger) *LogCollector {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &LogCollector{logger: logger}
}

// Name identifies the collector in logs.
func (c *LogCollector) Name() string { return "log" }

// Collect logs the span summary.
func (c *LogCollector) Collect(span *Span) error {
	c.logger.Info("span finished",
		"traceId", span.Context.TraceID,
		"spanId", span.Context.SpanID,
		"parentSpanId", span.Context.ParentSpanID,
		"name", span.Name,
		"kind", string(span.Kind),
		"status", string(span.Status),
		"durationMs", float64(span.Duration)/float64(time.Millisecond),
		"error", span.Error,
	)
	return nil
}

// HTTPCollectorConfig configures the batching HTTP span exporter.
type HTTPCollectorConfig struct {
	Endpoint      string
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
	Timeout       time.Duration
}

// HTTPCollector posts finished spans to an HTTP endpoint as JSON batches. A
// bounded buffer decouples callers from the network: when it is full, new
// spans are dropped and counted instead of blocking the call path.
type HTTPCollector struct {
	endpoint string
	client   *http.Client
	logger   Logger

	buf      chan *Span
	batch    int
	interval time.Duration

	dropped int64

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewHTTPCollector creates and starts an HTTP collector.
func NewHTTPCollector(config HTTPCollectorConfig) *HTTPCollector {
	if config.BatchSize <= 0 {
		config.BatchSize = 64
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1024
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	c := &HTTPCollector{
		endpoint: config.Endpoint,
		client:   &http.Client{Timeout: config.Timeout},
		logger:   NewNopLogger(),
		buf:      make(chan *Span, config.BufferSize),
		batch:    config.BatchSize,
		interval: config.FlushInterval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.run()
	return c
}

// SetLogger routes export failures to logger.
func (c *HTTPCollector) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Name identifies the collector in logs.
func (c *HTTPCollector) Name() string { return "http" }

// Collect enqueues the span for export. Returns an error when the buffer is
// full and the span was dropped.
func (c *HTTPCollector) Collect(span *Span) error {
	select {
	case c.buf <- span:
		return nil
	default:
		atomic.AddInt64(&c.dropped, 1)
		return fmt.Errorf("sambung: span buffer full, dropped span %s", span.Context.SpanID)
	}
}

// Dropped returns how many spans were discarded due to a full buffer.
func (c *HTTPCollector) Dropped() int64 {
	return atomic.LoadInt64(&c.dropped)
}

// Close flushes buffered spans and stops the export loop.
func (c *HTTPCollector) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
	<-c.done
}

func (c *HTTPCollector) run() {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	pending := make([]*Span, 0, c.batch)
	for {
		select {
		case span := <-c.buf:
			pending = append(pending, span)
			if len(pending) >= c.batch {
				c.export(pending)
				pending = pending[:0]
			}
		case <-ticker.C:
			if len(pending) > 0 {
				c.export(pending)
				pending = pending[:0]
			}
		case <-c.stop:
			for {
				select {
				case span := <-c.buf:
					pending = append(pending, span)
				default:
					if len(pending) > 0 {
						c.export(pending)
					}
					return
				}
			}
		}
	}
}

func (c *HTTPCollector) export(spans []*Span) {
	payload, err := json.Marshal(spans)
	if err != nil {
		c.logger.Warn("span export encode failed", "error", err.Error())
		return
	}

	resp, err := c.client.Post(c.endpoint, "application/json", bytes.NewReader(payload))
	if err != nil {
		c.logger.Warn("span export failed", "endpoint", c.endpoint, "spans", len(spans), "error", err.Error())
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("span export rejected", "endpoint", c.endpoint, "spans", len(spans), "status", resp.StatusCode)
	}
}
