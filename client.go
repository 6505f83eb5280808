package sambung

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// Client turns a logical "call service X" request into a load-balanced,
// rate-limited, circuit-broken, retried, traced and metered HTTP call.
// Balancers, breakers and the rate limiter are owned per client and created
// lazily, so independent clients never share selection or protection state.
// Safe for concurrent use.
type Client struct {
	registry   Registry
	httpClient *http.Client
	timeout    time.Duration
	strategy   Strategy
	logger     Logger
	debug      *DebugConfig

	mu               sync.RWMutex
	retryConfig      *RetryConfig
	breakerConfig    BreakerConfig
	limiterConfig    LimiterConfig
	limiter          Limiter
	tracer           *Tracer
	metrics          *CallMetrics
	reqInterceptors  []RequestInterceptor
	respInterceptors []ResponseInterceptor
	balancers        map[balancerKey]Balancer
	breakers         map[string]*CircuitBreaker

	validationError error
}

type balancerKey struct {
	strategy Strategy
	service  string
}

// New constructs a Client using the provided functional options. A best
// effort validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Client {
	client := &Client{
		httpClient:    &http.Client{},
		timeout:       30 * time.Second,
		strategy:      StrategyRandom,
		logger:        NewNopLogger(),
		debug:         DefaultDebugConfig(),
		breakerConfig: DefaultBreakerConfig(),
		limiterConfig: DefaultLimiterConfig(),
		balancers:     make(map[balancerKey]Balancer),
		breakers:      make(map[string]*CircuitBreaker),
	}

	for _, option := range options {
		option(client)
	}

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

// Call executes one service call: request interceptors, optional rate-limit
// admission, instance lookup, balancer selection, tracing, then the HTTP
// attempt wrapped by the circuit breaker when enabled or by the retry
// strategy when one is configured, and finally the response interceptors.
func (c *Client) Call(ctx context.Context, opts CallOptions) (*CallResponse, error) {
	start := time.Now()

	var callID string
	if c.debug != nil && c.debug.Enabled && c.debug.CallIDGen != nil {
		callID = c.debug.CallIDGen()
	}

	reqChain, respChain := c.interceptorChains()

	opts, err := applyRequestInterceptors(ctx, reqChain, opts)
	if err != nil {
		return nil, err
	}

	if c.debug != nil && c.debug.Enabled && c.debug.LogCalls {
		c.logger.Debug("Starting call", "callID", callID, "service", opts.ServiceName, "method", opts.Method, "path", opts.Path)
	}

	if opts.EnableRateLimit {
		if rlErr := c.admit(opts, callID, start); rlErr != nil {
			return nil, rlErr
		}
	}

	instances, err := c.lookupInstances(ctx, opts, start)
	if err != nil {
		return nil, err
	}

	strategy := opts.Strategy
	if strategy == "" {
		strategy = c.strategy
	}
	instance := c.balancerFor(strategy, opts.ServiceName).Select(instances, opts.HashKey)
	if instance == nil {
		return nil, &CallError{
			Type:      ErrorTypeSelectionFailed,
			Message:   fmt.Sprintf("balancer %q selected no instance for service %q", strategy, opts.ServiceName),
			Cause:     ErrSelectionFailed,
			Service:   opts.ServiceName,
			Method:    opts.Method,
			Timestamp: time.Now(),
			Duration:  time.Since(start),
		}
	}

	if c.debug != nil && c.debug.Enabled && c.debug.LogCalls {
		c.logger.Debug("Instance selected", "callID", callID, "service", opts.ServiceName, "strategy", string(strategy), "instance", instance.Address)
	}

	tracer := c.currentTracer()
	var span *Span
	headers := cloneHeaders(opts.Headers)
	if tracer != nil {
		if headers == nil {
			headers = make(map[string]string)
		}
		span = tracer.StartSpan(fmt.Sprintf("%s %s%s", opts.Method, opts.ServiceName, opts.Path), SpanKindClient, nil)
		tracer.SetSpanTags(span.Context.SpanID, map[string]string{
			"service":  opts.ServiceName,
			"instance": instance.Address,
			"method":   opts.Method,
			"path":     opts.Path,
		})
		tracer.InjectHeaders(span.Context, headers)
	}
	opts.Headers = headers

	executor := c.executor(opts, instance, tracer, span, callID)

	var resp *CallResponse
	if opts.EnableCircuitBreaker {
		cb := c.breakerFor(opts.ServiceName, instance.Address)
		if c.debug != nil && c.debug.Enabled && c.debug.LogCircuit && cb.State() == BreakerOpen {
			c.logger.Warn("Circuit open, short-circuiting", "callID", callID, "service", opts.ServiceName, "instance", instance.Address)
		}
		resp, err = cb.Execute(ctx, executor, opts.Fallback)
	} else if retryCfg := c.retryFor(opts.Retry); retryCfg != nil {
		resp, err = NewRetryStrategy(*retryCfg).Execute(ctx, executor)
	} else {
		resp, err = executor(ctx)
	}
	if err != nil {
		return nil, err
	}

	return applyResponseInterceptors(ctx, respChain, resp)
}

// CallStream executes a streaming call and hands the live response body to
// the caller. Only interceptors, optional rate limiting, balancing and trace
// header propagation apply: a byte stream cannot be buffered and replayed,
// so circuit breaking and retry are always skipped. The caller owns the
// returned body and must close it.
func (c *Client) CallStream(ctx context.Context, opts CallOptions) (*StreamResponse, error) {
	start := time.Now()

	var callID string
	if c.debug != nil && c.debug.Enabled && c.debug.CallIDGen != nil {
		callID = c.debug.CallIDGen()
	}

	reqChain, _ := c.interceptorChains()

	opts, err := applyRequestInterceptors(ctx, reqChain, opts)
	if err != nil {
		return nil, err
	}

	if opts.EnableRateLimit {
		if rlErr := c.admit(opts, callID, start); rlErr != nil {
			return nil, rlErr
		}
	}

	instances, err := c.lookupInstances(ctx, opts, start)
	if err != nil {
		return nil, err
	}

	strategy := opts.Strategy
	if strategy == "" {
		strategy = c.strategy
	}
	instance := c.balancerFor(strategy, opts.ServiceName).Select(instances, opts.HashKey)
	if instance == nil {
		return nil, &CallError{
			Type:      ErrorTypeSelectionFailed,
			Message:   fmt.Sprintf("balancer %q selected no instance for service %q", strategy, opts.ServiceName),
			Cause:     ErrSelectionFailed,
			Service:   opts.ServiceName,
			Method:    opts.Method,
			Timestamp: time.Now(),
			Duration:  time.Since(start),
		}
	}

	tracer := c.currentTracer()
	var span *Span
	headers := cloneHeaders(opts.Headers)
	if headers == nil {
		headers = make(map[string]string)
	}
	if tracer != nil {
		span = tracer.StartSpan(fmt.Sprintf("%s %s%s", opts.Method, opts.ServiceName, opts.Path), SpanKindClient, nil)
		tracer.SetSpanTags(span.Context.SpanID, map[string]string{
			"service":  opts.ServiceName,
			"instance": instance.Address,
			"method":   opts.Method,
			"path":     opts.Path,
		})
		tracer.InjectHeaders(span.Context, headers)
	}
	if _, ok := headers["Accept"]; !ok {
		headers["Accept"] = "text/event-stream"
	}
	opts.Headers = headers

	callURL, err := buildURL(instance.Address, opts.Path, opts.Query)
	if err != nil {
		c.endSpan(tracer, span, err)
		return nil, &CallError{
			Type:      ErrorTypeValidation,
			Message:   "invalid call target",
			Cause:     err,
			Service:   opts.ServiceName,
			Method:    opts.Method,
			Instance:  instance,
			Timestamp: time.Now(),
		}
	}

	req, err := c.buildRequest(ctx, opts, callURL)
	if err != nil {
		c.endSpan(tracer, span, err)
		return nil, err
	}

	metrics := c.currentMetrics()
	httpResp, err := c.httpClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		if metrics != nil {
			metrics.RecordCall(opts.ServiceName, instance.Address, false, latency)
		}
		netErr := &CallError{
			Type:      ErrorTypeNetwork,
			Message:   "stream request failed",
			Cause:     err,
			Service:   opts.ServiceName,
			Method:    opts.Method,
			URL:       callURL,
			Instance:  instance,
			Timestamp: time.Now(),
			Duration:  latency,
		}
		c.endSpan(tracer, span, netErr)
		return nil, netErr
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		raw, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		if metrics != nil {
			metrics.RecordCall(opts.ServiceName, instance.Address, false, latency)
		}
		callErr := &CallError{
			Type:       ErrorTypeCallFailed,
			Message:    errorSummary(raw, httpResp.StatusCode),
			Service:    opts.ServiceName,
			Method:     opts.Method,
			URL:        callURL,
			StatusCode: httpResp.StatusCode,
			Body:       parseBody(raw, httpResp.Header.Get("Content-Type")),
			Instance:   instance,
			Timestamp:  time.Now(),
			Duration:   latency,
		}
		c.endSpan(tracer, span, callErr)
		return nil, callErr
	}

	if metrics != nil {
		metrics.RecordCall(opts.ServiceName, instance.Address, true, latency)
	}
	// The span covers connection establishment; the stream itself has no
	// bounded lifetime to time.
	if tracer != nil && span != nil {
		tracer.EndSpan(span.Context.SpanID, SpanStatusOK, nil)
	}

	return &StreamResponse{
		Status:   httpResp.StatusCode,
		Headers:  httpResp.Header,
		Body:     httpResp.Body,
		Instance: instance,
	}, nil
}

// Get is shorthand for a GET Call.
func (c *Client) Get(ctx context.Context, serviceName, path string) (*CallResponse, error) {
	return c.Call(ctx, CallOptions{ServiceName: serviceName, Method: http.MethodGet, Path: path})
}

// Post is shorthand for a POST Call with a JSON body.
func (c *Client) Post(ctx context.Context, serviceName, path string, body any) (*CallResponse, error) {
	return c.Call(ctx, CallOptions{ServiceName: serviceName, Method: http.MethodPost, Path: path, Body: body})
}

// SetRetryConfig replaces the default retry configuration; nil disables
// retrying for calls without their own retry config.
func (c *Client) SetRetryConfig(config *RetryConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retryConfig = config
}

// SetBreakerConfig replaces the configuration used for breakers created
// after this call. Existing per-endpoint breakers keep their configuration.
func (c *Client) SetBreakerConfig(config BreakerConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breakerConfig = config
}

// SetRateLimiterConfig replaces the rate limiter configuration and discards
// the current limiter, including one injected via WithLimiter; the next
// admission check builds a fixed-window limiter with the new configuration.
func (c *Client) SetRateLimiterConfig(config LimiterConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limiterConfig = config
	c.limiter = nil
}

// SetTracer attaches a tracer; nil detaches tracing.
func (c *Client) SetTracer(tracer *Tracer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracer = tracer
}

// SetMetrics attaches a metrics collector; nil detaches metrics.
func (c *Client) SetMetrics(metrics *CallMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = metrics
}

// AddRequestInterceptor appends interceptors to the request chain.
func (c *Client) AddRequestInterceptor(interceptors ...RequestInterceptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqInterceptors = append(c.reqInterceptors, interceptors...)
}

// AddResponseInterceptor appends interceptors to the response chain.
func (c *Client) AddResponseInterceptor(interceptors ...ResponseInterceptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.respInterceptors = append(c.respInterceptors, interceptors...)
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

func (c *Client) admit(opts CallOptions, callID string, start time.Time) error {
	key := opts.RateLimitKey
	if key == "" {
		key = opts.ServiceName
	}
	if c.limiterInstance().Allow(key) {
		return nil
	}

	if c.debug != nil && c.debug.Enabled && c.debug.LogRateLimit {
		c.logger.Warn("Rate limit exceeded", "callID", callID, "service", opts.ServiceName, "key", key)
	}
	return &CallError{
		Type:      ErrorTypeRateLimited,
		Message:   fmt.Sprintf("rate limit exceeded for key %q", key),
		Cause:     ErrRateLimited,
		Service:   opts.ServiceName,
		Method:    opts.Method,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
}

func (c *Client) lookupInstances(ctx context.Context, opts CallOptions, start time.Time) ([]ServiceInstance, error) {
	if c.registry == nil {
		return nil, &CallError{
			Type:      ErrorTypeValidation,
			Message:   "no registry configured",
			Service:   opts.ServiceName,
			Timestamp: time.Now(),
		}
	}

	instances, err := c.registry.GetInstances(ctx, opts.ServiceName, opts.Discovery)
	if err != nil {
		return nil, &CallError{
			Type:      ErrorTypeNoInstances,
			Message:   fmt.Sprintf("no instances available for service %q", opts.ServiceName),
			Cause:     err,
			Service:   opts.ServiceName,
			Method:    opts.Method,
			Timestamp: time.Now(),
			Duration:  time.Since(start),
		}
	}
	if len(instances) == 0 {
		return nil, &CallError{
			Type:      ErrorTypeNoInstances,
			Message:   fmt.Sprintf("no instances available for service %q", opts.ServiceName),
			Cause:     ErrNoInstances,
			Service:   opts.ServiceName,
			Method:    opts.Method,
			Timestamp: time.Now(),
			Duration:  time.Since(start),
		}
	}
	return instances, nil
}

// executor builds the inner attempt: one HTTP exchange that records metrics
// and ends the call span regardless of outcome. Under retry the closure runs
// once per attempt; the span is removed from the active table by the first
// attempt's end, so later attempts' span operations are no-ops.
func (c *Client) executor(opts CallOptions, instance *ServiceInstance, tracer *Tracer, span *Span, callID string) func(context.Context) (*CallResponse, error) {
	metrics := c.currentMetrics()
	attempt := 0

	return func(ctx context.Context) (*CallResponse, error) {
		attempt++
		if attempt > 1 && c.debug != nil && c.debug.Enabled && c.debug.LogRetries {
			c.logger.Info("Retry attempt", "callID", callID, "attempt", attempt-1, "service", opts.ServiceName, "instance", instance.Address)
		}

		attemptStart := time.Now()
		resp, err := c.doHTTP(ctx, opts, instance)
		latency := time.Since(attemptStart)

		if metrics != nil {
			metrics.RecordCall(opts.ServiceName, instance.Address, err == nil, latency)
		}
		if tracer != nil && span != nil {
			if err != nil {
				tracer.EndSpan(span.Context.SpanID, SpanStatusError, err)
			} else {
				tracer.EndSpan(span.Context.SpanID, SpanStatusOK, nil)
			}
		}
		return resp, err
	}
}

// doHTTP performs one HTTP attempt with its own timeout window.
func (c *Client) doHTTP(ctx context.Context, opts CallOptions, instance *ServiceInstance) (*CallResponse, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	callURL, err := buildURL(instance.Address, opts.Path, opts.Query)
	if err != nil {
		return nil, &CallError{
			Type:      ErrorTypeValidation,
			Message:   "invalid call target",
			Cause:     err,
			Service:   opts.ServiceName,
			Method:    opts.Method,
			Instance:  instance,
			Timestamp: time.Now(),
		}
	}

	req, err := c.buildRequest(attemptCtx, opts, callURL)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &CallError{
			Type:      ErrorTypeNetwork,
			Message:   "network request failed",
			Cause:     err,
			Service:   opts.ServiceName,
			Method:    opts.Method,
			URL:       callURL,
			Instance:  instance,
			Timestamp: time.Now(),
			Duration:  time.Since(start),
		}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &CallError{
			Type:       ErrorTypeNetwork,
			Message:    "reading response body failed",
			Cause:      err,
			Service:    opts.ServiceName,
			Method:     opts.Method,
			URL:        callURL,
			StatusCode: httpResp.StatusCode,
			Instance:   instance,
			Timestamp:  time.Now(),
			Duration:   time.Since(start),
		}
	}

	data := parseBody(raw, httpResp.Header.Get("Content-Type"))

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, &CallError{
			Type:       ErrorTypeCallFailed,
			Message:    errorSummary(raw, httpResp.StatusCode),
			Service:    opts.ServiceName,
			Method:     opts.Method,
			URL:        callURL,
			StatusCode: httpResp.StatusCode,
			Body:       data,
			Instance:   instance,
			Timestamp:  time.Now(),
			Duration:   time.Since(start),
		}
	}

	return &CallResponse{
		Status:   httpResp.StatusCode,
		Headers:  httpResp.Header,
		Data:     data,
		Raw:      raw,
		Instance: instance,
	}, nil
}

func (c *Client) buildRequest(ctx context.Context, opts CallOptions, callURL string) (*http.Request, error) {
	bodyReader, err := encodeBody(opts.Body)
	if err != nil {
		return nil, &CallError{
			Type:      ErrorTypeValidation,
			Message:   "encoding request body failed",
			Cause:     err,
			Service:   opts.ServiceName,
			Method:    opts.Method,
			URL:       callURL,
			Timestamp: time.Now(),
		}
	}

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, callURL, bodyReader)
	if err != nil {
		return nil, &CallError{
			Type:      ErrorTypeValidation,
			Message:   "building request failed",
			Cause:     err,
			Service:   opts.ServiceName,
			Method:    opts.Method,
			URL:       callURL,
			Timestamp: time.Now(),
		}
	}

	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) balancerFor(strategy Strategy, service string) Balancer {
	key := balancerKey{strategy: strategy, service: service}

	c.mu.RLock()
	b, ok := c.balancers[key]
	c.mu.RUnlock()
	if ok {
		return b
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.balancers[key]; ok {
		return b
	}
	b = NewBalancer(strategy)
	c.balancers[key] = b
	return b
}

func (c *Client) breakerFor(service, address string) *CircuitBreaker {
	key := service + ":" + address

	c.mu.RLock()
	cb, ok := c.breakers[key]
	c.mu.RUnlock()
	if ok {
		return cb
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[key]; ok {
		return cb
	}
	cb = NewCircuitBreaker(c.breakerConfig)
	c.breakers[key] = cb
	return cb
}

func (c *Client) limiterInstance() Limiter {
	c.mu.RLock()
	l := c.limiter
	c.mu.RUnlock()
	if l != nil {
		return l
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.limiter == nil {
		c.limiter = NewFixedWindowLimiter(c.limiterConfig)
	}
	return c.limiter
}

func (c *Client) retryFor(override *RetryConfig) *RetryConfig {
	if override != nil {
		return override
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.retryConfig
}

func (c *Client) currentTracer() *Tracer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tracer
}

func (c *Client) currentMetrics() *CallMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metrics
}

func (c *Client) interceptorChains() ([]RequestInterceptor, []ResponseInterceptor) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	reqChain := make([]RequestInterceptor, len(c.reqInterceptors))
	copy(reqChain, c.reqInterceptors)
	respChain := make([]ResponseInterceptor, len(c.respInterceptors))
	copy(respChain, c.respInterceptors)
	return reqChain, respChain
}

func (c *Client) endSpan(tracer *Tracer, span *Span, err error) {
	if tracer == nil || span == nil {
		return
	}
	if err != nil {
		tracer.EndSpan(span.Context.SpanID, SpanStatusError, err)
	} else {
		tracer.EndSpan(span.Context.SpanID, SpanStatusOK, nil)
	}
}

func cloneHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[k] = v
	}
	return out
}

func buildURL(address, path string, query map[string]string) (string, error) {
	base := address
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	u, err := url.Parse(base + path)
	if err != nil {
		return "", err
	}
	if len(query) > 0 {
		q := u.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func encodeBody(body any) (io.Reader, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case string:
		return strings.NewReader(b), nil
	case []byte:
		return bytes.NewReader(b), nil
	case io.Reader:
		return b, nil
	default:
		encoded, err := json.Marshal(b)
		if err != nil {
			return nil, err
		}
		return bytes.NewReader(encoded), nil
	}
}

// parseBody decodes the response by content type: JSON into generic values,
// everything else as a string. A body that fails to decode as JSON is kept
// as a string rather than dropped.
func parseBody(raw []byte, contentType string) any {
	if len(raw) == 0 {
		return nil
	}
	if isJSONContent(contentType) {
		var data any
		if err := json.Unmarshal(raw, &data); err == nil {
			return data
		}
	}
	return string(raw)
}

func isJSONContent(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "application/json") || strings.Contains(ct, "+json")
}

// errorSummary derives a call-failed message, lifting "message" or "error"
// fields out of JSON error payloads when present.
func errorSummary(raw []byte, status int) string {
	if len(raw) > 0 {
		if msg := gjson.GetBytes(raw, "message"); msg.Exists() && msg.String() != "" {
			return fmt.Sprintf("service call failed with status %d: %s", status, msg.String())
		}
		if msg := gjson.GetBytes(raw, "error"); msg.Exists() && msg.String() != "" {
			return fmt.Sprintf("service call failed with status %d: %s", status, msg.String())
		}
	}
	return fmt.Sprintf("service call failed with status %d", status)
}
