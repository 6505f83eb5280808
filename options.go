package sambung

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// WithRegistry sets the service registry used for instance discovery
func WithRegistry(registry Registry) Option {
	return func(c *Client) {
		c.registry = registry
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the default per-attempt timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithLoadBalancer sets the default load balancing strategy
func WithLoadBalancer(strategy Strategy) Option {
	return func(c *Client) {
		c.strategy = strategy
	}
}

// WithRetry sets the default retry configuration
func WithRetry(config RetryConfig) Option {
	return func(c *Client) {
		c.retryConfig = &config
	}
}

// WithCircuitBreaker sets the configuration used for per-endpoint breakers
func WithCircuitBreaker(config BreakerConfig) Option {
	return func(c *Client) {
		c.breakerConfig = config
	}
}

// WithRateLimiter sets the rate limiter configuration
func WithRateLimiter(config LimiterConfig) Option {
	return func(c *Client) {
		c.limiterConfig = config
		c.limiter = nil
	}
}

// WithLimiter sets a custom rate limiter implementation
func WithLimiter(limiter Limiter) Option {
	return func(c *Client) {
		c.limiter = limiter
	}
}

// WithTracer sets the tracer used for call spans
func WithTracer(tracer *Tracer) Option {
	return func(c *Client) {
		c.tracer = tracer
	}
}

// WithMetrics enables call metrics collection with a fresh collector
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewCallMetrics()
	}
}

// WithCallMetrics sets a custom metrics collector
func WithCallMetrics(metrics *CallMetrics) Option {
	return func(c *Client) {
		c.metrics = metrics
	}
}

// WithLogger sets a custom logger for debug output
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithZerolog enables debug logging through the given zerolog logger
func WithZerolog(logger zerolog.Logger) Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
		c.logger = NewZerologLogger(logger)
	}
}

// WithDebug enables debug logging with default configuration
func WithDebug() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
	}
}

// WithDebugConfig sets custom debug configuration
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) {
		c.debug = config
	}
}

// WithCallIDGenerator sets a custom function for generating call IDs
func WithCallIDGenerator(gen func() string) Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.CallIDGen = gen
	}
}

// WithRequestInterceptors adds request interceptors to the client
func WithRequestInterceptors(interceptors ...RequestInterceptor) Option {
	return func(c *Client) {
		c.reqInterceptors = append(c.reqInterceptors, interceptors...)
	}
}

// WithResponseInterceptors adds response interceptors to the client
func WithResponseInterceptors(interceptors ...ResponseInterceptor) Option {
	return func(c *Client) {
		c.respInterceptors = append(c.respInterceptors, interceptors...)
	}
}

// ValidateConfiguration validates the client configuration and returns an error if invalid
func (c *Client) ValidateConfiguration() error {
	var errors []string

	// Validate each configuration section
	errors = append(errors, c.validateCoreConfig()...)
	errors = append(errors, c.validateRetryConfig()...)
	errors = append(errors, c.validateRateLimiterConfig()...)
	errors = append(errors, c.validateBreakerConfig()...)
	errors = append(errors, c.validateDebugConfig()...)
	errors = append(errors, c.validateInterceptorConfig()...)
	errors = append(errors, c.validateExtremeValues()...)

	if len(errors) > 0 {
		return &CallError{
			Type:    ErrorTypeValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", errors),
		}
	}

	return nil
}

// validateCoreConfig validates registry, transport and balancing configuration
func (c *Client) validateCoreConfig() []string {
	var errors []string

	if c.registry == nil {
		errors = append(errors, "registry must be configured")
	}

	if c.httpClient == nil {
		errors = append(errors, "HTTP client cannot be nil")
	}

	if c.timeout <= 0 {
		errors = append(errors, "timeout must be positive")
	}

	switch c.strategy {
	case StrategyRandom, StrategyRoundRobin, StrategyWeightedRoundRobin, StrategyConsistentHash, StrategyLeastActive:
	default:
		errors = append(errors, fmt.Sprintf("unknown load balancing strategy %q", c.strategy))
	}

	return errors
}

// validateRetryConfig validates retry-related configuration
func (c *Client) validateRetryConfig() []string {
	var errors []string

	if c.retryConfig == nil {
		return errors
	}

	if c.retryConfig.MaxRetries < 0 {
		errors = append(errors, "retry MaxRetries must be non-negative")
	}

	if c.retryConfig.ExponentialBackoff {
		if c.retryConfig.BaseDelay <= 0 {
			errors = append(errors, "retry BaseDelay must be positive when exponential backoff is enabled")
		}
		if c.retryConfig.MaxDelay < c.retryConfig.BaseDelay {
			errors = append(errors, "retry MaxDelay must be greater than or equal to BaseDelay")
		}
	} else if c.retryConfig.RetryDelay < 0 {
		errors = append(errors, "retry RetryDelay must be non-negative")
	}

	return errors
}

// validateRateLimiterConfig validates rate limiter configuration
func (c *Client) validateRateLimiterConfig() []string {
	var errors []string

	if c.limiterConfig.RequestsPerWindow <= 0 {
		errors = append(errors, "rateLimiter RequestsPerWindow must be positive")
	}
	if c.limiterConfig.TimeWindow <= 0 {
		errors = append(errors, "rateLimiter TimeWindow must be positive")
	}

	return errors
}

// validateBreakerConfig validates circuit breaker configuration
func (c *Client) validateBreakerConfig() []string {
	var errors []string

	if c.breakerConfig.FailureThreshold <= 0 || c.breakerConfig.FailureThreshold > 1 {
		errors = append(errors, "circuitBreaker FailureThreshold must be in (0, 1]")
	}
	if c.breakerConfig.TimeWindow <= 0 {
		errors = append(errors, "circuitBreaker TimeWindow must be positive")
	}
	if c.breakerConfig.MinimumRequests <= 0 {
		errors = append(errors, "circuitBreaker MinimumRequests must be positive")
	}
	if c.breakerConfig.HalfOpenMaxProbes <= 0 {
		errors = append(errors, "circuitBreaker HalfOpenMaxProbes must be positive")
	}

	return errors
}

// validateDebugConfig validates debug configuration
func (c *Client) validateDebugConfig() []string {
	var errors []string

	if c.debug != nil && c.debug.Enabled {
		if c.debug.CallIDGen == nil {
			errors = append(errors, "debug CallIDGen must be set when debug is enabled")
		}
		if c.logger == nil {
			errors = append(errors, "logger must be set when debug is enabled")
		}
	}

	return errors
}

// validateInterceptorConfig validates interceptor configuration
func (c *Client) validateInterceptorConfig() []string {
	var errors []string

	for i, interceptor := range c.reqInterceptors {
		if interceptor == nil {
			errors = append(errors, fmt.Sprintf("requestInterceptor[%d] cannot be nil", i))
		}
	}
	for i, interceptor := range c.respInterceptors {
		if interceptor == nil {
			errors = append(errors, fmt.Sprintf("responseInterceptor[%d] cannot be nil", i))
		}
	}

	return errors
}

// validateExtremeValues validates that configuration values are within reasonable bounds
func (c *Client) validateExtremeValues() []string {
	var errors []string

	// Check for extreme timeout values
	if c.timeout > 10*time.Minute {
		errors = append(errors, "timeout > 10m may cause requests to hang for too long")
	}

	// Check for extreme retry values that could cause issues
	if c.retryConfig != nil {
		if c.retryConfig.MaxRetries > 100 {
			errors = append(errors, "retry MaxRetries > 100 may cause excessive resource usage")
		}
		if c.retryConfig.RetryDelay > 10*time.Minute {
			errors = append(errors, "retry RetryDelay > 10m may cause very long delays")
		}
		if c.retryConfig.MaxDelay > 1*time.Hour {
			errors = append(errors, "retry MaxDelay > 1h may cause extremely long delays")
		}
	}

	// Check for extreme rate limiter values
	if c.limiterConfig.RequestsPerWindow > 1000000 {
		errors = append(errors, "rateLimiter RequestsPerWindow > 1M may cause memory issues")
	}
	if c.limiterConfig.TimeWindow > 0 && c.limiterConfig.TimeWindow < time.Millisecond {
		errors = append(errors, "rateLimiter TimeWindow < 1ms may cause excessive CPU usage")
	}

	// Check for extreme breaker windows
	if c.breakerConfig.TimeWindow > 1*time.Hour {
		errors = append(errors, "circuitBreaker TimeWindow > 1h may keep endpoints open far too long")
	}

	return errors
}
