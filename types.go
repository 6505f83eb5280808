package sambung

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ServiceInstance is one callable endpoint of a logical service. Instances are
// owned and mutated by the registry; this layer treats them as read-only and
// re-fetches them on every call.
type ServiceInstance struct {
	ServiceName string            `json:"serviceName" yaml:"serviceName"`
	Address     string            `json:"address" yaml:"address"`
	Weight      int               `json:"weight,omitempty" yaml:"weight,omitempty"`
	Healthy     bool              `json:"healthy" yaml:"healthy"`
	Cluster     string            `json:"cluster,omitempty" yaml:"cluster,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// EffectiveWeight returns the instance weight with the zero value mapped to 1,
// so instances from sources that never set a weight still participate in
// weighted selection.
func (s ServiceInstance) EffectiveWeight() int {
	if s.Weight <= 0 {
		return 1
	}
	return s.Weight
}

// DiscoveryOptions narrows a registry lookup.
type DiscoveryOptions struct {
	NamespaceID string
	GroupName   string
	ClusterName string
	HealthyOnly bool
}

// Registry resolves a logical service name to its callable instances. The
// result is consumed immediately and never cached by the caller.
type Registry interface {
	GetInstances(ctx context.Context, serviceName string, opts DiscoveryOptions) ([]ServiceInstance, error)
}

// CallOptions describes one outbound service call. It is a value type: the
// interceptor pipeline receives a copy and may return a modified copy, the
// original is never mutated.
type CallOptions struct {
	ServiceName string
	Method      string
	Path        string
	Headers     map[string]string
	Query       map[string]string
	Body        any
	Timeout     time.Duration

	Strategy Strategy
	HashKey  string

	Discovery DiscoveryOptions

	Retry *RetryConfig

	EnableCircuitBreaker bool
	Fallback             func() (*CallResponse, error)

	EnableRateLimit bool
	RateLimitKey    string
}

// CallResponse is the outcome of one completed call. It is produced exactly
// once and immutable thereafter. Data holds the body parsed by content type
// (JSON decoded into generic values, anything else kept as a string); Raw is
// the undecoded body for callers that want to bind their own types.
type CallResponse struct {
	Status   int
	Headers  http.Header
	Data     any
	Raw      []byte
	Instance *ServiceInstance
}

// StreamResponse is the outcome of CallStream: the live response body is
// handed to the caller, who owns it and must close it.
type StreamResponse struct {
	Status   int
	Headers  http.Header
	Body     io.ReadCloser
	Instance *ServiceInstance
}

// DecodeData binds a response body to a concrete type. It prefers the raw
// bytes when present and falls back to re-encoding the parsed Data value.
func DecodeData[T any](resp *CallResponse) (T, error) {
	var out T
	if resp == nil {
		return out, fmt.Errorf("sambung: nil response")
	}
	if len(resp.Raw) > 0 {
		if err := json.Unmarshal(resp.Raw, &out); err != nil {
			return out, fmt.Errorf("sambung: decode response: %w", err)
		}
		return out, nil
	}
	encoded, err := json.Marshal(resp.Data)
	if err != nil {
		return out, fmt.Errorf("sambung: encode response data: %w", err)
	}
	if err := json.Unmarshal(encoded, &out); err != nil {
		return out, fmt.Errorf("sambung: decode response: %w", err)
	}
	return out, nil
}

// BreakerConfig configures a circuit breaker. FailureThreshold is the failure
// ratio (0..1] that trips the breaker once at least MinimumRequests outcomes
// fall inside the trailing TimeWindow. TimeWindow doubles as the OPEN
// cool-down before HALF_OPEN probing starts.
type BreakerConfig struct {
	FailureThreshold  float64
	TimeWindow        time.Duration
	MinimumRequests   int
	HalfOpenMaxProbes int
}

// DefaultBreakerConfig returns the breaker defaults used when a zero config
// is supplied.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  0.5,
		TimeWindow:        10 * time.Second,
		MinimumRequests:   10,
		HalfOpenMaxProbes: 1,
	}
}

// LimiterConfig configures rate limiting: RequestsPerWindow admissions per key
// within each TimeWindow.
type LimiterConfig struct {
	RequestsPerWindow int
	TimeWindow        time.Duration
}

// DefaultLimiterConfig returns the rate limiter defaults.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		RequestsPerWindow: 100,
		TimeWindow:        time.Second,
	}
}

// RetryConfig configures retry behavior. Total invocations = 1 + MaxRetries.
// With ExponentialBackoff the wait before retry n is
// min(BaseDelay * 2^n, MaxDelay), otherwise the fixed RetryDelay.
type RetryConfig struct {
	MaxRetries         int
	RetryDelay         time.Duration
	ExponentialBackoff bool
	BaseDelay          time.Duration
	MaxDelay           time.Duration
}

// DefaultRetryConfig returns the retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		RetryDelay: time.Second,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// Option represents a configuration option for Client.
type Option func(*Client)
