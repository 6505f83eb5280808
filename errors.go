package sambung

import (
	"errors"
	"fmt"
	"time"
)

// Error type tags carried by CallError.
const (
	ErrorTypeNoInstances     = "NoInstances"
	ErrorTypeSelectionFailed = "SelectionFailed"
	ErrorTypeCallFailed      = "CallFailed"
	ErrorTypeNetwork         = "Network"
	ErrorTypeRateLimited     = "RateLimited"
	ErrorTypeCircuitOpen     = "CircuitOpen"
	ErrorTypeValidation      = "Validation"
)

// Sentinel errors for common failure scenarios
var (
	// ErrNoInstances is returned when the registry resolves a service to an empty list
	ErrNoInstances = errors.New("sambung: no instances available")

	// ErrSelectionFailed is returned when the load balancer yields no instance
	ErrSelectionFailed = errors.New("sambung: instance selection failed")

	// ErrRateLimited is returned when a call is denied by rate limiting
	ErrRateLimited = errors.New("sambung: rate limited")

	// ErrCircuitOpen is returned when the circuit breaker short-circuits with no fallback
	ErrCircuitOpen = errors.New("sambung: circuit open")
)

// CallError is the single tagged error surfaced by this package. Type carries
// the taxonomy tag, StatusCode/Body the parsed upstream response for failed
// calls, and Instance the endpoint that was targeted when one had been
// selected.
type CallError struct {
	Type       string
	Message    string
	Cause      error
	Service    string
	Method     string
	URL        string
	StatusCode int
	Body       any
	Instance   *ServiceInstance
	Attempt    int
	Timestamp  time.Time
	Duration   time.Duration
}

// Error implements error interface.
func (e *CallError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.Service != "" {
		msg = fmt.Sprintf("%s [service=%s]", msg, e.Service)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *CallError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is. A CallError matches another
// CallError with the same Type, and matches the package sentinel that
// corresponds to its Type.
func (e *CallError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*CallError); ok {
		return e.Type == targetErr.Type
	}
	switch {
	case target == ErrNoInstances:
		return e.Type == ErrorTypeNoInstances
	case target == ErrSelectionFailed:
		return e.Type == ErrorTypeSelectionFailed
	case target == ErrRateLimited:
		return e.Type == ErrorTypeRateLimited
	case target == ErrCircuitOpen:
		return e.Type == ErrorTypeCircuitOpen
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *CallError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.Service != "" {
		info += fmt.Sprintf("Service: %s\n", e.Service)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.Instance != nil {
		info += fmt.Sprintf("Instance: %s\n", e.Instance.Address)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if e.Body != nil {
		info += fmt.Sprintf("Body: %v\n", e.Body)
	}
	if e.Attempt > 0 {
		info += fmt.Sprintf("Attempt: %d\n", e.Attempt)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

// IsTransient determines if an error represents a transient failure that might
// succeed on retry. Network failures, 5xx responses and rate limiting are
// transient; client errors (except 429), empty registries and selection
// failures are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrCircuitOpen) {
		return true
	}

	var callErr *CallError
	if errors.As(err, &callErr) {
		switch callErr.Type {
		case ErrorTypeNetwork, ErrorTypeRateLimited, ErrorTypeCircuitOpen:
			return true
		case ErrorTypeCallFailed:
			return callErr.StatusCode >= 500 || callErr.StatusCode == 429
		default:
			return false
		}
	}

	return false
}
