package sambung

import "github.com/google/uuid"

// DebugConfig controls per-call diagnostic logging. Categories can be toggled
// individually so noisy concerns (retries, rate limiting) can be silenced
// without losing call-level visibility.
type DebugConfig struct {
	Enabled      bool
	LogCalls     bool
	LogRetries   bool
	LogRateLimit bool
	LogCircuit   bool
	CallIDGen    func() string
}

// DefaultDebugConfig returns a DebugConfig with every category enabled but
// debug output itself switched off until WithDebug turns it on.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		Enabled:      false,
		LogCalls:     true,
		LogRetries:   true,
		LogRateLimit: true,
		LogCircuit:   true,
		CallIDGen:    generateCallID,
	}
}

// generateCallID returns a short random identifier for correlating the log
// lines of one call.
func generateCallID() string {
	return uuid.NewString()[:8]
}
