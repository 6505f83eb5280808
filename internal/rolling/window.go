// Package rolling provides the time-ordered sample structures backing
// failure-ratio evaluation and call-history aggregation.
package rolling

import "time"

// Outcome is one timestamped success/failure sample.
type Outcome struct {
	At      time.Time
	Failure bool
}

// Window is an append-only list of outcomes ordered by time, pruned against a
// trailing cutoff. It is not safe for concurrent use; callers hold their own
// lock.
type Window struct {
	outcomes []Outcome
}

// NewWindow creates an empty window.
func NewWindow() *Window {
	return &Window{}
}

// Add appends an outcome. Samples are expected in non-decreasing time order.
func (w *Window) Add(at time.Time, failure bool) {
	w.outcomes = append(w.outcomes, Outcome{At: at, Failure: failure})
}

// Prune drops all outcomes strictly older than cutoff.
func (w *Window) Prune(cutoff time.Time) {
	i := 0
	for i < len(w.outcomes) && w.outcomes[i].At.Before(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	remaining := len(w.outcomes) - i
	copy(w.outcomes, w.outcomes[i:])
	w.outcomes = w.outcomes[:remaining]
}

// Counts returns the total and failure sample counts currently held.
func (w *Window) Counts() (total, failures int) {
	total = len(w.outcomes)
	for _, o := range w.outcomes {
		if o.Failure {
			failures++
		}
	}
	return total, failures
}

// Reset discards every sample.
func (w *Window) Reset() {
	w.outcomes = w.outcomes[:0]
}
