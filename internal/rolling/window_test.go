package rolling

import (
	"testing"
	"time"
)

func TestWindowCounts(t *testing.T) {
	w := NewWindow()
	now := time.Now()

	total, failures := w.Counts()
	if total != 0 || failures != 0 {
		t.Errorf("Expected empty window, got total=%d failures=%d", total, failures)
	}

	w.Add(now, false)
	w.Add(now.Add(time.Millisecond), true)
	w.Add(now.Add(2*time.Millisecond), true)

	total, failures = w.Counts()
	if total != 3 {
		t.Errorf("Expected total=3, got %d", total)
	}
	if failures != 2 {
		t.Errorf("Expected failures=2, got %d", failures)
	}
}

func TestWindowPrune(t *testing.T) {
	w := NewWindow()
	base := time.Now()

	w.Add(base, true)
	w.Add(base.Add(10*time.Millisecond), false)
	w.Add(base.Add(20*time.Millisecond), true)

	// Drop everything strictly older than base+10ms
	w.Prune(base.Add(10 * time.Millisecond))

	total, failures := w.Counts()
	if total != 2 {
		t.Errorf("Expected total=2 after prune, got %d", total)
	}
	if failures != 1 {
		t.Errorf("Expected failures=1 after prune, got %d", failures)
	}
}

func TestWindowPruneNothing(t *testing.T) {
	w := NewWindow()
	base := time.Now()

	w.Add(base, false)
	w.Prune(base.Add(-time.Second))

	if total, _ := w.Counts(); total != 1 {
		t.Errorf("Expected total=1, got %d", total)
	}
}

func TestWindowPruneAll(t *testing.T) {
	w := NewWindow()
	base := time.Now()

	w.Add(base, true)
	w.Add(base.Add(time.Millisecond), true)
	w.Prune(base.Add(time.Second))

	if total, _ := w.Counts(); total != 0 {
		t.Errorf("Expected total=0 after pruning all, got %d", total)
	}
}

func TestWindowReset(t *testing.T) {
	w := NewWindow()
	w.Add(time.Now(), true)
	w.Add(time.Now(), false)

	w.Reset()

	total, failures := w.Counts()
	if total != 0 || failures != 0 {
		t.Errorf("Expected empty window after reset, got total=%d failures=%d", total, failures)
	}

	// Reusable after reset
	w.Add(time.Now(), true)
	if total, _ := w.Counts(); total != 1 {
		t.Errorf("Expected total=1 after reuse, got %d", total)
	}
}
