package rolling

import "time"

// Record is one completed call observation.
type Record struct {
	At      time.Time
	Success bool
	Latency time.Duration
}

// Ring is a bounded record buffer that evicts the oldest entry on overflow.
// It is not safe for concurrent use; callers hold their own lock.
type Ring struct {
	buf   []Record
	start int
	size  int
}

// NewRing creates a ring holding at most capacity records.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{buf: make([]Record, capacity)}
}

// Push appends a record, evicting the oldest when full.
func (r *Ring) Push(rec Record) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = rec
		r.size++
		return
	}
	r.buf[r.start] = rec
	r.start = (r.start + 1) % len(r.buf)
}

// Len returns the number of records currently held.
func (r *Ring) Len() int {
	return r.size
}

// Do calls fn for each record from oldest to newest.
func (r *Ring) Do(fn func(Record)) {
	for i := 0; i < r.size; i++ {
		fn(r.buf[(r.start+i)%len(r.buf)])
	}
}

// Reset discards every record.
func (r *Ring) Reset() {
	r.start = 0
	r.size = 0
}
