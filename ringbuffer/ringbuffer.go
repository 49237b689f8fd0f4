// Package ringbuffer provides a fixed-capacity circular history of float64
// samples with O(1) push and O(1) moving-average maintenance.
//
// It backs the adaptive controllers in the codec and denoise packages, which
// keep rolling quality and bitrate histories of bounded size. A running sum is
// maintained alongside the buffer so that the moving average never requires a
// full scan.
package ringbuffer

import "sync"

// Ring is a fixed-capacity circular buffer of float64 values.
// It is safe for concurrent use.
type Ring struct {
	mu    sync.Mutex
	buf   []float64
	head  int // next write position
	count int // number of valid entries (<= cap)
	sum   float64
}

// New creates a ring with the given capacity.
// A capacity below 1 is treated as 1.
func New(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		buf: make([]float64, capacity),
	}
}

// Push appends a value, overwriting the oldest entry when full.
func (r *Ring) Push(v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == len(r.buf) {
		r.sum -= r.buf[r.head]
	} else {
		r.count++
	}
	r.buf[r.head] = v
	r.sum += v
	r.head = (r.head + 1) % len(r.buf)
}

// Mean returns the arithmetic mean of the stored values, or 0 when empty.
func (r *Ring) Mean() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return 0
	}
	return r.sum / float64(r.count)
}

// Len returns the number of valid entries currently stored.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the fixed capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Full reports whether the ring has wrapped at least once.
func (r *Ring) Full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count == len(r.buf)
}

// Last returns the most recently pushed value, or 0 when empty.
func (r *Ring) Last() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return 0
	}
	idx := (r.head - 1 + len(r.buf)) % len(r.buf)
	return r.buf[idx]
}

// Snapshot returns a copy of the stored values in oldest-to-newest order.
func (r *Ring) Snapshot() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]float64, r.count)
	start := (r.head - r.count + len(r.buf)) % len(r.buf)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

// Reset discards all stored values while keeping the capacity.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.head = 0
	r.count = 0
	r.sum = 0
}
