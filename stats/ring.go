package stats

import "sync"

// Sample is one metric observation.
type Sample struct {
	Value float64 `json:"value"`
	Ts    int64   `json:"ts"`
}

// Ring is a fixed-capacity sample window. Pushing past capacity overwrites
// the oldest sample. Safe for concurrent use.
type Ring struct {
	sync.RWMutex
	buf  []Sample
	head int
	size int
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{buf: make([]Sample, capacity)}
}

func (r *Ring) Push(s Sample) {
	r.Lock()
	r.buf[r.head] = s
	r.head = (r.head + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
	r.Unlock()
}

func (r *Ring) Len() int {
	r.RLock()
	n := r.size
	r.RUnlock()
	return n
}

func (r *Ring) Cap() int {
	return len(r.buf)
}

// Latest returns the newest sample, false when empty.
func (r *Ring) Latest() (Sample, bool) {
	r.RLock()
	defer r.RUnlock()
	if r.size == 0 {
		return Sample{}, false
	}
	idx := (r.head - 1 + len(r.buf)) % len(r.buf)
	return r.buf[idx], true
}

// Values copies the window values oldest to newest.
func (r *Ring) Values() []float64 {
	r.RLock()
	defer r.RUnlock()
	vals := make([]float64, 0, r.size)
	start := (r.head - r.size + len(r.buf)) % len(r.buf)
	for i := 0; i < r.size; i++ {
		vals = append(vals, r.buf[(start+i)%len(r.buf)].Value)
	}
	return vals
}

// Snapshot copies the window samples oldest to newest.
func (r *Ring) Snapshot() []Sample {
	r.RLock()
	defer r.RUnlock()
	out := make([]Sample, 0, r.size)
	start := (r.head - r.size + len(r.buf)) % len(r.buf)
	for i := 0; i < r.size; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}
