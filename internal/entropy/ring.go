// Package entropy holds the bounded buffer of reconstructed share hashes
// waiting to be handed to downstream consumers.
package entropy

import (
	"sync"
)

// HashSize is the width of every buffered digest.
const HashSize = 32

// DefaultCapacity bounds the ring when no size is configured.
const DefaultCapacity = 1000

// Ring is a fixed-capacity FIFO of 32-byte hashes. When full, pushing a new
// hash evicts the oldest one. Each hash is delivered to at most one Pop.
type Ring struct {
	mu       sync.Mutex
	buf      [][HashSize]byte
	head     int
	size     int
	dropped  uint64
	received uint64
}

// NewRing creates a ring holding at most capacity hashes.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{buf: make([][HashSize]byte, capacity)}
}

// Push appends h, evicting the oldest entry when the ring is full.
func (r *Ring) Push(h [HashSize]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.received++
	tail := (r.head + r.size) % len(r.buf)
	r.buf[tail] = h
	if r.size == len(r.buf) {
		r.head = (r.head + 1) % len(r.buf)
		r.dropped++
		return
	}
	r.size++
}

// Pop removes and returns up to n hashes, oldest first.
func (r *Ring) Pop(n int) [][HashSize]byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n > r.size {
		n = r.size
	}
	if n <= 0 {
		return nil
	}

	out := make([][HashSize]byte, n)
	for i := 0; i < n; i++ {
		out[i] = r.buf[r.head]
		r.head = (r.head + 1) % len(r.buf)
	}
	r.size -= n
	return out
}

// PopBytes drains up to n hashes and concatenates them.
func (r *Ring) PopBytes(n int) []byte {
	hashes := r.Pop(n)
	out := make([]byte, 0, len(hashes)*HashSize)
	for _, h := range hashes {
		out = append(out, h[:]...)
	}
	return out
}

// Len reports how many hashes are buffered.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap reports the ring capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Stats reports the lifetime push count and how many were evicted unread.
func (r *Ring) Stats() (received, dropped uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.received, r.dropped
}

// Drain removes and returns everything buffered.
func (r *Ring) Drain() [][HashSize]byte {
	return r.Pop(r.Cap())
}
