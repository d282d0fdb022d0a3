package security

import (
	"sync"

	audit "stealth/pkg/platform/audit"
)

// ringBuffer is a bounded FIFO of security events. When full, the oldest
// event is overwritten.
type ringBuffer struct {
	mu      sync.Mutex
	events  []audit.SecurityEvent
	start   int
	size    int
	dropped int64
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity <= 0 {
		capacity = 1024
	}
	return &ringBuffer{events: make([]audit.SecurityEvent, capacity)}
}

// push appends event and reports whether an older event was evicted.
func (b *ringBuffer) push(event audit.SecurityEvent) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.events)
	if b.size == capacity {
		b.events[b.start] = event
		b.start = (b.start + 1) % capacity
		b.dropped++
		return true
	}
	b.events[(b.start+b.size)%capacity] = event
	b.size++
	return false
}

// take removes up to n events, oldest first.
func (b *ringBuffer) take(n int) []audit.SecurityEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	n = min(n, b.size)
	if n == 0 {
		return nil
	}
	out := make([]audit.SecurityEvent, n)
	for i := range out {
		out[i] = b.events[(b.start+i)%len(b.events)]
		b.events[(b.start+i)%len(b.events)] = audit.SecurityEvent{}
	}
	b.start = (b.start + n) % len(b.events)
	b.size -= n
	return out
}

func (b *ringBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func (b *ringBuffer) droppedCount() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
