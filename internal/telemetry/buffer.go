package telemetry

import (
	"sort"
	"sync"

	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/frame"
)

// Buffer accumulates validated envelopes between drain ticks. When full,
// the oldest arrival is evicted.
type Buffer struct {
	mu       sync.Mutex
	items    []*frame.Envelope
	capacity int
	onEvict  func(*frame.Envelope)
}

// NewBuffer creates a buffer holding at most capacity envelopes. onEvict,
// if non-nil, is called for every evicted envelope with the lock held.
func NewBuffer(capacity int, onEvict func(*frame.Envelope)) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{
		items:    make([]*frame.Envelope, 0, capacity),
		capacity: capacity,
		onEvict:  onEvict,
	}
}

// Add appends env in arrival order.
func (b *Buffer) Add(env *frame.Envelope) {
	if env == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) >= b.capacity {
		evicted := b.items[0]
		b.items[0] = nil
		b.items = b.items[1:]
		if b.onEvict != nil {
			b.onEvict(evicted)
		}
	}
	b.items = append(b.items, env)
}

// Drain removes and returns every buffered envelope ordered by timestampUtc.
// Equal timestamps keep their arrival order.
func (b *Buffer) Drain() []*frame.Envelope {
	b.mu.Lock()
	out := b.items
	b.items = make([]*frame.Envelope, 0, b.capacity)
	b.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TimestampUTC < out[j].TimestampUTC
	})
	return out
}

// Len returns the number of buffered envelopes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Capacity returns the buffer capacity.
func (b *Buffer) Capacity() int {
	return b.capacity
}
