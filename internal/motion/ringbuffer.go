package motion

import (
	"sync"
	"time"
)

// EventKind classifies a delivered event.
type EventKind string

const (
	KindMotion EventKind = "motion"
	KindRing   EventKind = "ring"
)

// Event is one normalized motion or ring event delivered by the service.
type Event struct {
	ID     string            `json:"id"`
	Camera string            `json:"camera"`
	Kind   EventKind         `json:"kind"`
	Topic  string            `json:"topic"`
	State  string            `json:"state,omitempty"`
	Data   map[string]string `json:"data,omitempty"`
	Time   time.Time         `json:"time"`
}

// ringBuffer keeps the most recent events in a fixed-capacity ring. When
// full, the oldest entry is overwritten.
type ringBuffer struct {
	mu       sync.RWMutex
	events   []Event
	head     int
	tail     int
	count    int
	capacity int
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity <= 0 {
		capacity = 100
	}
	return &ringBuffer{
		events:   make([]Event, capacity),
		capacity: capacity,
	}
}

// add appends an event, overwriting the oldest when full.
func (b *ringBuffer) add(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[b.head] = ev
	b.head = (b.head + 1) % b.capacity

	if b.count < b.capacity {
		b.count++
	} else {
		b.tail = (b.tail + 1) % b.capacity
	}
}

// recent returns up to limit events, newest first. A camera filter of ""
// matches all cameras; limit <= 0 means no limit.
func (b *ringBuffer) recent(cameraName string, limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.count == 0 {
		return nil
	}

	var out []Event
	idx := (b.head - 1 + b.capacity) % b.capacity
	for i := 0; i < b.count; i++ {
		ev := b.events[idx]
		if cameraName == "" || ev.Camera == cameraName {
			out = append(out, ev)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		idx = (idx - 1 + b.capacity) % b.capacity
	}
	return out
}

// size returns the number of buffered events.
func (b *ringBuffer) size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}
