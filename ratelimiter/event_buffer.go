/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package ratelimiter

import "sync"

// EventBuffer keeps the latest events in a fixed-size ring.
// Its Consume method may be used as an EventConsumer.
type EventBuffer struct {
	mu     sync.RWMutex
	events []Event
	next   int
	full   bool
}

// NewEventBuffer creates a new EventBuffer that keeps up to size events.
// Size should be positive.
func NewEventBuffer(size int) *EventBuffer {
	if size <= 0 {
		size = 1
	}
	return &EventBuffer{events: make([]Event, size)}
}

// Consume stores the event evicting the oldest one if the buffer is full.
func (b *EventBuffer) Consume(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[b.next] = e
	b.next = (b.next + 1) % len(b.events)
	if b.next == 0 {
		b.full = true
	}
}

// Events returns buffered events from the oldest to the newest.
func (b *EventBuffer) Events() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.full {
		return append([]Event(nil), b.events[:b.next]...)
	}
	res := make([]Event, 0, len(b.events))
	res = append(res, b.events[b.next:]...)
	return append(res, b.events[:b.next]...)
}

// Len returns the number of buffered events.
func (b *EventBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.full {
		return len(b.events)
	}
	return b.next
}

// Cap returns the maximum number of buffered events.
func (b *EventBuffer) Cap() int {
	return len(b.events)
}
