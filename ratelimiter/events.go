/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package ratelimiter

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/acronis/go-ratelimiter/log"
)

// EventType is a type of the rate limiter event.
type EventType int

// Event types.
const (
	EventTypeSuccessfulAcquire EventType = iota
	EventTypeFailedAcquire
)

// String returns a string representation of the event type.
// Implements fmt.Stringer interface.
func (t EventType) String() string {
	switch t {
	case EventTypeSuccessfulAcquire:
		return "SUCCESSFUL_ACQUIRE"
	case EventTypeFailedAcquire:
		return "FAILED_ACQUIRE"
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// MarshalText implements the encoding.TextMarshaler interface.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (t *EventType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "SUCCESSFUL_ACQUIRE":
		*t = EventTypeSuccessfulAcquire
	case "FAILED_ACQUIRE":
		*t = EventTypeFailedAcquire
	default:
		return fmt.Errorf("unknown rate limiter event type %q", text)
	}
	return nil
}

// Event describes the outcome of one acquisition or reservation.
type Event struct {
	Type            EventType `json:"type"`
	RateLimiterName string    `json:"rateLimiterName"`
	CreationTime    time.Time `json:"creationTime"`
	NumberOfPermits int       `json:"numberOfPermits"`
}

// EventConsumer is a function that is called for every event delivered to the subscription.
type EventConsumer func(e Event)

// EventPublisher delivers rate limiter events to subscribers.
//
// Publishing never blocks: every subscription has its own bounded queue drained by its own goroutine.
// Events of one subscription are delivered in the order they were published.
// If the queue is full, the event is dropped for this subscription.
type EventPublisher struct {
	queueSize int
	logger    log.FieldLogger

	mu          sync.Mutex // serializes subscribe/unsubscribe only
	subscribers atomic.Pointer[[]*Subscription]
	dropped     atomic.Int64
}

func newEventPublisher(queueSize int, logger log.FieldLogger) *EventPublisher {
	p := &EventPublisher{queueSize: queueSize, logger: logger}
	p.subscribers.Store(&[]*Subscription{})
	return p
}

// Subscribe registers a consumer for all events.
func (p *EventPublisher) Subscribe(consumer EventConsumer) *Subscription {
	return p.subscribe(consumer, nil)
}

// OnSuccess registers a consumer for EventTypeSuccessfulAcquire events.
func (p *EventPublisher) OnSuccess(consumer EventConsumer) *Subscription {
	return p.subscribe(consumer, func(e Event) bool { return e.Type == EventTypeSuccessfulAcquire })
}

// OnFailure registers a consumer for EventTypeFailedAcquire events.
func (p *EventPublisher) OnFailure(consumer EventConsumer) *Subscription {
	return p.subscribe(consumer, func(e Event) bool { return e.Type == EventTypeFailedAcquire })
}

// SubscribersCount returns the number of active subscriptions.
func (p *EventPublisher) SubscribersCount() int {
	return len(*p.subscribers.Load())
}

// DroppedEvents returns the total number of events dropped because of full subscriber queues.
func (p *EventPublisher) DroppedEvents() int64 {
	return p.dropped.Load()
}

func (p *EventPublisher) subscribe(consumer EventConsumer, filter func(e Event) bool) *Subscription {
	s := &Subscription{
		publisher: p,
		consumer:  consumer,
		filter:    filter,
		queue:     make(chan Event, p.queueSize),
		done:      make(chan struct{}),
	}

	p.mu.Lock()
	prev := *p.subscribers.Load()
	next := make([]*Subscription, 0, len(prev)+1)
	next = append(next, prev...)
	next = append(next, s)
	p.subscribers.Store(&next)
	p.mu.Unlock()

	go s.run()
	return s
}

func (p *EventPublisher) remove(s *Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := *p.subscribers.Load()
	next := make([]*Subscription, 0, len(prev))
	for _, sub := range prev {
		if sub != s {
			next = append(next, sub)
		}
	}
	p.subscribers.Store(&next)
}

// close cancels all subscriptions.
func (p *EventPublisher) close() {
	for _, s := range *p.subscribers.Load() {
		s.Unsubscribe()
	}
}

func (p *EventPublisher) publish(eventType EventType, rateLimiterName string, permits int) {
	subs := *p.subscribers.Load()
	if len(subs) == 0 {
		return
	}
	e := Event{Type: eventType, RateLimiterName: rateLimiterName, CreationTime: time.Now(), NumberOfPermits: permits}
	for _, s := range subs {
		s.offer(e)
	}
}

// Subscription is a registered event consumer.
type Subscription struct {
	publisher *EventPublisher
	consumer  EventConsumer
	filter    func(e Event) bool
	queue     chan Event
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64
}

// Unsubscribe stops delivering events to the consumer. Events still in the queue may be discarded.
// It doesn't wait for the consumer to return, so it may be called from the consumer itself.
func (s *Subscription) Unsubscribe() {
	s.closeOnce.Do(func() {
		s.publisher.remove(s)
		close(s.done)
	})
}

// DroppedEvents returns the number of events dropped for this subscription because its queue was full.
func (s *Subscription) DroppedEvents() int64 {
	return s.dropped.Load()
}

func (s *Subscription) offer(e Event) {
	if s.filter != nil && !s.filter(e) {
		return
	}
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.queue <- e:
	default:
		s.dropped.Inc()
		s.publisher.dropped.Inc()
	}
}

func (s *Subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case e := <-s.queue:
			s.deliver(e)
		}
	}
}

func (s *Subscription) deliver(e Event) {
	defer func() {
		if p := recover(); p != nil {
			s.publisher.logger.Error("rate limiter event consumer panicked",
				log.String("rate_limiter", e.RateLimiterName),
				log.String("event_type", e.Type.String()),
				log.String("panic", fmt.Sprint(p)),
			)
		}
	}()
	s.consumer(e)
}
