// Package eventbus is the in-process publish/subscribe hub for detection,
// activity, session, and camera-health events. Publishing never blocks on
// subscriber speed: each subscriber owns a bounded queue and slow consumers
// lose their oldest unread events, with the loss made visible through a
// DroppedEvents marker in the delivered stream.
package eventbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/nvr/internal/models"
	"github.com/your-org/nvr/internal/observability"
)

var (
	ErrBusClosed          = errors.New("eventbus: bus is closed")
	ErrSubscriberExists   = errors.New("eventbus: subscriber already exists")
	ErrSubscriberNotFound = errors.New("eventbus: subscriber not found")
	ErrSubscriptionClosed = errors.New("eventbus: subscription closed")
)

type EventType string

const (
	EventDetection EventType = "detection"
	EventActivity  EventType = "activity"
	EventSession   EventType = "session"
	EventHealth    EventType = "health"
	EventDropped   EventType = "dropped" // gap marker, synthesized per subscriber
)

// Event is the envelope published on the bus. Exactly one payload field
// is set, matching Type. Seq is assigned by the bus at publish time and
// is strictly increasing across all events.
type Event struct {
	Seq       uint64                   `json:"seq"`
	Type      EventType                `json:"type"`
	CameraID  uuid.UUID                `json:"camera_id,omitempty"`
	Timestamp time.Time                `json:"timestamp"`
	Detection *models.Detection        `json:"detection,omitempty"`
	Activity  *models.ActivityEvent    `json:"activity,omitempty"`
	Session   *models.RecordingSession `json:"session,omitempty"`
	Health    *models.CameraHealth     `json:"health,omitempty"`
	Dropped   uint64                   `json:"dropped,omitempty"` // count for EventDropped markers
}

// Subscription is one subscriber's bounded event queue. Events are
// delivered in publish order; when the queue overflows, the oldest
// unread events are replaced by a single coalescing DroppedEvents marker
// at the front of the queue.
type Subscription struct {
	id       string
	capacity int

	mu     sync.Mutex
	queue  []Event
	closed bool
	notify chan struct{}

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// push appends an event, evicting the oldest entries if the queue is
// full. Called with the bus lock held; never blocks.
func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	if len(s.queue) >= s.capacity {
		switch {
		case s.queue[0].Type == EventDropped && s.capacity >= 2:
			// Marker already at the front: drop the oldest real event.
			s.queue[0].Dropped++
			copy(s.queue[1:], s.queue[2:])
			s.queue = s.queue[:len(s.queue)-1]
			s.dropped.Add(1)
			observability.EventsDropped.Add(1)
		case s.capacity >= 2:
			// Drop the two oldest events so both the marker and the
			// incoming event fit.
			copy(s.queue[1:], s.queue[2:])
			s.queue[0] = Event{Type: EventDropped, Timestamp: ev.Timestamp, Dropped: 2}
			s.queue = s.queue[:len(s.queue)-1]
			s.dropped.Add(2)
			observability.EventsDropped.Add(2)
		default:
			// Degenerate capacity 1: the queue collapses to a marker and
			// the incoming event is dropped as well.
			var lost uint64 = 1
			if s.queue[0].Type != EventDropped {
				lost = 2
				s.queue[0] = Event{Type: EventDropped, Timestamp: ev.Timestamp}
			}
			s.queue[0].Dropped += lost
			s.dropped.Add(lost)
			observability.EventsDropped.Add(float64(lost))
			s.mu.Unlock()
			s.wake()
			return
		}
	}

	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until an event is available or ctx is cancelled. Returned
// events preserve publish order; a DroppedEvents marker stands in for
// the events lost since the previous delivery.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			copy(s.queue, s.queue[1:])
			s.queue = s.queue[:len(s.queue)-1]
			s.mu.Unlock()
			s.delivered.Add(1)
			return ev, nil
		}
		if s.closed {
			s.mu.Unlock()
			return Event{}, ErrSubscriptionClosed
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-s.notify:
		}
	}
}

// TryNext returns the next event without blocking.
func (s *Subscription) TryNext() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Event{}, false
	}
	ev := s.queue[0]
	copy(s.queue, s.queue[1:])
	s.queue = s.queue[:len(s.queue)-1]
	s.delivered.Add(1)
	return ev, true
}

// Stats returns delivered and dropped counts for this subscription.
func (s *Subscription) Stats() (delivered, dropped uint64) {
	return s.delivered.Load(), s.dropped.Load()
}

func (s *Subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
	s.wake()
}

// Bus fans events out to any number of subscribers.
type Bus struct {
	defaultCapacity int

	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool

	seq       atomic.Uint64
	published atomic.Uint64
}

// New creates a bus. defaultCapacity bounds each subscriber queue unless
// overridden at subscribe time.
func New(defaultCapacity int) *Bus {
	if defaultCapacity <= 0 {
		defaultCapacity = 256
	}
	return &Bus{
		defaultCapacity: defaultCapacity,
		subs:            make(map[string]*Subscription),
	}
}

// Subscribe registers a subscriber with the given queue capacity
// (0 means the bus default). Only events published after this call are
// delivered; there is no replay.
func (b *Bus) Subscribe(id string, capacity int) (*Subscription, error) {
	if capacity <= 0 {
		capacity = b.defaultCapacity
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	if _, exists := b.subs[id]; exists {
		return nil, ErrSubscriberExists
	}

	sub := &Subscription{
		id:       id,
		capacity: capacity,
		queue:    make([]Event, 0, capacity),
		notify:   make(chan struct{}, 1),
	}
	b.subs[id] = sub
	return sub, nil
}

// Unsubscribe removes a subscriber and discards its queued events.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	sub, exists := b.subs[id]
	if exists {
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if !exists {
		return ErrSubscriberNotFound
	}
	sub.close()
	return nil
}

// Publish assigns a sequence number and fans the event out. Never blocks
// on subscriber speed; a full subscriber queue affects only that
// subscriber. Assignment and fan-out happen under one lock so every
// subscriber sees events in seq order; push never blocks, so publishers
// contend only with each other.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	ev.Seq = b.seq.Add(1)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	b.published.Add(1)
	observability.EventsPublished.WithLabelValues(string(ev.Type)).Inc()

	for _, sub := range b.subs {
		sub.push(ev)
	}
}

// Published returns the total number of events published.
func (b *Bus) Published() uint64 {
	return b.published.Load()
}

// Subscribers returns the number of registered subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close shuts down the bus and all subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, sub := range b.subs {
		sub.close()
	}
	b.subs = nil
}
