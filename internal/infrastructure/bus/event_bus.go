package bus

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"voxrelay/internal/core/domain"
	"voxrelay/pkg/utils"
)

// Subscription is one downstream consumer's view of the bus. Events matching
// the subscription's filters are delivered on Events(); when the buffer is
// full events are dropped and Overflow() is signalled.
type Subscription struct {
	id       string
	room     domain.RoomID
	peer     domain.PeerID
	producer domain.ProducerID

	ch       chan *domain.Event
	overflow chan struct{}
	dropped  atomic.Int64
}

// ID returns the subscription identifier.
func (s *Subscription) ID() string { return s.id }

// Room returns the room this subscription listens to.
func (s *Subscription) Room() domain.RoomID { return s.room }

// Events returns the delivery channel. It is closed when the subscription
// is removed from the bus.
func (s *Subscription) Events() <-chan *domain.Event { return s.ch }

// Overflow is signalled at most once per drop burst. Consumers that care
// about lossless delivery should treat a signal as falling too far behind.
func (s *Subscription) Overflow() <-chan struct{} { return s.overflow }

// Dropped returns the number of events discarded because the buffer was full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

func (s *Subscription) matches(event *domain.Event) bool {
	if event.RoomID != s.room {
		return false
	}
	if s.peer != "" && event.PeerID != s.peer {
		return false
	}
	if s.producer != "" && event.ProducerID != s.producer {
		return false
	}
	return true
}

// EventBus fans relay events out to downstream subscriptions. Delivery is
// non-blocking: a subscription whose buffer is full loses the event rather
// than stalling the publisher.
type EventBus struct {
	logger *zap.Logger

	mu     sync.RWMutex
	rooms  map[domain.RoomID]map[string]*Subscription
	closed bool

	published atomic.Int64
}

// NewEventBus creates an empty bus.
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		rooms:  make(map[domain.RoomID]map[string]*Subscription),
	}
}

// Subscribe registers a consumer for events in room. Empty peer or producer
// filters match any value. The buffer size bounds how far the consumer may
// fall behind before events are dropped.
func (b *EventBus) Subscribe(room domain.RoomID, peer domain.PeerID, producer domain.ProducerID, buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}

	s := &Subscription{
		id:       utils.GenerateSessionID(),
		room:     room,
		peer:     peer,
		producer: producer,
		ch:       make(chan *domain.Event, buffer),
		overflow: make(chan struct{}, 1),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(s.ch)
		return s
	}

	subs, ok := b.rooms[room]
	if !ok {
		subs = make(map[string]*Subscription)
		b.rooms[room] = subs
	}
	subs[s.id] = s

	b.logger.Debug("subscription registered",
		zap.String("subscription_id", s.id),
		zap.String("room_id", string(room)))

	return s
}

// Unsubscribe removes the subscription and closes its channel. It is safe to
// call more than once. No delivery can race the close: publishers hold the
// read lock while sending and the channel is closed under the write lock.
func (b *EventBus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.rooms[sub.room]
	if !ok {
		return
	}
	if _, ok := subs[sub.id]; !ok {
		return
	}

	delete(subs, sub.id)
	if len(subs) == 0 {
		delete(b.rooms, sub.room)
	}
	close(sub.ch)

	b.logger.Debug("subscription removed",
		zap.String("subscription_id", sub.id),
		zap.String("room_id", string(sub.room)),
		zap.Int64("dropped", sub.Dropped()))
}

// Publish delivers event to every matching subscription and returns how many
// received it. Full subscriptions drop the event and record the loss.
func (b *EventBus) Publish(event *domain.Event) int {
	if event == nil {
		return 0
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0
	}

	delivered := 0
	for _, sub := range b.rooms[event.RoomID] {
		if !sub.matches(event) {
			continue
		}

		select {
		case sub.ch <- event:
			delivered++
		default:
			sub.dropped.Add(1)
			select {
			case sub.overflow <- struct{}{}:
			default:
			}
		}
	}

	b.published.Add(1)
	return delivered
}

// SessionCount returns the number of active subscriptions.
func (b *EventBus) SessionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, subs := range b.rooms {
		n += len(subs)
	}
	return n
}

// RoomSessionCount returns the number of subscriptions for one room.
func (b *EventBus) RoomSessionCount(room domain.RoomID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[room])
}

// Published returns the total number of events published since start.
func (b *EventBus) Published() int64 {
	return b.published.Load()
}

// Close removes all subscriptions and rejects further publishes.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for room, subs := range b.rooms {
		for id, sub := range subs {
			close(sub.ch)
			delete(subs, id)
		}
		delete(b.rooms, room)
	}
}
