package events

import (
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Subscription is one consumer's view of the bus. C is closed on
// Unsubscribe and on bus Close.
type Subscription struct {
	ID   string
	User string
	C    <-chan Event

	ch chan Event
}

// Bus fans events out to per-subscriber channels, applying the ownership
// filter for each (event, subscriber) pair. Publish never blocks: a
// subscriber that stopped draining loses events rather than stalling the
// publisher.
type Bus struct {
	lookup PathLookup
	owner  OwnerFunc
	logger *slog.Logger
	mirror *JetStreamMirror

	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool
}

// NewBus builds a Bus. lookup and owner may be nil when isolation is
// disabled; every event then reaches every subscriber. The mirror is
// optional.
func NewBus(lookup PathLookup, owner OwnerFunc, mirror *JetStreamMirror, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Bus{
		lookup: lookup,
		owner:  owner,
		logger: logger,
		mirror: mirror,
		subs:   make(map[string]*Subscription),
	}
}

// Subscribe registers a consumer delivering only events visible to the
// given identity. An empty user receives everything when no resolver is
// configured, and only ownerless events otherwise.
func (b *Bus) Subscribe(user string) *Subscription {
	ch := make(chan Event, 64)
	sub := &Subscription{
		ID:   uuid.NewString(),
		User: user,
		C:    ch,
		ch:   ch,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes a consumer and closes its channel. Safe to call
// twice.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Publish delivers the event to every subscriber it belongs to.
func (b *Bus) Publish(evt Event) {
	if b.mirror != nil {
		b.mirror.Publish(evt)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if !BelongsTo(evt, sub.User, b.lookup, b.owner) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.logger.Warn("dropping event for slow subscriber", "subscriber", sub.ID, "kind", evt.Kind)
		}
	}
}

// Close tears down all subscriptions and the mirror.
func (b *Bus) Close() {
	b.mu.Lock()
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
	b.closed = true
	b.mu.Unlock()
	if b.mirror != nil {
		b.mirror.Close()
	}
}
