package events

import "sync"

// Event is a named, payload-less change notification. Subscribers must
// re-read the relevant records rather than trust anything carried here.
type Event string

const (
	// LedgerChanged fires after a transaction is recorded or patched.
	LedgerChanged Event = "ledger_changed"
	// AssetsChanged fires after a user's cash or holdings mutate.
	AssetsChanged Event = "assets_changed"
	// OrdersChanged fires after a limit order is placed or transitions.
	OrdersChanged Event = "orders_changed"
	// TickerUpdated fires after a successful price feed poll.
	TickerUpdated Event = "ticker_updated"
)

// Bus is a broadcast publish/subscribe mechanism for domain events.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber channel with the given buffer.
func (b *Bus) Subscribe(buffer int) chan Event {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish delivers the event to every subscriber. A subscriber with a full
// buffer misses the event; it will re-read state on the next one it sees.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
