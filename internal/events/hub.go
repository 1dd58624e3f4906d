package events

import (
	"context"
	"sync"
)

const subscriberBuffer = 16

// Hub fans events out to in-process subscribers of one transaction. It is
// fed by a Source (redis or kafka) or directly as a Publisher on single-node
// runs.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]chan *Event
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]chan *Event)}
}

// Subscribe returns a channel of events for transactionID and a cancel func
// that must be called to release it.
func (h *Hub) Subscribe(transactionID string) (<-chan *Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	ch := make(chan *Event, subscriberBuffer)
	if h.subs[transactionID] == nil {
		h.subs[transactionID] = make(map[int]chan *Event)
	}
	h.subs[transactionID][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.subs[transactionID]; ok {
				delete(set, id)
				if len(set) == 0 {
					delete(h.subs, transactionID)
				}
			}
			close(ch)
		})
	}
	return ch, cancel
}

// Dispatch delivers ev to the transaction's subscribers. Slow subscribers
// drop events rather than block the source.
func (h *Hub) Dispatch(ev *Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs[ev.TransactionID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *Hub) Publish(_ context.Context, ev *Event) error {
	h.Dispatch(ev)
	return nil
}

func (h *Hub) Subscribers(transactionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[transactionID])
}
