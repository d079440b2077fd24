// Package hub fans stream messages out to live subscribers. Delivery is best
// effort: a message reaches the subscribers registered when it is published,
// and a subscriber that cannot keep up is dropped rather than waited for.
package hub

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Subscription is one registered sink. C is closed when the subscriber is
// removed, either by Unsubscribe, by eviction or by Close.
type Subscription struct {
	ID string
	C  <-chan []byte

	ch chan []byte
}

type Hub struct {
	buffer int
	logger *log.Logger

	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool

	published atomic.Uint64
	delivered atomic.Uint64
	evicted   atomic.Uint64
}

type Stats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Delivered   uint64 `json:"delivered"`
	Evicted     uint64 `json:"evicted"`
}

func New(buffer int, logger *log.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{buffer: buffer, logger: logger, subs: map[string]*Subscription{}}
}

func (h *Hub) Subscribe() *Subscription {
	ch := make(chan []byte, h.buffer)
	sub := &Subscription{ID: uuid.NewString(), C: ch, ch: ch}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return sub
	}
	h.subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes id. Unknown or already removed ids are ignored.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// Publish encodes msg once and enqueues it for every subscriber without
// blocking. Subscribers whose buffer is full are evicted.
func (h *Hub) Publish(msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("hub: encode: %w", err)
	}
	h.published.Add(1)

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		select {
		case sub.ch <- b:
			h.delivered.Add(1)
		default:
			delete(h.subs, id)
			close(sub.ch)
			h.evicted.Add(1)
			if h.logger != nil {
				h.logger.Printf("hub: evicted slow subscriber %s", id)
			}
		}
	}
	return nil
}

// Close removes every subscriber; later subscriptions start closed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) Stats() Stats {
	return Stats{
		Subscribers: h.Len(),
		Published:   h.published.Load(),
		Delivered:   h.delivered.Load(),
		Evicted:     h.evicted.Load(),
	}
}
