package journal

import "sync"

const subscriberBuffer = 64

// Hub fans journal records out to live subscribers. A subscriber whose buffer
// is full misses records rather than blocking the emitter.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Record
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Record)}
}

// Subscribe registers a listener. The returned cancel func closes the channel.
func (h *Hub) Subscribe() (<-chan Record, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan Record, subscriberBuffer)
	h.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

func (h *Hub) publish(rec Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- rec:
		default:
		}
	}
}

// Subscribers returns the current listener count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
