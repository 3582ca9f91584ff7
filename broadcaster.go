package orderproc

import (
	"sync"

	"github.com/tfkr-ae/orderproc/domain"
)

// broadcaster fans saved orders out to live subscribers.
type broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan *domain.Order
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan *domain.Order)}
}

func (b *broadcaster) subscribe(buffer int) (<-chan *domain.Order, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan *domain.Order, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// publish never blocks, a subscriber with a full buffer misses the order.
func (b *broadcaster) publish(order *domain.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- cloneOrder(order):
		default:
		}
	}
}

func (b *broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
