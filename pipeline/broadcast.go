package pipeline

import "sync"

const subscriberBuffer = 8

// broadcaster fans results out to live subscribers. A slow subscriber loses
// results instead of stalling the capture loop.
type broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan Result
	next int
}

func (b *broadcaster) subscribe() (<-chan Result, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[int]chan Result)
	}
	id := b.next
	b.next++
	ch := make(chan Result, subscriberBuffer)
	b.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

func (b *broadcaster) publish(r Result) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- r:
		default:
		}
	}
}

func (b *broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
