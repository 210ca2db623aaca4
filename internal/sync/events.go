package sync

import (
	"sync"
)

// Bus is a minimal publish/subscribe fanout for lifecycle events.
// Subscribe returns the unsubscribe handle; handlers run synchronously
// on the publishing goroutine and must not block.
type Bus struct {
	mu      sync.Mutex
	subs    map[int64]func(Event)
	nextSub int64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int64]func(Event))}
}

func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSub++
	token := b.nextSub
	b.subs[token] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, token)
	}
}

func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	fns := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
