// Package notify carries payload-free change notifications between the ledgers
// and whoever is watching them. A notification only says "topic changed";
// observers re-read the ledger they care about.
package notify

import (
	"context"
	"sync"
)

// Bus publishes and delivers change notifications by topic.
type Bus interface {
	Publish(ctx context.Context, topic string) error
	// Subscribe registers fn for topic and returns a function that removes it.
	Subscribe(topic string, fn func()) (unsubscribe func())
}

// LocalBus delivers notifications to subscribers in the same process,
// synchronously, on the publishing goroutine.
type LocalBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]func()
}

// NewLocalBus creates an in-process bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[string]map[int]func())}
}

func (b *LocalBus) Publish(_ context.Context, topic string) error {
	b.dispatch(topic)
	return nil
}

func (b *LocalBus) dispatch(topic string) {
	b.mu.RLock()
	handlers := make([]func(), 0, len(b.subs[topic]))
	for _, fn := range b.subs[topic] {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn()
	}
}

func (b *LocalBus) Subscribe(topic string, fn func()) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]func())
	}
	b.subs[topic][id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[topic], id)
			b.mu.Unlock()
		})
	}
}
