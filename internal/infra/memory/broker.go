package memory

import (
	"context"
	"sync"

	"trivia-live-service/internal/broadcast"
)

// Broker is an in-process pub/sub for broadcast messages, keyed by session.
// Delivery is best-effort: slow subscribers drop messages and resync from
// the store.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[chan broadcast.Message]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan broadcast.Message]struct{})}
}

func (b *Broker) Publish(_ context.Context, sessionID string, msg broadcast.Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[sessionID] {
		select {
		case ch <- msg:
		default:
			// Drop if subscriber is slow.
		}
	}
	return nil
}

func (b *Broker) Subscribe(sessionID string) (<-chan broadcast.Message, func()) {
	ch := make(chan broadcast.Message, 16)
	b.mu.Lock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[chan broadcast.Message]struct{})
	}
	b.subs[sessionID][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[sessionID][ch]; ok {
			delete(b.subs[sessionID], ch)
			close(ch)
		}
		if len(b.subs[sessionID]) == 0 {
			delete(b.subs, sessionID)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}
