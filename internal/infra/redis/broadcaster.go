// Package redis backs the broadcast channel and the quiz cache with Redis,
// letting players subscribe from any instance that shares the server.
package redis

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"

	"trivia-live-service/internal/broadcast"
)

// Broadcaster publishes session messages over Redis pub/sub. The host never
// subscribes to its own topic, so there is no self-echo; delivery is
// best-effort per the protocol contract.
type Broadcaster struct {
	client *redis.Client
}

func NewBroadcaster(client *redis.Client) *Broadcaster {
	return &Broadcaster{client: client}
}

func (b *Broadcaster) Publish(ctx context.Context, sessionID string, msg broadcast.Message) error {
	data, err := broadcast.Encode(msg)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.topic(sessionID), data).Err()
}

func (b *Broadcaster) Subscribe(sessionID string) (<-chan broadcast.Message, func()) {
	pubsub := b.client.Subscribe(context.Background(), b.topic(sessionID))
	ch := make(chan broadcast.Message, 16)

	go func() {
		defer close(ch)
		for raw := range pubsub.Channel() {
			msg, err := broadcast.Decode([]byte(raw.Payload))
			if err != nil {
				log.Printf("session %s: dropping malformed broadcast: %v", sessionID, err)
				continue
			}
			select {
			case ch <- msg:
			default:
				// Drop if subscriber is slow; the store is the fallback.
			}
		}
	}()

	cancel := func() {
		_ = pubsub.Close()
	}
	return ch, cancel
}

func (b *Broadcaster) topic(sessionID string) string {
	return "session:" + sessionID + ":events"
}
