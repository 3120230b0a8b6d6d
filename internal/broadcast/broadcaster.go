package broadcast

import "context"

// Broadcaster is the session-scoped pub/sub channel between host and players.
// Delivery is best-effort: the host never subscribes to its own topic, and
// subscribers resynchronize from the persisted session row when they suspect
// a missed message.
type Broadcaster interface {
	// Publish sends a message to every current subscriber of the session.
	Publish(ctx context.Context, sessionID string, msg Message) error
	// Subscribe returns a channel of messages for the session. The caller
	// must invoke the returned cancel function to release the subscription.
	Subscribe(sessionID string) (<-chan Message, func())
}
