// Package pubsub bridges cross-gateway message delivery: when a user is
// connected to a different gateway instance than the one handling the
// sender's request, the message is published on that user's channel instead
// of written directly to a socket.
package pubsub

import "context"

// Bridge is the cross-gateway pub/sub contract. One subscription per online
// user, keyed by user id.
type Bridge interface {
	// Subscribe starts delivering messages published to userID's channel
	// to onMessage, until Unsubscribe is called. ctx covers only the
	// subscribe step itself; its cancellation afterwards does not end
	// delivery.
	Subscribe(ctx context.Context, userID int32, onMessage func(body string)) error
	// Unsubscribe stops delivery for userID.
	Unsubscribe(userID int32) error
	// Publish sends body to userID's channel for any subscriber to receive.
	Publish(ctx context.Context, userID int32, body string) error
}
