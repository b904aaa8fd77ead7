// Package pubsub fans build notifications out from the single build writer
// to every subscriber, in-process or across dev server processes.
package pubsub

import (
	"context"
)

// BuildsChannel carries one message per finished build generation.
const BuildsChannel = "fluxpack:builds"

// Message is one published payload.
type Message struct {
	Channel string `json:"channel"`
	Payload []byte `json:"payload"`
}

// PubSub is implemented by the notification backends. Implementations are
// safe for concurrent use.
type PubSub interface {
	// Publish delivers payload to every current subscriber of channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe returns a channel of messages published to channel after the
	// call. It is closed when ctx is cancelled or the backend is closed.
	Subscribe(ctx context.Context, channel string) (<-chan Message, error)

	Close() error
}
