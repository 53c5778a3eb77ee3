// Package broker defines how exchange notifications are fanned out to
// interested consumers.
//
// A notification belongs to a Topic: an event channel (for example
// "trade_event") and an optional scope, typically an instrument name. The
// in-process implementation in broker/memory delivers to local subscriber
// queues; broker/redis mirrors notifications into Redis Streams so other
// processes can consume them.
package broker

import (
	"context"
	"encoding/json"
)

// Topic identifies a notification stream. An empty Scope denotes the global
// stream of the channel, which receives every scoped notification as well.
type Topic struct {
	Channel string
	Scope   string
}

// Global returns the unscoped topic of the same channel.
func (t Topic) Global() Topic {
	return Topic{Channel: t.Channel}
}

// String renders the topic as "channel" or "channel:scope".
func (t Topic) String() string {
	if t.Scope == "" {
		return t.Channel
	}
	return t.Channel + ":" + t.Scope
}

// Publisher accepts notifications for fan-out.
type Publisher interface {
	// Publish delivers payload to the consumers of topic. Implementations
	// that support wildcard delivery also deliver scoped payloads to the
	// topic's Global consumers.
	Publish(ctx context.Context, topic Topic, payload json.RawMessage) error
}

// Stream provides ordered consumption of a single subscription.
// Streams are safe for concurrent use by a single consumer.
type Stream interface {
	// Next blocks until the next payload is available, the stream ends, or
	// ctx is done. Payloads queued before the stream ended are returned
	// before the terminal error.
	Next(ctx context.Context) (json.RawMessage, error)

	// Close detaches the stream from its topic. After Close, Next returns
	// io.EOF once the queue is drained.
	Close() error
}
