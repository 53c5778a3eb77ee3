// Package redis mirrors exchange notifications into Redis Streams so that
// processes other than the one holding the exchange connection can consume
// them. Each topic maps to one stream key; consumers read with XREAD and may
// resume from the last stream entry they saw.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/deribit-go/broker"
	"github.com/redis/go-redis/v9"
)

// Relay is a Redis Streams-backed broker.Publisher.
type Relay struct {
	client    redis.UniversalClient
	keyPrefix string
	maxLen    int64
}

// Config contains configuration options for the Redis relay.
type Config struct {
	// Client is the Redis client to use. If nil, a default client will be created.
	Client redis.UniversalClient
	// KeyPrefix is prepended to all Redis keys used by the relay.
	// Defaults to "deribit:notifications:" if empty.
	KeyPrefix string
	// MaxLen approximately caps each stream. Zero disables trimming.
	MaxLen int64
}

// MessageHandler processes one relayed notification. Returning an error stops
// the subscription.
type MessageHandler func(ctx context.Context, entryID string, payload json.RawMessage) error

// New creates a new Redis relay.
func New(config Config) *Relay {
	client := config.Client
	if client == nil {
		client = redis.NewClient(&redis.Options{
			Addr: "localhost:6379",
		})
	}

	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "deribit:notifications:"
	}

	return &Relay{
		client:    client,
		keyPrefix: keyPrefix,
		maxLen:    config.MaxLen,
	}
}

// Close closes the Redis connection.
func (r *Relay) Close() error {
	return r.client.Close()
}

// Publish appends payload to the stream of topic. Unlike the in-process
// registry, the relay does not duplicate scoped payloads into the global
// stream; consumers that want every instrument read the per-topic streams
// they care about.
func (r *Relay) Publish(ctx context.Context, topic broker.Topic, payload json.RawMessage) error {
	streamKey := r.StreamKey(topic)

	args := &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]any{
			"data": []byte(payload),
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}

	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish notification to stream %s: %w", streamKey, err)
	}
	return nil
}

// Subscribe reads the stream of topic, calling handler for each entry.
// If lastEntryID is empty, reading starts from the next appended entry;
// otherwise it resumes after lastEntryID. It returns when ctx is done or the
// handler fails.
func (r *Relay) Subscribe(ctx context.Context, topic broker.Topic, lastEntryID string, handler MessageHandler) error {
	streamKey := r.StreamKey(topic)

	startID := "$"
	if lastEntryID != "" {
		startID = lastEntryID
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := r.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{streamKey, startID},
			Count:   16,
			Block:   time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to read from stream %s: %w", streamKey, err)
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				startID = message.ID
				data, ok := message.Values["data"].(string)
				if !ok {
					continue
				}
				if err := handler(ctx, message.ID, json.RawMessage(data)); err != nil {
					return err
				}
			}
		}
	}
}

// Cleanup deletes the stream of topic.
func (r *Relay) Cleanup(ctx context.Context, topic broker.Topic) error {
	streamKey := r.StreamKey(topic)
	if err := r.client.Del(ctx, streamKey).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to cleanup stream %s: %w", streamKey, err)
	}
	return nil
}

// StreamKey returns the Redis key holding the stream of topic.
func (r *Relay) StreamKey(topic broker.Topic) string {
	return r.keyPrefix + topic.String()
}

var _ broker.Publisher = (*Relay)(nil)
