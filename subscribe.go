package deribit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"runtime"

	"github.com/ggoodman/deribit-go/broker"
)

const subscribeAction = "/api/v1/private/subscribe"

// allInstruments is the wire scope of an unscoped subscription.
const allInstruments = "all"

// Subscription is the consumer side of one Subscribe call. Each Subscription
// has its own unbounded queue; several subscriptions to the same topic share
// one remote subscription.
//
// Closing a Subscription only detaches it locally. The connection stays
// subscribed to the topic on the server until the session ends. A
// Subscription that becomes unreachable without being closed is detached
// when the garbage collector reclaims it.
type Subscription struct {
	topic  broker.Topic
	stream broker.Stream
}

// Topic returns the topic this subscription receives.
func (s *Subscription) Topic() broker.Topic {
	return s.topic
}

// Next blocks until the next payload arrives. It returns ErrDisconnected (or a
// *DisconnectedError) once the connection is gone and the queue is drained,
// io.EOF after Close, or ctx.Err() if ctx is done first.
func (s *Subscription) Next(ctx context.Context) (json.RawMessage, error) {
	return s.stream.Next(ctx)
}

// All returns the subscription as a lazy sequence. Iteration ends after a
// terminal error is yielded, or silently after Close. The sequence is not
// restartable: a second iteration continues where the first stopped.
func (s *Subscription) All(ctx context.Context) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		for {
			p, err := s.Next(ctx)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					yield(nil, err)
				}
				return
			}
			if !yield(p, nil) {
				return
			}
		}
	}
}

// Close detaches the subscription from its topic.
func (s *Subscription) Close() error {
	return s.stream.Close()
}

// Subscribe subscribes to notifications of an event class, optionally scoped
// to an instrument. The first local subscriber of a topic issues the remote
// subscribe request and waits for it; later subscribers of the same topic
// attach without any request.
func (c *Client) Subscribe(ctx context.Context, event, instrument string) (*Subscription, error) {
	return c.subscribe(ctx, event, instrument, event+"_event")
}

func (c *Client) subscribe(ctx context.Context, event, instrument, channel string) (*Subscription, error) {
	if err := c.checkCredentials(subscribeAction); err != nil {
		return nil, err
	}
	s := c.current()
	if s == nil {
		return nil, ErrNotConnected
	}

	topic := broker.Topic{Channel: channel, Scope: instrument}
	stream, first := s.registry.Subscribe(topic)
	if first {
		scope := instrument
		if scope == "" {
			scope = allInstruments
		}
		_, err := c.call(ctx, s, subscribeAction, map[string]any{
			"event":      []string{event},
			"instrument": []string{scope},
			"continue":   true,
		})
		if err != nil {
			_ = stream.Close()
			return nil, err
		}
	}

	sub := &Subscription{topic: topic, stream: stream}
	runtime.AddCleanup(sub, func(st broker.Stream) { _ = st.Close() }, stream)
	return sub, nil
}

// SubscribeTrades subscribes to public trades of an instrument.
func (c *Client) SubscribeTrades(ctx context.Context, instrument string) (*Subscription, error) {
	return c.Subscribe(ctx, "trade", instrument)
}

// SubscribeMyTrades subscribes to the account's trades. An empty instrument
// subscribes to all instruments.
func (c *Client) SubscribeMyTrades(ctx context.Context, instrument string) (*Subscription, error) {
	return c.Subscribe(ctx, "my_trade", instrument)
}

// SubscribeOrders subscribes to the account's order changes. An empty
// instrument subscribes to all instruments.
func (c *Client) SubscribeOrders(ctx context.Context, instrument string) (*Subscription, error) {
	return c.subscribe(ctx, "user_order", instrument, "user_orders_event")
}

// SubscribePortfolio subscribes to portfolio changes.
func (c *Client) SubscribePortfolio(ctx context.Context) (*Subscription, error) {
	return c.Subscribe(ctx, "portfolio", "")
}

// SubscribeOrderBook subscribes to order book updates of an instrument.
func (c *Client) SubscribeOrderBook(ctx context.Context, instrument string) (*Subscription, error) {
	return c.Subscribe(ctx, "order_book", instrument)
}
