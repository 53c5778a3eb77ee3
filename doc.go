// Package deribit is a client for the exchange's v1 API.
//
// The WebSocket Client keeps one persistent connection and multiplexes every
// request and subscription over it:
//
//	Connection model : 1 Client <-> 1 WebSocket session at a time
//	Correlation      : random 10-character id per request, echoed in the reply
//	Subscriptions    : one remote subscribe per topic, fanned out locally
//	Failure model    : disconnect is terminal for all outstanding work
//
// Requests block until their reply arrives or the session ends. Subscriptions
// are unbounded queues consumed with Next or ranged over with All. A dropped
// connection surfaces as ErrDisconnected on every pending request and every
// subscription, never as a silent end of stream. The client never reconnects
// by itself.
//
// Example:
//
//	c := deribit.New(
//	    deribit.WithURL(deribit.TestnetURL),
//	    deribit.WithCredentials(key, secret),
//	)
//	if err := c.Connect(ctx, false); err != nil { log.Fatal(err) }
//	defer c.Disconnect()
//
//	trades, err := c.SubscribeTrades(ctx, "BTC-PERPETUAL")
//	if err != nil { log.Fatal(err) }
//	for trade, err := range trades.All(ctx) {
//	    if err != nil { log.Fatal(err) }
//	    fmt.Println(string(trade))
//	}
//
// RestClient offers the same Request contract over stateless HTTP calls, and
// API shapes parameters for the individual actions on top of either client.
package deribit
