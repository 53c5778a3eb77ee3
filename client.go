package deribit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ggoodman/deribit-go/broker"
	"github.com/ggoodman/deribit-go/internal/logctx"
	"github.com/ggoodman/deribit-go/internal/wire"
	"github.com/ggoodman/deribit-go/signature"
	"github.com/gorilla/websocket"
)

const (
	websocketPath = "/ws/api/v1/"
	privatePrefix = "/api/v1/private/"

	pingAction            = "/api/v1/public/ping"
	setHeartbeatAction    = "/api/v1/public/setheartbeat"
	cancelHeartbeatAction = "/api/v1/public/cancelheartbeat"
	cancelOnDisconnect    = "/api/v1/private/cancelondisconnect"

	relayPublishTimeout = 5 * time.Second
)

// Client is a WebSocket client that multiplexes any number of concurrent
// requests and subscriptions over a single connection.
//
// A Client is safe for concurrent use. Disconnecting, whether explicitly or
// because the connection failed, fails every pending request and ends every
// subscription with ErrDisconnected. The client never reconnects on its own;
// call Connect with force set to start a new session.
type Client struct {
	opts    options
	signer  *signature.Signer
	log     *slog.Logger
	metrics *metrics
	dialer  *websocket.Dialer

	// connectMu serializes Connect calls.
	connectMu sync.Mutex

	mu   sync.Mutex
	sess *session
}

// New constructs a Client. It does not connect.
func New(opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	netDialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}

	return &Client{
		opts:    o,
		signer:  &signature.Signer{Key: o.key, Secret: o.secret, Now: o.now},
		log:     slog.New(logctx.Handler{Handler: o.log.Handler()}),
		metrics: newMetrics(o.registerer),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 45 * time.Second,
			NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				conn, err := netDialer.DialContext(ctx, network, addr)
				if err != nil {
					return nil, err
				}
				if tcp, ok := conn.(*net.TCPConn); ok {
					_ = tcp.SetNoDelay(true)
				}
				return conn, nil
			},
		},
	}
}

// WebsocketURL derives the WebSocket endpoint from a base URL: https maps to
// wss, anything else to ws.
func WebsocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.ResolveReference(&url.URL{Path: websocketPath}).String(), nil
}

// Connect opens the WebSocket connection and starts its receive loop. It does
// nothing if the client is already connected, unless force is set, in which
// case the current session is disconnected first.
func (c *Client) Connect(ctx context.Context, force bool) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if force {
		c.Disconnect()
	} else if c.current() != nil {
		return nil
	}

	wsURL, err := WebsocketURL(c.opts.url)
	if err != nil {
		return err
	}

	conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}

	s := newSession(conn, wsURL, &c.opts, c.teardown)

	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()

	c.metrics.connections.Inc()
	c.log.InfoContext(s.context(ctx), "ws.connect")

	go c.receive(s)
	if s.relayCh != nil {
		go c.relay(s)
	}
	return nil
}

// Connected reports whether the client has a live session.
func (c *Client) Connected() bool {
	return c.current() != nil
}

// Disconnect closes the connection, failing all pending requests and ending
// all subscriptions with ErrDisconnected. It is idempotent and safe to call
// concurrently.
func (c *Client) Disconnect() {
	c.mu.Lock()
	s := c.sess
	c.sess = nil
	c.mu.Unlock()

	if s != nil && s.close(ErrDisconnected) {
		c.metrics.disconnects.Inc()
		c.log.InfoContext(s.context(context.Background()), "ws.disconnect")
	}
}

// Close implements io.Closer by disconnecting.
func (c *Client) Close() error {
	c.Disconnect()
	return nil
}

func (c *Client) current() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// teardown detaches s if it is still the live session and closes it with err.
// A superseded session never affects its successor.
func (c *Client) teardown(s *session, err error) {
	c.mu.Lock()
	if c.sess == s {
		c.sess = nil
	}
	c.mu.Unlock()

	if s.close(err) {
		c.metrics.disconnects.Inc()
		c.log.WarnContext(s.context(context.Background()), "ws.disconnect.error", slog.Any("err", err))
	}
}

// receive is the receive loop of s. It runs until a read fails or s is
// superseded, then tears s down. It never retries.
func (c *Client) receive(s *session) {
	ctx := s.context(context.Background())
	for {
		if c.current() != s {
			c.teardown(s, ErrDisconnected)
			return
		}

		s.armReadDeadline()
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			c.log.DebugContext(ctx, "ws.recv.error", slog.Any("err", err))
			c.teardown(s, &DisconnectedError{Cause: err})
			return
		}

		if err := c.handleMessage(ctx, s, data); err != nil {
			c.log.ErrorContext(ctx, "ws.recv.invalid", slog.Any("err", err))
			c.teardown(s, &DisconnectedError{Cause: err})
			return
		}
	}
}

// handleMessage classifies one inbound message. It must never block on a
// caller: replies go to one-shot buffered channels and notifications to
// unbounded queues.
func (c *Client) handleMessage(ctx context.Context, s *session, data []byte) error {
	var msg wire.Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode inbound message: %w", err)
	}

	if msg.IsProbe() {
		c.answerProbe(ctx, s)
		return nil
	}

	if msg.ID != "" {
		if !s.dispatcher.OnResponse(msg.Response()) {
			c.log.DebugContext(ctx, "ws.recv.unmatched", slog.String("id", msg.ID))
		}
	}

	for _, n := range msg.Notifications {
		payloads, err := n.Payloads()
		if err != nil {
			return fmt.Errorf("decode %s notification: %w", n.Message, err)
		}
		for _, p := range payloads {
			topic := broker.Topic{Channel: n.Message, Scope: wire.Instrument(p)}
			_ = s.registry.Publish(ctx, topic, p)
			c.metrics.notifications.WithLabelValues(n.Message).Inc()

			if s.relayCh != nil && !s.enqueueRelay(relayItem{topic: topic, payload: p}) {
				c.metrics.relayDropped.Inc()
				c.log.WarnContext(ctx, "relay.buffer_full", slog.String("topic", topic.String()))
			}
		}
	}
	return nil
}

// answerProbe replies to a keep-alive probe with an untracked ping.
func (c *Client) answerProbe(ctx context.Context, s *session) {
	req, err := c.newRequest(pingAction, nil)
	if err != nil {
		c.log.ErrorContext(ctx, "ws.probe.sign", slog.Any("err", err))
		return
	}
	if err := s.dispatcher.Notify(ctx, req); err != nil {
		c.log.WarnContext(ctx, "ws.probe.ping_failed", slog.Any("err", err))
	}
}

// relay forwards notifications of s to the configured publisher until s closes.
func (c *Client) relay(s *session) {
	ctx := s.context(context.Background())
	for {
		select {
		case <-s.done:
			return
		case item := <-s.relayCh:
			pubCtx, cancel := context.WithTimeout(ctx, relayPublishTimeout)
			if err := c.opts.relay.Publish(pubCtx, item.topic, item.payload); err != nil {
				c.log.WarnContext(ctx, "relay.publish_failed", slog.String("topic", item.topic.String()), slog.Any("err", err))
			}
			cancel()
		}
	}
}

// Request sends a request and waits for its reply.
//
// Private actions fail with *ConfigurationError when no credentials are
// configured, before anything is sent. Nil-valued params are dropped. The
// request is signed whenever credentials are available. A failure envelope
// yields *RemoteError. Otherwise the reply's result is returned, or its
// message encoded as a JSON string, or the JSON string "Ok" when the reply
// carries neither.
func (c *Client) Request(ctx context.Context, action string, params map[string]any) (json.RawMessage, error) {
	if err := c.checkCredentials(action); err != nil {
		return nil, err
	}
	s := c.current()
	if s == nil {
		return nil, ErrNotConnected
	}
	return c.call(ctx, s, action, params)
}

// RequestInto is Request followed by decoding the result into out.
func (c *Client) RequestInto(ctx context.Context, action string, params map[string]any, out any) error {
	res, err := c.Request(ctx, action, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(res, out); err != nil {
		return fmt.Errorf("decode %s result: %w", action, err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, s *session, action string, params map[string]any) (json.RawMessage, error) {
	if c.opts.limiter != nil {
		if err := c.opts.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := c.newRequest(action, params)
	if err != nil {
		return nil, err
	}

	c.metrics.inFlight.Inc()
	resp, err := s.dispatcher.Call(ctx, req)
	c.metrics.inFlight.Dec()

	ctx = logctx.WithRequestData(s.context(ctx), &logctx.RequestData{RequestID: req.ID, Action: action})
	if err != nil {
		c.metrics.observeRequest(err)
		c.log.DebugContext(ctx, "request.failed", slog.Any("err", err))
		return nil, err
	}

	result, err := interpret(action, resp)
	c.metrics.observeRequest(err)
	if err != nil {
		c.log.DebugContext(ctx, "request.remote_error", slog.Any("err", err))
	}
	return result, err
}

func (c *Client) newRequest(action string, params map[string]any) (*wire.Request, error) {
	args := stripNil(params)
	req := &wire.Request{Action: action, Arguments: args}
	if c.signer.HasCredentials() {
		sig, _, err := c.signer.Sign(action, args)
		if err != nil {
			return nil, err
		}
		req.Sig = sig
	}
	return req, nil
}

func (c *Client) checkCredentials(action string) error {
	if isPrivate(action) && !c.signer.HasCredentials() {
		return &ConfigurationError{Action: action, Reason: "key or secret empty"}
	}
	return nil
}

// SetHeartbeat asks the server to probe the connection every interval and
// sets the local read timeout to match. A zero interval cancels the heartbeat
// and disables the read timeout.
func (c *Client) SetHeartbeat(ctx context.Context, interval time.Duration) error {
	s := c.current()
	if s == nil {
		return ErrNotConnected
	}

	var err error
	if interval > 0 {
		secs := int64(math.Ceil(interval.Seconds()))
		_, err = c.call(ctx, s, setHeartbeatAction, map[string]any{"interval": secs})
	} else {
		_, err = c.call(ctx, s, cancelHeartbeatAction, nil)
	}
	if err != nil {
		return err
	}

	s.setReadTimeout(heartbeatReadTimeout(interval))
	return nil
}

// heartbeatReadTimeout allows one missed probe before the read fails.
func heartbeatReadTimeout(interval time.Duration) time.Duration {
	if interval <= 0 {
		return 0
	}
	return 2 * interval
}

// CancelOnDisconnect enables or disables server-side cancellation of open
// orders when this connection drops.
func (c *Client) CancelOnDisconnect(ctx context.Context, state bool) error {
	_, err := c.Request(ctx, cancelOnDisconnect, map[string]any{"state": state})
	return err
}

func isPrivate(action string) bool {
	return strings.HasPrefix(action, privatePrefix)
}

func stripNil(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		if v != nil {
			out[k] = v
		}
	}
	return out
}

func requestOutcome(err error) string {
	var remote *RemoteError
	switch {
	case err == nil:
		return outcomeOK
	case errors.As(err, &remote):
		return outcomeRemoteError
	case errors.Is(err, ErrDisconnected):
		return outcomeDisconnected
	default:
		return outcomeError
	}
}
