package deribit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/deribit-go/broker"
	"github.com/ggoodman/deribit-go/broker/memory"
	"github.com/ggoodman/deribit-go/internal/logctx"
	"github.com/ggoodman/deribit-go/internal/outbound"
	"github.com/ggoodman/deribit-go/internal/wire"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type relayItem struct {
	topic   broker.Topic
	payload json.RawMessage
}

// session is one live WebSocket connection together with the state whose
// lifetime is bound to it: the correlation table and the subscription
// registry. A session is never reused once closed.
type session struct {
	id   string
	url  string
	conn *websocket.Conn

	dispatcher *outbound.Dispatcher
	registry   *memory.Registry

	writeMu      sync.Mutex
	writeTimeout time.Duration
	// readTimeout is a time.Duration; zero disables the read deadline.
	readTimeout atomic.Int64

	relayCh chan relayItem

	done      chan struct{}
	closeOnce sync.Once
	// onWriteFailure tears the session down after a failed write.
	onWriteFailure func(*session, error)

	logData *logctx.SessionData
}

func newSession(conn *websocket.Conn, url string, o *options, onWriteFailure func(*session, error)) *session {
	s := &session{
		id:             uuid.NewString(),
		url:            url,
		conn:           conn,
		registry:       memory.New(),
		writeTimeout:   o.writeTimeout,
		done:           make(chan struct{}),
		onWriteFailure: onWriteFailure,
	}
	if o.relay != nil {
		s.relayCh = make(chan relayItem, o.relayBuffer)
	}
	s.dispatcher = outbound.New(s)
	s.logData = &logctx.SessionData{SessionID: s.id, URL: url}
	return s
}

func (s *session) context(ctx context.Context) context.Context {
	return logctx.WithSessionData(ctx, s.logData)
}

// Send implements outbound.Transport. Writes are serialized; a failed write
// leaves the connection unusable and tears the session down.
func (s *session) Send(ctx context.Context, req *wire.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s: %w", req.Action, err)
	}

	select {
	case <-s.done:
		return ErrDisconnected
	default:
	}

	deadline := time.Now().Add(s.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	_ = s.conn.SetWriteDeadline(deadline)
	err = s.conn.WriteMessage(websocket.TextMessage, data)
	s.writeMu.Unlock()

	if err != nil {
		derr := &DisconnectedError{Cause: fmt.Errorf("write %s: %w", req.Action, err)}
		s.onWriteFailure(s, derr)
		return derr
	}
	return nil
}

func (s *session) setReadTimeout(d time.Duration) {
	s.readTimeout.Store(int64(d))
	s.armReadDeadline()
}

func (s *session) armReadDeadline() {
	d := time.Duration(s.readTimeout.Load())
	if d <= 0 {
		_ = s.conn.SetReadDeadline(time.Time{})
		return
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(d))
}

// enqueueRelay hands a notification to the relay goroutine without blocking.
// It reports false when the buffer is full.
func (s *session) enqueueRelay(item relayItem) bool {
	select {
	case s.relayCh <- item:
		return true
	default:
		return false
	}
}

// close tears the session down exactly once: the connection is closed, every
// pending request fails with err and every subscription ends with err. It
// reports whether this call performed the teardown.
func (s *session) close(err error) bool {
	closed := false
	s.closeOnce.Do(func() {
		closed = true
		close(s.done)
		_ = s.conn.Close()
		s.dispatcher.Close(err)
		s.registry.Close(err)
	})
	return closed
}
