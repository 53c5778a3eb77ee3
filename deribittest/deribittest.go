// Package deribittest provides a scripted WebSocket server speaking the v1
// message format, for testing code built on the deribit client.
package deribittest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Path is the WebSocket endpoint served by Server.
const Path = "/ws/api/v1/"

// Request is an inbound client request as seen by the server.
type Request struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	Arguments map[string]any `json:"arguments"`
	Sig       string         `json:"sig,omitempty"`
}

// Handler is invoked for every request, serially per connection, on the
// connection's read goroutine. Handlers that want to delay a reply should do
// so from another goroutine.
type Handler func(c *Conn, req Request)

// Server is a WebSocket server backed by httptest.
type Server struct {
	srv      *httptest.Server
	handler  Handler
	upgrader websocket.Upgrader

	mu       sync.Mutex
	requests []Request
	conns    []*Conn
	connCh   chan *Conn
}

// NewServer starts a server dispatching requests to h. A nil h never replies.
func NewServer(h Handler) *Server {
	if h == nil {
		h = func(*Conn, Request) {}
	}
	s := &Server{
		handler: h,
		connCh:  make(chan *Conn, 16),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(Path, s.serveWS)
	s.srv = httptest.NewServer(mux)
	return s
}

// URL returns the http base URL of the server, suitable for deribit.WithURL.
func (s *Server) URL() string {
	return s.srv.URL
}

// Close closes all connections and shuts the server down.
func (s *Server) Close() {
	s.mu.Lock()
	conns := append([]*Conn(nil), s.conns...)
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
	s.srv.Close()
}

// Requests returns a copy of every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Count returns how many requests for action were received.
func (s *Server) Count(action string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.Action == action {
			n++
		}
	}
	return n
}

// WaitConn returns the next accepted connection, or nil after timeout.
func (s *Server) WaitConn(timeout time.Duration) *Conn {
	select {
	case c := <-s.connCh:
		return c
	case <-time.After(timeout):
		return nil
	}
}

// WaitFor polls until cond holds or timeout elapses, reporting whether it held.
func (s *Server) WaitFor(timeout time.Duration, cond func(*Server) bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond(s) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &Conn{ws: ws}

	s.mu.Lock()
	s.conns = append(s.conns, c)
	s.mu.Unlock()
	select {
	case s.connCh <- c:
	default:
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			_ = ws.Close()
			return
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()
		s.handler(c, req)
	}
}

// Conn is the server side of one client connection.
type Conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

// Send writes v as a JSON text message.
func (c *Conn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

// SendRaw writes data as a text message without encoding it.
func (c *Conn) SendRaw(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Reply answers req with a success envelope carrying result.
func (c *Conn) Reply(req Request, result any) error {
	return c.Send(map[string]any{"id": req.ID, "success": true, "result": result})
}

// ReplyMessage answers req with a success envelope carrying only a message.
func (c *Conn) ReplyMessage(req Request, message string) error {
	return c.Send(map[string]any{"id": req.ID, "success": true, "message": message})
}

// Fail answers req with a failure envelope.
func (c *Conn) Fail(req Request, message string) error {
	return c.Send(map[string]any{"id": req.ID, "success": false, "message": message})
}

// Notify sends a notification envelope with a single entry for channel.
// result may be a single payload or a slice of payloads.
func (c *Conn) Notify(channel string, result any) error {
	return c.Send(map[string]any{
		"notifications": []map[string]any{{"message": channel, "result": result}},
	})
}

// Probe sends a keep-alive probe.
func (c *Conn) Probe() error {
	return c.Send(map[string]any{"message": "test_request"})
}

// Close closes the connection abruptly.
func (c *Conn) Close() error {
	return c.ws.Close()
}

// AutoReply is a Handler that answers every request with success and echoes
// its arguments as the result.
func AutoReply(c *Conn, req Request) {
	_ = c.Reply(req, req.Arguments)
}
