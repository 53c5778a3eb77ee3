package outbound

import (
	"context"
	"errors"
	"sync"

	"github.com/ggoodman/deribit-go/internal/wire"
)

// Transport abstracts how requests are written to the peer.
type Transport interface {
	// Send writes the request. It must not block on the receive path.
	Send(ctx context.Context, req *wire.Request) error
}

// ErrDispatcherClosed indicates the dispatcher is closed and was not given a
// more specific error.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// maxIDAttempts bounds regeneration when a fresh id collides with an
// outstanding one.
const maxIDAttempts = 8

type pendingCall struct {
	// respCh is buffered so that OnResponse never blocks on a slow waiter.
	respCh chan *wire.Response
	errCh  chan error
}

// Dispatcher is the correlation table for one connection. It maps outstanding
// request ids to their waiters and fails all of them at once on Close.
type Dispatcher struct {
	t Transport

	mu      sync.Mutex
	pending map[string]*pendingCall
	closed  bool
	// closeErr is read only after closed is observed under mu.
	closeErr error

	newID func() string
}

// New constructs a Dispatcher using the provided transport.
func New(t Transport) *Dispatcher {
	return &Dispatcher{t: t, pending: make(map[string]*pendingCall), newID: wire.NewRequestID}
}

// Call assigns a fresh correlation id to req, registers it as pending, sends it
// and waits for the matching reply, for Close, or for ctx to be done. The entry
// is registered before sending so a fast reply can never be missed.
func (d *Dispatcher) Call(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	pc := &pendingCall{respCh: make(chan *wire.Response, 1), errCh: make(chan error, 1)}

	d.mu.Lock()
	if d.closed {
		err := d.closeErr
		d.mu.Unlock()
		return nil, err
	}
	id, err := d.allocateLocked()
	if err != nil {
		d.mu.Unlock()
		return nil, err
	}
	d.pending[id] = pc
	d.mu.Unlock()

	req.ID = id
	if err := d.t.Send(ctx, req); err != nil {
		d.forget(id)
		return nil, err
	}

	select {
	case resp := <-pc.respCh:
		return resp, nil
	case err := <-pc.errCh:
		return nil, err
	case <-ctx.Done():
		d.forget(id)
		return nil, ctx.Err()
	}
}

// Notify sends req with a fresh id that is never tracked. It is used for
// fire-and-forget messages such as keep-alive pings.
func (d *Dispatcher) Notify(ctx context.Context, req *wire.Request) error {
	d.mu.Lock()
	if d.closed {
		err := d.closeErr
		d.mu.Unlock()
		return err
	}
	d.mu.Unlock()

	req.ID = d.newID()
	return d.t.Send(ctx, req)
}

// OnResponse delivers a reply to the waiter registered under its id. It
// reports whether a waiter was found; unmatched replies are dropped.
func (d *Dispatcher) OnResponse(resp *wire.Response) bool {
	if resp == nil || resp.ID == "" {
		return false
	}
	d.mu.Lock()
	pc, ok := d.pending[resp.ID]
	if ok {
		delete(d.pending, resp.ID)
		pc.respCh <- resp
	}
	d.mu.Unlock()
	return ok
}

// Pending returns the number of outstanding calls.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close fails all pending calls with err and rejects later calls with the
// same error. Only the first Close has an effect.
func (d *Dispatcher) Close(err error) {
	if err == nil {
		err = ErrDispatcherClosed
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.closeErr = err
	for id, pc := range d.pending {
		delete(d.pending, id)
		pc.errCh <- err
	}
}

func (d *Dispatcher) forget(id string) {
	d.mu.Lock()
	delete(d.pending, id)
	d.mu.Unlock()
}

func (d *Dispatcher) allocateLocked() (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id := d.newID()
		if _, taken := d.pending[id]; !taken {
			return id, nil
		}
	}
	return "", errors.New("outbound: could not allocate a unique request id")
}
