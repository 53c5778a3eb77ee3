package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/deribit-go/internal/wire"
)

type chanTransport struct {
	sent chan *wire.Request
	err  error
}

func newChanTransport() *chanTransport {
	return &chanTransport{sent: make(chan *wire.Request, 1024)}
}

func (t *chanTransport) Send(ctx context.Context, req *wire.Request) error {
	if t.err != nil {
		return t.err
	}
	t.sent <- req
	return nil
}

func ok(id string, result any) *wire.Response {
	b, _ := json.Marshal(result)
	success := true
	return &wire.Response{ID: id, Success: &success, Result: b}
}

func TestDispatcher_RequestResponse_OutOfOrder(t *testing.T) {
	t.Parallel()

	tr := newChanTransport()
	d := New(tr)
	ctx := context.Background()

	resCh1 := make(chan *wire.Response, 1)
	resCh2 := make(chan *wire.Response, 1)
	go func() {
		resp, err := d.Call(ctx, &wire.Request{Action: "/m1"})
		if err != nil {
			t.Errorf("call1: %v", err)
			return
		}
		resCh1 <- resp
	}()
	go func() {
		resp, err := d.Call(ctx, &wire.Request{Action: "/m2"})
		if err != nil {
			t.Errorf("call2: %v", err)
			return
		}
		resCh2 <- resp
	}()

	reqs := map[string]*wire.Request{}
	for i := 0; i < 2; i++ {
		r := <-tr.sent
		reqs[r.Action] = r
	}

	// Reply out of order
	d.OnResponse(ok(reqs["/m2"].ID, 2))
	d.OnResponse(ok(reqs["/m1"].ID, 1))

	if got := string((<-resCh2).Result); got != "2" {
		t.Fatalf("call2 got %s", got)
	}
	if got := string((<-resCh1).Result); got != "1" {
		t.Fatalf("call1 got %s", got)
	}
	if n := d.Pending(); n != 0 {
		t.Fatalf("expected empty table, got %d", n)
	}
}

func TestDispatcher_ConcurrentCallsMatchTheirOwnReply(t *testing.T) {
	t.Parallel()

	const n = 200
	tr := newChanTransport()
	d := New(tr)

	// Echo server: reply with the action name, in reverse batches.
	go func() {
		var batch []*wire.Request
		for r := range tr.sent {
			batch = append(batch, r)
			if len(batch) == 10 {
				for i := len(batch) - 1; i >= 0; i-- {
					d.OnResponse(ok(batch[i].ID, batch[i].Action))
				}
				batch = batch[:0]
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			action := fmt.Sprintf("/call/%d", i)
			resp, err := d.Call(ctx, &wire.Request{Action: action})
			if err != nil {
				t.Errorf("call %d: %v", i, err)
				return
			}
			var got string
			_ = json.Unmarshal(resp.Result, &got)
			if got != action {
				t.Errorf("call %d received reply for %q", i, got)
			}
		}(i)
	}
	wg.Wait()
	close(tr.sent)
}

func TestDispatcher_CloseFailsAllPending(t *testing.T) {
	t.Parallel()

	const m = 25
	tr := newChanTransport()
	d := New(tr)
	closeErr := errors.New("gone")

	errs := make(chan error, m)
	for i := 0; i < m; i++ {
		go func() {
			_, err := d.Call(context.Background(), &wire.Request{Action: "/x"})
			errs <- err
		}()
	}
	var ids []string
	for i := 0; i < m; i++ {
		ids = append(ids, (<-tr.sent).ID)
	}

	d.Close(closeErr)

	timeout := time.After(2 * time.Second)
	for i := 0; i < m; i++ {
		select {
		case err := <-errs:
			if !errors.Is(err, closeErr) {
				t.Fatalf("expected close error, got %v", err)
			}
		case <-timeout:
			t.Fatalf("only %d of %d calls failed after Close", i, m)
		}
	}

	// Replies arriving after Close are not delivered anywhere.
	for _, id := range ids {
		if d.OnResponse(ok(id, "late")) {
			t.Fatalf("late reply for %s was delivered", id)
		}
	}

	// New calls fail immediately with the close error.
	if _, err := d.Call(context.Background(), &wire.Request{Action: "/y"}); !errors.Is(err, closeErr) {
		t.Fatalf("expected close error for new call, got %v", err)
	}
	// Close is idempotent.
	d.Close(errors.New("other"))
}

func TestDispatcher_ContextCancellationRemovesEntry(t *testing.T) {
	t.Parallel()

	tr := newChanTransport()
	d := New(tr)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := d.Call(ctx, &wire.Request{Action: "/slow"})
		done <- err
	}()
	req := <-tr.sent
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if d.OnResponse(ok(req.ID, nil)) {
		t.Fatal("reply to cancelled call must not be delivered")
	}
}

func TestDispatcher_SendErrorUnregisters(t *testing.T) {
	t.Parallel()

	sendErr := errors.New("write failed")
	d := New(&chanTransport{err: sendErr})
	if _, err := d.Call(context.Background(), &wire.Request{Action: "/x"}); !errors.Is(err, sendErr) {
		t.Fatalf("expected send error, got %v", err)
	}
	if n := d.Pending(); n != 0 {
		t.Fatalf("expected no pending entries, got %d", n)
	}
}

func TestDispatcher_RegeneratesCollidingIDs(t *testing.T) {
	t.Parallel()

	tr := newChanTransport()
	d := New(tr)
	ids := []string{"AAAAAAAAAA", "AAAAAAAAAA", "BBBBBBBBBB"}
	var mu sync.Mutex
	d.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		id := ids[0]
		ids = ids[1:]
		return id
	}

	go func() { _, _ = d.Call(context.Background(), &wire.Request{Action: "/a"}) }()
	first := <-tr.sent
	go func() { _, _ = d.Call(context.Background(), &wire.Request{Action: "/b"}) }()
	second := <-tr.sent

	if first.ID == second.ID {
		t.Fatalf("outstanding requests share id %s", first.ID)
	}
	d.Close(nil)
}

func TestDispatcher_NotifyIsUntracked(t *testing.T) {
	t.Parallel()

	tr := newChanTransport()
	d := New(tr)
	if err := d.Notify(context.Background(), &wire.Request{Action: "/api/v1/public/ping"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	req := <-tr.sent
	if req.ID == "" {
		t.Fatal("notify should still carry an id on the wire")
	}
	if d.Pending() != 0 {
		t.Fatal("notify must not register a pending entry")
	}
}
