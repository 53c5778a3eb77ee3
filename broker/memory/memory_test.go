package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/deribit-go/broker"
)

func payload(s string) json.RawMessage { return json.RawMessage(s) }

func mustNext(t *testing.T, s broker.Stream) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	return string(p)
}

func expectEmpty(t *testing.T, s broker.Stream) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if p, err := s.Next(ctx); err != context.DeadlineExceeded {
		t.Fatalf("expected no payload, got %s (err=%v)", p, err)
	}
}

func TestRegistry_FirstSubscriberWins(t *testing.T) {
	r := New()
	topic := broker.Topic{Channel: "trade_event", Scope: "X"}

	s1, first := r.Subscribe(topic)
	if !first {
		t.Fatal("first subscriber must observe first == true")
	}
	s2, first := r.Subscribe(topic)
	if first {
		t.Fatal("second subscriber must observe first == false")
	}
	s3, first := r.Subscribe(topic)
	if first {
		t.Fatal("third subscriber must observe first == false")
	}
	if n := r.Subscribers(topic); n != 3 {
		t.Fatalf("expected 3 subscribers, got %d", n)
	}

	s1.Close()
	s2.Close()
	s3.Close()
	if n := r.Subscribers(topic); n != 0 {
		t.Fatalf("expected 0 subscribers after close, got %d", n)
	}
	s4, first := r.Subscribe(topic)
	if !first {
		t.Fatal("subscribing to an emptied topic must be first again")
	}
	s4.Close()
}

func TestRegistry_ConcurrentSubscribeSingleFirst(t *testing.T) {
	r := New()
	topic := broker.Topic{Channel: "trade_event"}

	const n = 64
	var wg sync.WaitGroup
	var mu sync.Mutex
	firsts := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, first := r.Subscribe(topic)
			if first {
				mu.Lock()
				firsts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if firsts != 1 {
		t.Fatalf("expected exactly one first subscriber, got %d", firsts)
	}
}

func TestRegistry_ScopedAndWildcardFanOut(t *testing.T) {
	r := New()
	ctx := context.Background()

	scopedX, _ := r.Subscribe(broker.Topic{Channel: "trade_event", Scope: "X"})
	scopedY, _ := r.Subscribe(broker.Topic{Channel: "trade_event", Scope: "Y"})
	global, _ := r.Subscribe(broker.Topic{Channel: "trade_event"})
	other, _ := r.Subscribe(broker.Topic{Channel: "order_book_event", Scope: "X"})

	if err := r.Publish(ctx, broker.Topic{Channel: "trade_event", Scope: "X"}, payload(`{"instrument":"X"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if got := mustNext(t, scopedX); got != `{"instrument":"X"}` {
		t.Fatalf("scoped X got %s", got)
	}
	if got := mustNext(t, global); got != `{"instrument":"X"}` {
		t.Fatalf("global got %s", got)
	}
	expectEmpty(t, scopedY)
	expectEmpty(t, other)
	// Delivered exactly once to the global subscriber.
	expectEmpty(t, global)

	// Unscoped payload reaches only the global topic.
	_ = r.Publish(ctx, broker.Topic{Channel: "trade_event"}, payload(`{"price":1}`))
	if got := mustNext(t, global); got != `{"price":1}` {
		t.Fatalf("global got %s", got)
	}
	expectEmpty(t, scopedX)
}

func TestRegistry_OrderedAndUnbounded(t *testing.T) {
	r := New()
	topic := broker.Topic{Channel: "trade_event"}
	s, _ := r.Subscribe(topic)

	const n = 10000
	for i := 0; i < n; i++ {
		if err := r.Publish(context.Background(), topic, payload(fmt.Sprint(i))); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		if got := mustNext(t, s); got != fmt.Sprint(i) {
			t.Fatalf("payload %d out of order: %s", i, got)
		}
	}
}

func TestRegistry_CloseDrainsThenTerminates(t *testing.T) {
	r := New()
	topic := broker.Topic{Channel: "portfolio_event"}
	s, _ := r.Subscribe(topic)
	gone := errors.New("disconnected")

	_ = r.Publish(context.Background(), topic, payload(`1`))
	r.Close(gone)

	if got := mustNext(t, s); got != "1" {
		t.Fatalf("queued payload must be delivered before termination, got %s", got)
	}
	if _, err := s.Next(context.Background()); !errors.Is(err, gone) {
		t.Fatalf("expected close error, got %v", err)
	}

	if err := r.Publish(context.Background(), topic, payload(`2`)); !errors.Is(err, gone) {
		t.Fatalf("publish after close: expected close error, got %v", err)
	}
	late, first := r.Subscribe(topic)
	if first {
		t.Fatal("subscribe on a closed registry must not report first")
	}
	if _, err := late.Next(context.Background()); !errors.Is(err, gone) {
		t.Fatalf("expected close error on late subscriber, got %v", err)
	}
}

func TestRegistry_CloseWakesBlockedConsumer(t *testing.T) {
	r := New()
	s, _ := r.Subscribe(broker.Topic{Channel: "trade_event"})
	gone := errors.New("disconnected")

	done := make(chan error, 1)
	go func() {
		_, err := s.Next(context.Background())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	r.Close(gone)

	select {
	case err := <-done:
		if !errors.Is(err, gone) {
			t.Fatalf("expected close error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked consumer was not woken by Close")
	}
}

func TestStream_Close(t *testing.T) {
	r := New()
	topic := broker.Topic{Channel: "trade_event"}
	s, _ := r.Subscribe(topic)

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := s.Next(context.Background()); err != io.EOF {
		t.Fatalf("expected io.EOF after close, got %v", err)
	}
	// Multiple closes should be safe
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	_ = r.Publish(context.Background(), topic, payload(`1`))
	if _, err := s.Next(context.Background()); err != io.EOF {
		t.Fatalf("closed stream must not receive payloads, got %v", err)
	}
}

func TestStream_ContextCancellation(t *testing.T) {
	r := New()
	s, _ := r.Subscribe(broker.Topic{Channel: "trade_event"})
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Next(ctx); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
