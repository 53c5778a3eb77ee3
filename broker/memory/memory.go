// Package memory provides the in-process subscription registry. It maps topics
// to sets of subscriber queues and performs fan-out of inbound notifications.
//
// Subscriber queues are unbounded: a publisher never blocks or drops a
// payload, whatever the consumer's pace.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/ggoodman/deribit-go/broker"
)

// ErrRegistryClosed is the terminal error used when Close is given none.
var ErrRegistryClosed = errors.New("registry closed")

// Registry implements broker.Publisher over local subscriber queues.
type Registry struct {
	mu       sync.Mutex
	topics   map[broker.Topic]map[*subscription]struct{}
	closed   bool
	closeErr error
}

type subscription struct {
	registry *Registry
	topic    broker.Topic

	mu    sync.Mutex
	queue []json.RawMessage
	err   error
	// ready holds at most one wake-up token.
	ready chan struct{}
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{topics: make(map[broker.Topic]map[*subscription]struct{})}
}

// Subscribe adds a new subscriber queue to topic. first reports whether the
// topic had no subscribers before this call; exactly one of any set of
// concurrent callers on an empty topic observes first == true.
//
// On a closed registry the returned stream is already terminated with the
// registry's close error.
func (r *Registry) Subscribe(topic broker.Topic) (stream broker.Stream, first bool) {
	sub := &subscription{registry: r, topic: topic, ready: make(chan struct{}, 1)}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		sub.err = r.closeErr
		return sub, false
	}

	set, ok := r.topics[topic]
	if !ok {
		set = make(map[*subscription]struct{})
		r.topics[topic] = set
	}
	first = len(set) == 0
	set[sub] = struct{}{}
	return sub, first
}

// Publish implements broker.Publisher. The payload goes to subscribers of
// topic and, when topic is scoped, also to subscribers of topic.Global().
// Per-topic delivery order equals publish order.
func (r *Registry) Publish(_ context.Context, topic broker.Topic, payload json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return r.closeErr
	}
	for sub := range r.topics[topic] {
		sub.push(payload)
	}
	if topic.Scope != "" {
		for sub := range r.topics[topic.Global()] {
			sub.push(payload)
		}
	}
	return nil
}

// Subscribers returns the number of local subscribers of topic.
func (r *Registry) Subscribers(topic broker.Topic) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.topics[topic])
}

// Close terminates every subscriber with err and clears the registry. Later
// Subscribe calls return terminated streams and Publish returns err. Only the
// first Close has an effect.
func (r *Registry) Close(err error) {
	if err == nil {
		err = ErrRegistryClosed
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	r.closeErr = err
	for topic, set := range r.topics {
		for sub := range set {
			sub.terminate(err)
		}
		delete(r.topics, topic)
	}
}

func (r *Registry) remove(sub *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.topics[sub.topic]
	delete(set, sub)
	if len(set) == 0 {
		delete(r.topics, sub.topic)
	}
}

func (s *subscription) push(payload json.RawMessage) {
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, payload)
	s.mu.Unlock()
	s.wake()
}

func (s *subscription) terminate(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.wake()
}

func (s *subscription) wake() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Next implements broker.Stream.Next
func (s *subscription) Next(ctx context.Context) (json.RawMessage, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			payload := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return payload, nil
		}
		if s.err != nil {
			err := s.err
			s.mu.Unlock()
			return nil, err
		}
		s.mu.Unlock()

		select {
		case <-s.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close implements broker.Stream.Close
func (s *subscription) Close() error {
	s.registry.remove(s)
	s.terminate(io.EOF)
	return nil
}

// Compile-time interface checks
var (
	_ broker.Publisher = (*Registry)(nil)
	_ broker.Stream    = (*subscription)(nil)
)
