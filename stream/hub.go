package stream

import (
	"context"
	"sync"
)

// Subscriber receives the messages published for one run. Its queue is
// unbounded so a slow consumer never blocks the publisher; messages are
// delivered in publish order.
type Subscriber struct {
	mu     sync.Mutex
	queue  []any
	signal chan struct{}
	closed bool
}

func newSubscriber() *Subscriber {
	return &Subscriber{signal: make(chan struct{}, 1)}
}

func (s *Subscriber) push(msg any) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, msg)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Next returns the next message, blocking until one is published, the
// subscriber is closed, or ctx is done. The second result is false once
// the subscriber is closed and drained.
func (s *Subscriber) Next(ctx context.Context) (any, bool, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			msg := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return msg, true, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil, false, nil
		}

		select {
		case <-s.signal:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}

// Close wakes any blocked Next. Queued messages remain readable.
func (s *Subscriber) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Hub fans published run messages out to that run's subscribers. Publish
// never blocks and a run with no subscribers drops its messages.
type Hub struct {
	mu   sync.Mutex
	subs map[string][]*Subscriber
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string][]*Subscriber)}
}

// Register adds a subscriber for the run and returns it.
func (h *Hub) Register(runID string) *Subscriber {
	sub := newSubscriber()
	h.mu.Lock()
	h.subs[runID] = append(h.subs[runID], sub)
	h.mu.Unlock()
	return sub
}

// Unregister removes the subscriber and closes it. The run's entry is
// reaped once its last subscriber leaves.
func (h *Hub) Unregister(runID string, sub *Subscriber) {
	h.mu.Lock()
	subs := h.subs[runID]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(h.subs, runID)
	} else {
		h.subs[runID] = subs
	}
	h.mu.Unlock()
	sub.Close()
}

// Publish delivers msg to every subscriber of the run.
func (h *Hub) Publish(runID string, msg any) {
	h.mu.Lock()
	subs := make([]*Subscriber, len(h.subs[runID]))
	copy(subs, h.subs[runID])
	h.mu.Unlock()
	for _, sub := range subs {
		sub.push(msg)
	}
}

// SubscriberCount reports how many subscribers a run currently has.
func (h *Hub) SubscriberCount(runID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[runID])
}
