package pubsub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// subscriberBuffer bounds how many undelivered messages a subscription holds.
const subscriberBuffer = 64

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("pubsub: closed")

// subscription is one consumer of a channel. When its buffer is full the
// oldest pending message is discarded, so a slow consumer always ends up
// with the most recent build generation.
type subscription struct {
	out chan Message

	mu   sync.Mutex
	done bool
}

// deliver enqueues msg and reports how many pending messages were evicted
// to make room for it. It returns -1 once the subscription is finished.
func (s *subscription) deliver(msg Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return -1
	}

	evicted := 0
	for {
		select {
		case s.out <- msg:
			return evicted
		default:
		}
		select {
		case <-s.out:
			evicted++
		default:
		}
	}
}

func (s *subscription) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.done {
		s.done = true
		close(s.out)
	}
}

// LocalPubSub delivers messages between goroutines of one process.
type LocalPubSub struct {
	mu      sync.RWMutex
	topics  map[string]map[*subscription]struct{}
	closed  bool
	dropped atomic.Int64
}

// NewLocalPubSub creates an in-process backend.
func NewLocalPubSub() *LocalPubSub {
	return &LocalPubSub{topics: make(map[string]map[*subscription]struct{})}
}

// Publish hands payload to every current subscription of channel without
// blocking on slow consumers.
func (l *LocalPubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	l.mu.RLock()
	targets := make([]*subscription, 0, len(l.topics[channel]))
	for s := range l.topics[channel] {
		targets = append(targets, s)
	}
	l.mu.RUnlock()

	msg := Message{Channel: channel, Payload: payload}
	for _, s := range targets {
		if n := s.deliver(msg); n > 0 {
			l.dropped.Add(int64(n))
		}
	}
	return nil
}

// Subscribe registers a subscription that lasts until ctx is cancelled or
// the backend is closed.
func (l *LocalPubSub) Subscribe(ctx context.Context, channel string) (<-chan Message, error) {
	s := &subscription{out: make(chan Message, subscriberBuffer)}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	set, ok := l.topics[channel]
	if !ok {
		set = make(map[*subscription]struct{})
		l.topics[channel] = set
	}
	set[s] = struct{}{}
	l.mu.Unlock()

	context.AfterFunc(ctx, func() { l.remove(channel, s) })
	return s.out, nil
}

// Subscribers returns the number of live subscriptions of channel.
func (l *LocalPubSub) Subscribers(channel string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.topics[channel])
}

// Dropped returns how many pending messages were evicted from full
// subscriptions in favour of newer ones.
func (l *LocalPubSub) Dropped() int64 {
	return l.dropped.Load()
}

func (l *LocalPubSub) remove(channel string, s *subscription) {
	l.mu.Lock()
	if set, ok := l.topics[channel]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(l.topics, channel)
		}
	}
	l.mu.Unlock()
	s.finish()
}

// Close finishes every subscription. Publishing afterwards is a no-op.
func (l *LocalPubSub) Close() error {
	l.mu.Lock()
	topics := l.topics
	l.topics = make(map[string]map[*subscription]struct{})
	l.closed = true
	l.mu.Unlock()

	for _, set := range topics {
		for s := range set {
			s.finish()
		}
	}
	return nil
}
