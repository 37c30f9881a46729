// Package broadcast fans values out to any number of subscribers. A
// subscriber receives every value published after it subscribed, in publish
// order. There is no replay of history.
package broadcast

import (
	"sync"
)

// Broadcaster is a multi-producer multi-consumer channel. Publish never
// blocks: every subscriber owns an unbounded queue which a goroutine drains
// into the subscriber's channel, so a slow subscriber only delays itself.
type Broadcaster[T any] struct {
	mx     sync.Mutex
	next   int
	subs   map[int]*subscriber[T]
	closed bool
}

func New[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{
		subs: make(map[int]*subscriber[T]),
	}
}

// Subscribe returns a channel of values published from now on and a cancel
// func releasing it. Close delivers the values still queued and then closes
// the channel. cancel closes it right away and drops what is queued.
// Subscribing to a closed Broadcaster returns a closed channel.
func (b *Broadcaster[T]) Subscribe() (<-chan T, func()) {
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.closed {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	s := newSubscriber[T]()
	b.subs[id] = s
	go s.pump()
	return s.out, func() {
		b.mx.Lock()
		delete(b.subs, id)
		b.mx.Unlock()
		s.stop()
	}
}

func (b *Broadcaster[T]) Publish(v T) {
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		s.push(v)
	}
}

// Close ends every subscription. Publish after Close is a no-op.
func (b *Broadcaster[T]) Close() {
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		s.end()
	}
}

func (b *Broadcaster[T]) Subscribers() int {
	b.mx.Lock()
	defer b.mx.Unlock()
	return len(b.subs)
}

type subscriber[T any] struct {
	mx      sync.Mutex
	pending []T
	ended   bool

	signal chan struct{}
	done   chan struct{}
	once   sync.Once
	out    chan T
}

func newSubscriber[T any]() *subscriber[T] {
	return &subscriber[T]{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan T),
	}
}

func (s *subscriber[T]) push(v T) {
	s.mx.Lock()
	s.pending = append(s.pending, v)
	s.mx.Unlock()
	s.poke()
}

func (s *subscriber[T]) end() {
	s.mx.Lock()
	s.ended = true
	s.mx.Unlock()
	s.poke()
}

func (s *subscriber[T]) poke() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber[T]) stop() {
	s.once.Do(func() { close(s.done) })
}

// pump moves queued values to out until the queue is ended and empty or the
// subscription is cancelled.
func (s *subscriber[T]) pump() {
	defer close(s.out)
	for {
		s.mx.Lock()
		if len(s.pending) == 0 {
			ended := s.ended
			s.pending = nil
			s.mx.Unlock()
			if ended {
				return
			}
			select {
			case <-s.signal:
				continue
			case <-s.done:
				return
			}
		}
		v := s.pending[0]
		var zero T
		s.pending[0] = zero
		s.pending = s.pending[1:]
		s.mx.Unlock()

		select {
		case s.out <- v:
		case <-s.done:
			return
		}
	}
}
