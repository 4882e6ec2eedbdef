// Package feed provides ordered, non-blocking delivery of values from
// network callbacks to a single consuming loop.
//
// Producers never block on a slow consumer: pushes are appended to an
// unbounded queue and a pump goroutine hands them to the consumer channel
// in push order.  This keeps a transport read loop free to resolve command
// acknowledgements while the consumer is itself waiting on one.
package feed

import "sync"

// Queue is an unbounded FIFO whose Out channel yields values in push order.
type Queue[T any] struct {
	mutex  sync.Mutex
	items  []T
	closed bool

	signal chan struct{}
	done   chan struct{}
	out    chan T
}

func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan T),
	}
	go q.pump()
	return q
}

// Push appends v.  It returns false once the queue is closed.
func (q *Queue[T]) Push(v T) bool {
	q.mutex.Lock()
	if q.closed {
		q.mutex.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mutex.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Out is closed after Close.  Values still queued at that point are dropped.
func (q *Queue[T]) Out() <-chan T {
	return q.out
}

// Len is the number of values not yet received.
func (q *Queue[T]) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.items)
}

func (q *Queue[T]) Close() {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	close(q.done)
}

func (q *Queue[T]) pump() {
	defer close(q.out)
	for {
		q.mutex.Lock()
		if len(q.items) == 0 {
			q.mutex.Unlock()
			select {
			case <-q.signal:
				continue
			case <-q.done:
				return
			}
		}
		v := q.items[0]
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		q.mutex.Unlock()

		select {
		case q.out <- v:
		case <-q.done:
			return
		}
	}
}

// Feed fans values out to any number of subscribers.  Every subscriber sees
// every value published after it subscribed, in publish order.  With replay
// enabled a new subscriber first receives the most recent value.
type Feed[T any] struct {
	mutex   sync.Mutex
	replay  bool
	hasLast bool
	last    T
	subs    map[*Queue[T]]struct{}
	closed  bool
}

func NewFeed[T any](replay bool) *Feed[T] {
	return &Feed[T]{
		replay: replay,
		subs:   map[*Queue[T]]struct{}{},
	}
}

// NewFeedWithValue is a replaying feed seeded with an initial value.
func NewFeedWithValue[T any](initial T) *Feed[T] {
	f := NewFeed[T](true)
	f.last = initial
	f.hasLast = true
	return f
}

func (f *Feed[T]) Publish(v T) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.closed {
		return
	}
	f.last = v
	f.hasLast = true
	for q := range f.subs {
		q.Push(v)
	}
}

// Last returns the most recently published value.
func (f *Feed[T]) Last() (T, bool) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.last, f.hasLast
}

// Subscribe returns the subscriber channel and a cancel function.  The
// channel is closed by cancel or by Close.
func (f *Feed[T]) Subscribe() (<-chan T, func()) {
	q := NewQueue[T]()

	f.mutex.Lock()
	if f.closed {
		f.mutex.Unlock()
		q.Close()
		return q.Out(), func() {}
	}
	if f.replay && f.hasLast {
		q.Push(f.last)
	}
	f.subs[q] = struct{}{}
	f.mutex.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mutex.Lock()
			delete(f.subs, q)
			f.mutex.Unlock()
			q.Close()
		})
	}
	return q.Out(), cancel
}

func (f *Feed[T]) Close() {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for q := range f.subs {
		q.Close()
	}
	f.subs = map[*Queue[T]]struct{}{}
}
