package sync

import (
	"fmt"
	stdsync "sync"

	"github.com/kimhsiao/coachsync/internal/logging"
)

// DefaultNotifyBuffer is the per-subscriber backlog before notifications
// are dropped.
const DefaultNotifyBuffer = 16

// broadcaster fans values out to subscribers. Every subscriber has its own
// goroutine and buffered channel, so a slow or panicking callback never
// blocks the publisher or other subscribers.
type broadcaster[T any] struct {
	topic  string
	buffer int

	mu     stdsync.RWMutex
	subs   map[int]*subscriber[T]
	nextID int
	closed bool
	wg     stdsync.WaitGroup
}

type subscriber[T any] struct {
	ch   chan T
	once stdsync.Once
}

func newBroadcaster[T any](topic string, buffer int) *broadcaster[T] {
	if buffer <= 0 {
		buffer = DefaultNotifyBuffer
	}
	return &broadcaster[T]{
		topic:  topic,
		buffer: buffer,
		subs:   make(map[int]*subscriber[T]),
	}
}

// subscribe registers fn and returns its unsubscribe function.
func (b *broadcaster[T]) subscribe(fn func(T)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}

	id := b.nextID
	b.nextID++
	sub := &subscriber[T]{ch: make(chan T, b.buffer)}
	b.subs[id] = sub

	b.wg.Add(1)
	go b.deliver(sub, fn)

	return func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			sub.once.Do(func() { close(sub.ch) })
		}
		b.mu.Unlock()
	}
}

func (b *broadcaster[T]) deliver(sub *subscriber[T], fn func(T)) {
	defer b.wg.Done()
	for v := range sub.ch {
		b.call(fn, v)
	}
}

func (b *broadcaster[T]) call(fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Subscriber panicked", fmt.Errorf("%v", r),
				map[string]interface{}{"topic": b.topic})
		}
	}()
	fn(v)
}

// publish hands v to every subscriber without waiting. A subscriber whose
// buffer is full misses v.
func (b *broadcaster[T]) publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, sub := range b.subs {
		select {
		case sub.ch <- v:
		default:
			logging.Warn("Subscriber backlog full, notification dropped",
				map[string]interface{}{"topic": b.topic, "subscriber": id})
		}
	}
}

// close unsubscribes everyone and waits for in-flight callbacks.
func (b *broadcaster[T]) close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		sub.once.Do(func() { close(sub.ch) })
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *broadcaster[T]) count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
