// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package events is the in-process bus carrying engine notifications to UI
// and monitoring consumers.
package events

import (
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/models"
)

// DefaultBufferSize is the per-subscriber queue length.
const DefaultBufferSize = 64

// Handler consumes events. Handlers run on their own goroutine, one per
// subscription, in publish order.
type Handler func(models.EngineEvent)

// Publisher is the producer side of the bus. Engine components depend on
// it rather than on *Bus.
type Publisher interface {
	Publish(event models.EngineEvent)
}

// Bus fans events out to subscribers. A slow subscriber never blocks the
// publisher: once its queue is full further events for it are dropped and
// counted.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool
	wg     sync.WaitGroup

	now     func() time.Time
	dropped atomic.Int64

	logger *logger.Logger
}

type subscriber struct {
	queue chan models.EngineEvent
	once  sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.queue) })
}

// NewBus returns an open bus.
func NewBus(log *logger.Logger) *Bus {
	return &Bus{
		subs:   make(map[uint64]*subscriber),
		now:    time.Now,
		logger: log.WithComponent("events"),
	}
}

// Subscribe registers fn and returns a function that removes it. Events
// already queued for fn are still delivered after removal.
func (b *Bus) Subscribe(fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.nextID
	b.nextID++
	sub := &subscriber{queue: make(chan models.EngineEvent, DefaultBufferSize)}
	b.subs[id] = sub

	b.wg.Add(1)
	go b.dispatch(sub, fn)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			s.close()
		}
	}
}

// Publish stamps event with the current time if unset and queues it for
// every subscriber. Publishing on a closed bus is a no-op.
func (b *Bus) Publish(event models.EngineEvent) {
	if event.At.IsZero() {
		event.At = b.now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, sub := range b.subs {
		select {
		case sub.queue <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber's
// queue was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close stops accepting events and waits until every subscriber has drained
// its queue.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.wg.Wait()
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		sub.close()
	}
	b.mu.Unlock()

	b.wg.Wait()
}

func (b *Bus) dispatch(sub *subscriber, fn Handler) {
	defer b.wg.Done()
	for event := range sub.queue {
		b.deliver(fn, event)
	}
}

func (b *Bus) deliver(fn Handler, event models.EngineEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("kind", string(event.Kind)).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("event handler panicked")
		}
	}()
	fn(event)
}

var _ Publisher = (*Bus)(nil)
