// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package ingest turns the live change feed into ordered, batched writes
// to the local store.
//
// The [Pipeline] buffers events per table and flushes a buffer when it
// reaches the active strategy's batch size or when the batch interval has
// elapsed since its first event, whichever comes first. Flushes of one
// table never overlap, so events for the same record are applied in
// arrival order. A batch whose handler fails goes back to the head of its
// buffer and is retried with backoff: delivery is at least once.
//
// The [Applier] is the handler used in production. It applies each remote
// record under the store's row lock, routing divergent copies through the
// conflict resolver.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MKhiriev/go-sync-engine/internal/events"
	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/internal/strategy"
	"github.com/MKhiriev/go-sync-engine/internal/utils"
	"github.com/MKhiriev/go-sync-engine/internal/workers"
	"github.com/MKhiriev/go-sync-engine/models"
)

// maxRetryDelay caps the backoff between retries of a failed batch.
const maxRetryDelay = time.Minute

// BatchHandler applies one batch. A non-nil error requeues the batch.
type BatchHandler func(ctx context.Context, batch models.RealtimeEventBatch) error

// Pipeline batches change events per table.
type Pipeline struct {
	handler   BatchHandler
	strategy  *strategy.Holder
	scheduler *workers.Scheduler
	publisher events.Publisher

	mu      sync.Mutex
	buffers map[models.Table]*buffer
	closed  bool

	now    func() time.Time
	logger *logger.Logger
}

type buffer struct {
	// flushMu is the per-table critical section around the handler.
	flushMu  sync.Mutex
	events   []models.ChangeEvent
	failures int
}

// NewPipeline returns a pipeline that hands batches to handler.
func NewPipeline(
	handler BatchHandler,
	holder *strategy.Holder,
	scheduler *workers.Scheduler,
	publisher events.Publisher,
	log *logger.Logger,
) *Pipeline {
	p := &Pipeline{
		handler:   handler,
		strategy:  holder,
		scheduler: scheduler,
		publisher: publisher,
		buffers:   make(map[models.Table]*buffer, len(models.Tables)),
		now:       time.Now,
		logger:    log.WithComponent("ingest"),
	}
	for _, t := range models.Tables {
		p.buffers[t] = &buffer{}
	}
	return p
}

func flushTask(table models.Table) string {
	return "ingest:flush:" + string(table)
}

// Ingest buffers event. It never blocks on the handler.
func (p *Pipeline) Ingest(event models.ChangeEvent) error {
	if event.Record() == nil {
		return fmt.Errorf("%w: %s event on %s carries no record", ErrInvalidEvent, event.Type, event.Table)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPipelineClosed
	}
	buf, ok := p.buffers[event.Table]
	if !ok {
		return fmt.Errorf("%w: %w: %q", ErrInvalidEvent, models.ErrUnknownTable, event.Table)
	}

	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = p.now()
	}
	buf.events = append(buf.events, event)
	if buf.failures > 0 {
		// the retry timer owns the next flush
		return nil
	}

	s := p.strategy.Load()
	switch {
	case len(buf.events) >= s.BatchSize:
		p.scheduleFlush(event.Table, 0)
	case len(buf.events) == 1:
		p.scheduleFlush(event.Table, s.BatchInterval)
	}
	return nil
}

// Pending returns the number of buffered events for table.
func (p *Pipeline) Pending(table models.Table) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if buf, ok := p.buffers[table]; ok {
		return len(buf.events)
	}
	return 0
}

// Flush synchronously drains table, one batch at a time. It stops at the
// first handler error; the failed batch stays at the head of the buffer.
func (p *Pipeline) Flush(ctx context.Context, table models.Table) error {
	for {
		flushed, err := p.flush(ctx, table)
		if err != nil || flushed == 0 {
			return err
		}
	}
}

// FlushAll drains every table and returns the first error.
func (p *Pipeline) FlushAll(ctx context.Context) error {
	var first error
	for _, table := range models.Tables {
		if err := p.Flush(ctx, table); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Reconfigure applies the active strategy to buffered events: tables that
// already hold a full batch are flushed now.
func (p *Pipeline) Reconfigure() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	s := p.strategy.Load()
	for table, buf := range p.buffers {
		if len(buf.events) >= s.BatchSize && buf.failures == 0 {
			p.scheduleFlush(table, 0)
		}
	}
}

// Close stops accepting events and cancels pending flush timers. Buffered
// events stay until FlushAll.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	p.scheduler.CancelPrefix("ingest:flush:")
}

// scheduleFlush must be called with p.mu held.
func (p *Pipeline) scheduleFlush(table models.Table, delay time.Duration) {
	p.scheduler.After(flushTask(table), delay, func(ctx context.Context) {
		if _, err := p.flush(ctx, table); err != nil {
			p.logger.Warn().Err(err).Str("table", string(table)).Msg("batch requeued")
		}
	})
}

// flush hands at most one batch of table to the handler and returns its
// size.
func (p *Pipeline) flush(ctx context.Context, table models.Table) (int, error) {
	p.mu.Lock()
	buf, ok := p.buffers[table]
	p.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %q", models.ErrUnknownTable, table)
	}

	buf.flushMu.Lock()
	defer buf.flushMu.Unlock()

	s := p.strategy.Load()

	p.mu.Lock()
	n := min(len(buf.events), s.BatchSize)
	if n == 0 {
		p.mu.Unlock()
		return 0, nil
	}
	taken := make([]models.ChangeEvent, n)
	copy(taken, buf.events[:n])
	buf.events = buf.events[n:]
	p.mu.Unlock()

	batch := models.RealtimeEventBatch{
		ID:         utils.NewID(),
		Table:      table,
		Events:     taken,
		Timestamp:  p.now(),
		Priority:   batchPriority(taken),
		Compressed: s.CompressionEnabled,
	}

	err := p.handler(ctx, batch)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		buf.events = append(taken, buf.events...)
		buf.failures++
		delay := utils.Backoff(s.RetryDelay, s.BackoffMultiplier, buf.failures-1, maxRetryDelay)
		if !p.closed {
			p.scheduleFlush(table, delay)
		}
		return 0, fmt.Errorf("flush %s batch %s (%d events, attempt %d): %w", table, batch.ID, n, buf.failures, err)
	}

	buf.failures = 0
	p.publisher.Publish(models.EngineEvent{
		Kind:  models.EventBatchApplied,
		Table: table,
		Count: n,
	})

	if !p.closed {
		switch {
		case len(buf.events) >= s.BatchSize:
			p.scheduleFlush(table, 0)
		case len(buf.events) > 0:
			p.scheduleFlush(table, s.BatchInterval)
		}
	}
	return n, nil
}

func batchPriority(batch []models.ChangeEvent) models.Priority {
	var p models.Priority
	for _, e := range batch {
		p = max(p, e.Priority)
	}
	return p
}
