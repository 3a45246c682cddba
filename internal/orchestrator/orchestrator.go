// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package orchestrator runs sync cycles: it pulls remote changes per table
// from the last checkpoint, applies them through the ingest applier, and
// pushes the queued local operations in priority order.
//
// Cycles run on a cadence chosen by network tier, on demand, and after a
// debounce following local writes. Concurrent callers of PerformSync share
// the cycle already in flight.
package orchestrator

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/MKhiriev/go-sync-engine/internal/adapter"
	"github.com/MKhiriev/go-sync-engine/internal/config"
	"github.com/MKhiriev/go-sync-engine/internal/events"
	"github.com/MKhiriev/go-sync-engine/internal/ingest"
	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/internal/store"
	"github.com/MKhiriev/go-sync-engine/internal/strategy"
	"github.com/MKhiriev/go-sync-engine/internal/utils"
	"github.com/MKhiriev/go-sync-engine/internal/workers"
	"github.com/MKhiriev/go-sync-engine/models"
)

const (
	periodicTask = "sync:periodic"
	debounceTask = "sync:debounce"
	retryTask    = "sync:retry"

	cycleKey = "cycle"

	maxCycleRetryDelay = 5 * time.Minute
)

// Dependencies are the collaborators of an Orchestrator.
type Dependencies struct {
	Local       store.LocalStore
	Checkpoints store.Checkpoints
	Queue       *Queue
	Remote      adapter.RemoteStore
	Applier     *ingest.Applier
	Holder      *strategy.Holder
	Scheduler   *workers.Scheduler
	Publisher   events.Publisher
}

// Orchestrator coordinates pull and push cycles.
type Orchestrator struct {
	cfg     config.Sync
	cadence map[models.NetworkTier]time.Duration

	local       store.LocalStore
	checkpoints store.Checkpoints
	queue       *Queue
	remote      adapter.RemoteStore
	applier     *ingest.Applier
	holder      *strategy.Holder
	scheduler   *workers.Scheduler
	publisher   events.Publisher

	group singleflight.Group

	mu         sync.Mutex
	started    bool
	tier       models.NetworkTier
	authPaused bool
	attempt    int
	last       *models.SyncResult

	now    func() time.Time
	logger *logger.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithTier sets the initial network tier.
func WithTier(tier models.NetworkTier) Option {
	return func(o *Orchestrator) { o.tier = tier }
}

// NewOrchestrator returns an idle orchestrator; Start arms the cadence.
func NewOrchestrator(cfg config.Sync, cadence map[models.NetworkTier]time.Duration, deps Dependencies, log *logger.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:         cfg,
		cadence:     cadence,
		local:       deps.Local,
		checkpoints: deps.Checkpoints,
		queue:       deps.Queue,
		remote:      deps.Remote,
		applier:     deps.Applier,
		holder:      deps.Holder,
		scheduler:   deps.Scheduler,
		publisher:   deps.Publisher,
		tier:        models.TierGood,
		now:         time.Now,
		logger:      log.WithComponent("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start arms the periodic cycle and schedules a first cycle right away.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	o.mu.Lock()
	o.started = true
	interval := o.intervalLocked()
	paused := o.authPaused
	o.mu.Unlock()

	if !paused {
		o.scheduler.Every(periodicTask, interval, o.tick)
		o.scheduler.After(debounceTask, 0, o.tick)
	}
	o.logger.Info().Dur("interval", interval).Msg("sync cadence started")
	return nil
}

// Stop cancels every scheduled cycle. A cycle in flight finishes.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	o.started = false
	o.mu.Unlock()

	o.scheduler.CancelPrefix("sync:")
	o.logger.Info().Msg("sync cadence stopped")
}

func (o *Orchestrator) tick(ctx context.Context) {
	if _, err := o.PerformSync(ctx, models.SyncIncremental); err != nil && !errors.Is(err, ErrAuthPaused) {
		o.logger.Warn().Err(err).Msg("scheduled sync failed")
	}
}

// Trigger schedules an incremental cycle after the debounce delay. Calls
// within the delay collapse into one cycle.
func (o *Orchestrator) Trigger() {
	o.mu.Lock()
	skip := !o.started || o.authPaused
	o.mu.Unlock()
	if skip {
		return
	}
	o.scheduler.After(debounceTask, o.cfg.DebounceDelay, o.tick)
}

// SetNetworkTier moves the periodic cycle to the tier's interval. The
// running timer restarts; no extra cycle is scheduled.
func (o *Orchestrator) SetNetworkTier(tier models.NetworkTier) {
	o.mu.Lock()
	if o.tier == tier {
		o.mu.Unlock()
		return
	}
	o.tier = tier
	interval := o.intervalLocked()
	o.mu.Unlock()

	o.scheduler.Reset(periodicTask, interval)
	o.logger.Info().Str("tier", string(tier)).Dur("interval", interval).Msg("sync cadence changed")
}

// Reconfigure applies the active strategy to the cadence.
func (o *Orchestrator) Reconfigure() {
	o.mu.Lock()
	interval := o.intervalLocked()
	o.mu.Unlock()

	o.scheduler.Reset(periodicTask, interval)
}

// Interval returns the current periodic interval.
func (o *Orchestrator) Interval() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.intervalLocked()
}

// intervalLocked doubles the tier interval under battery optimised
// strategies.
func (o *Orchestrator) intervalLocked() time.Duration {
	interval, ok := o.cadence[o.tier]
	if !ok {
		interval = o.cadence[models.TierGood]
	}
	if o.holder != nil && o.holder.Load().BatteryOptimized {
		interval *= 2
	}
	return interval
}

// AuthPaused reports whether cycles are paused after an auth failure.
func (o *Orchestrator) AuthPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.authPaused
}

// ResumeAfterAuth lifts the auth pause and runs a cycle soon.
func (o *Orchestrator) ResumeAfterAuth() {
	o.mu.Lock()
	wasPaused := o.authPaused
	o.authPaused = false
	o.attempt = 0
	started := o.started
	interval := o.intervalLocked()
	o.mu.Unlock()

	if !wasPaused || !started {
		return
	}
	o.scheduler.Every(periodicTask, interval, o.tick)
	o.Trigger()
	o.logger.Info().Msg("sync resumed after re-authentication")
}

func (o *Orchestrator) pauseForAuth(err error) {
	o.mu.Lock()
	o.authPaused = true
	o.attempt = 0
	o.mu.Unlock()

	o.scheduler.CancelPrefix("sync:")
	o.logger.Error().Err(err).Msg("sync paused: authentication rejected")
}

// LastResult returns the result of the most recent cycle.
func (o *Orchestrator) LastResult() (models.SyncResult, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return models.SyncResult{}, false
	}
	return *o.last, true
}

// PerformSync runs one cycle. A call made while a cycle is in flight
// waits for it and receives its result, whatever mode it was started in.
func (o *Orchestrator) PerformSync(ctx context.Context, mode models.SyncMode) (models.SyncResult, error) {
	if !mode.Valid() {
		return models.SyncResult{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	if o.AuthPaused() {
		return models.SyncResult{
			Mode:      mode,
			StartedAt: o.now(),
			Errors:    []models.SyncErrorInfo{{Kind: "auth", Message: ErrAuthPaused.Error()}},
		}, ErrAuthPaused
	}

	v, err, _ := o.group.Do(cycleKey, func() (any, error) {
		return o.runCycle(ctx, mode)
	})
	res, _ := v.(models.SyncResult)
	return res, err
}

func (o *Orchestrator) runCycle(ctx context.Context, mode models.SyncMode) (models.SyncResult, error) {
	res := models.SyncResult{Mode: mode, StartedAt: o.now()}
	log := o.logger.With().Str("mode", string(mode)).Logger()
	log.Debug().Msg("sync cycle started")

	cycleErr := o.pull(ctx, mode, &res)
	if cycleErr == nil || !errors.Is(cycleErr, adapter.ErrUnauthorized) {
		if err := o.push(ctx, &res); err != nil && cycleErr == nil {
			cycleErr = err
		}
	}

	res.Duration = o.now().Sub(res.StartedAt)
	res.Success = cycleErr == nil

	o.mu.Lock()
	o.last = &res
	o.mu.Unlock()

	if cycleErr == nil {
		o.resetAttempts()
		o.publisher.Publish(models.EngineEvent{Kind: models.EventSyncCompleted, Result: &res, Count: res.ProcessedCount, At: o.now()})
		log.Info().
			Int("processed", res.ProcessedCount).
			Int("failed", res.FailedCount).
			Int("conflicts", len(res.Conflicts)).
			Int64("bytes", res.BytesTransferred).
			Dur("duration", res.Duration).
			Msg("sync cycle completed")
		return res, nil
	}

	cycleErr = fmt.Errorf("%w: %w", ErrSync, cycleErr)
	if errors.Is(cycleErr, adapter.ErrUnauthorized) {
		o.pauseForAuth(cycleErr)
	} else if adapter.IsRetryable(cycleErr) {
		o.scheduleRetry()
	}
	o.publisher.Publish(models.EngineEvent{Kind: models.EventSyncFailed, Result: &res, Err: cycleErr.Error(), At: o.now()})
	log.Warn().Err(cycleErr).Int("processed", res.ProcessedCount).Dur("duration", res.Duration).Msg("sync cycle failed")
	return res, cycleErr
}

func (o *Orchestrator) resetAttempts() {
	o.mu.Lock()
	o.attempt = 0
	o.mu.Unlock()
	o.scheduler.Cancel(retryTask)
}

// scheduleRetry re-runs a failed cycle with exponential backoff until
// CycleMaxRetries is used up; the periodic cadence takes over after that.
func (o *Orchestrator) scheduleRetry() {
	o.mu.Lock()
	if !o.started || o.attempt >= o.cfg.CycleMaxRetries {
		o.attempt = 0
		o.mu.Unlock()
		return
	}
	attempt := o.attempt
	o.attempt++
	o.mu.Unlock()

	s := o.holder.Load()
	delay := utils.Backoff(s.RetryDelay, s.BackoffMultiplier, attempt, maxCycleRetryDelay)
	o.scheduler.After(retryTask, delay, o.tick)
	o.logger.Debug().Int("attempt", attempt+1).Dur("delay", delay).Msg("sync cycle retry scheduled")
}

type tablePull struct {
	table    models.Table
	since    int64
	entities []models.Entity
	err      error
}

// pull fetches every table concurrently and applies the results in
// dependency order. A table's checkpoint advances only when all of its
// records were applied.
func (o *Orchestrator) pull(ctx context.Context, mode models.SyncMode, res *models.SyncResult) error {
	pulls := make([]tablePull, len(models.Tables))

	g, gctx := errgroup.WithContext(ctx)
	for i, table := range models.Tables {
		pulls[i].table = table
		g.Go(func() error {
			p := &pulls[i]
			if mode == models.SyncIncremental {
				since, err := o.checkpoints.GetCheckpoint(gctx, table)
				if err != nil {
					p.err = fmt.Errorf("read checkpoint of %s: %w", table, err)
					return nil
				}
				p.since = since
			}
			p.entities, p.err = o.remote.Pull(gctx, table, p.since)
			if errors.Is(p.err, adapter.ErrUnauthorized) {
				return p.err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		res.Errors = append(res.Errors, models.SyncErrorInfo{Kind: "auth", Message: err.Error()})
		return err
	}

	var firstErr error
	for _, p := range pulls {
		if p.err != nil {
			res.Errors = append(res.Errors, models.SyncErrorInfo{
				Kind:      "sync",
				Table:     p.table,
				Message:   p.err.Error(),
				Retryable: adapter.IsRetryable(p.err),
			})
			firstErr = cmpErr(firstErr, fmt.Errorf("pull %s: %w", p.table, p.err))
			continue
		}
		if err := o.applyTable(ctx, p, res); err != nil {
			firstErr = cmpErr(firstErr, err)
		}
	}
	return firstErr
}

func cmpErr(current, next error) error {
	if current != nil {
		return current
	}
	return next
}

func byVersion(a, b models.Entity) int {
	return cmp.Compare(a.Base().SyncVersion, b.Base().SyncVersion)
}

func (o *Orchestrator) applyTable(ctx context.Context, p tablePull, res *models.SyncResult) error {
	slices.SortStableFunc(p.entities, byVersion)

	checkpoint := p.since
	for _, e := range p.entities {
		res.BytesTransferred += encodedSize(e)

		result, err := o.applier.ApplyRemote(ctx, e)
		if err != nil {
			if errors.Is(err, models.ErrInvalidEntity) || errors.Is(err, ingest.ErrInvalidEvent) {
				res.FailedCount++
				res.Errors = append(res.Errors, models.SyncErrorInfo{
					Kind: "sync", Table: p.table, EntityID: e.Base().ID, Message: err.Error(),
				})
				continue
			}
			res.Errors = append(res.Errors, models.SyncErrorInfo{
				Kind: "sync", Table: p.table, EntityID: e.Base().ID, Message: err.Error(),
			})
			return fmt.Errorf("apply %s: %w", p.table, err)
		}

		res.ProcessedCount++
		if result.Conflict != nil {
			res.Conflicts = append(res.Conflicts, *result.Conflict)
		}
		checkpoint = max(checkpoint, e.Base().SyncVersion)
	}

	if checkpoint > p.since {
		if err := o.checkpoints.SetCheckpoint(ctx, p.table, checkpoint); err != nil {
			return fmt.Errorf("save checkpoint of %s: %w", p.table, err)
		}
	}
	return nil
}

func encodedSize(v any) int64 {
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return int64(len(data))
}

// push uploads pending operations in queue order. An operation waits while
// one of its dependencies is still queued; passes repeat until no more
// operations can go. A transport failure ends the pass, an auth failure
// ends the cycle.
func (o *Orchestrator) push(ctx context.Context, res *models.SyncResult) error {
	ops, err := o.queue.Pending(ctx)
	if err != nil {
		return err
	}

	queued := make(map[string]bool, len(ops))
	for _, op := range ops {
		queued[op.ID] = true
	}
	compress := o.holder.Load().CompressionEnabled

	for progress := true; progress && len(ops) > 0; {
		progress = false
		waiting := ops[:0]
		for _, op := range ops {
			if blocked(op, queued) {
				waiting = append(waiting, op)
				continue
			}
			if err = ctx.Err(); err != nil {
				return err
			}

			done, err := o.pushOne(ctx, op, compress, res)
			if err != nil {
				return err
			}
			if done {
				delete(queued, op.ID)
				progress = true
			}
		}
		ops = waiting
	}
	return nil
}

func blocked(op models.SyncOperation, queued map[string]bool) bool {
	for _, dep := range op.Dependencies {
		if queued[dep] {
			return true
		}
	}
	return false
}

// pushOne reports whether op left the queue. The returned error aborts the
// push pass.
func (o *Orchestrator) pushOne(ctx context.Context, op models.SyncOperation, compress bool, res *models.SyncResult) (bool, error) {
	log := o.logger.With().
		Str("operation_id", op.ID).
		Str("table", string(op.EntityType)).
		Str("entity_id", op.EntityID).
		Logger()

	live, err := o.queue.MarkProcessing(ctx, op)
	if err != nil {
		return false, fmt.Errorf("mark operation %s: %w", op.ID, err)
	}
	if !live {
		log.Debug().Msg("operation replaced before push")
		return true, nil
	}

	ack, err := o.remote.Push(ctx, op, compress)
	switch {
	case err == nil:
		res.BytesTransferred += int64(len(op.Payload))
		if err = o.confirm(ctx, op, ack); err != nil {
			return false, err
		}
		res.ProcessedCount++
		log.Debug().Int64("version", ack.SyncVersion).Msg("operation acknowledged")
		return true, nil

	case errors.Is(err, adapter.ErrVersionConflict):
		if err = o.rebase(ctx, op, res); err != nil {
			return o.failOne(ctx, op, err, res)
		}
		return true, nil

	case errors.Is(err, adapter.ErrUnauthorized):
		if rerr := o.queue.Release(ctx, op); rerr != nil {
			log.Warn().Err(rerr).Msg("operation not released after auth failure")
		}
		res.Errors = append(res.Errors, models.SyncErrorInfo{
			Kind: "auth", Table: op.EntityType, EntityID: op.EntityID, OperationID: op.ID, Message: err.Error(),
		})
		return false, fmt.Errorf("push %s: %w", op.ID, err)

	case errors.Is(err, adapter.ErrTransport) || errors.Is(err, context.DeadlineExceeded):
		if _, ferr := o.failOne(ctx, op, err, res); ferr != nil {
			return false, ferr
		}
		return false, fmt.Errorf("push %s: %w", op.ID, err)

	default:
		return o.failOne(ctx, op, err, res)
	}
}

func (o *Orchestrator) failOne(ctx context.Context, op models.SyncOperation, cause error, res *models.SyncResult) (bool, error) {
	res.FailedCount++
	updated, exhausted, err := o.queue.Fail(ctx, op, cause)
	if err != nil {
		return false, err
	}

	log := o.logger.Warn().Err(cause).
		Str("operation_id", op.ID).
		Str("table", string(op.EntityType)).
		Str("entity_id", op.EntityID).
		Int("retry_count", updated.RetryCount)
	if !exhausted {
		log.Msg("operation push failed")
		return false, nil
	}

	log.Msg("operation retries exhausted")
	res.Errors = append(res.Errors, models.SyncErrorInfo{
		Kind:        "operation",
		Table:       op.EntityType,
		EntityID:    op.EntityID,
		OperationID: op.ID,
		Message:     fmt.Errorf("%w: %w", ErrOperationExhausted, cause).Error(),
	})
	return true, nil
}

// confirm removes an acknowledged operation and records the assigned
// version locally. A record edited again while the push was in flight
// stays pending.
func (o *Orchestrator) confirm(ctx context.Context, op models.SyncOperation, ack models.Ack) error {
	if err := o.queue.Complete(ctx, op.ID); err != nil {
		return fmt.Errorf("complete operation %s: %w", op.ID, err)
	}

	pushed, err := op.Entity()
	if err != nil {
		return fmt.Errorf("decode operation %s: %w", op.ID, err)
	}

	_, err = o.local.Update(ctx, op.EntityType, op.EntityID, func(current models.Entity) (models.Entity, error) {
		if current == nil {
			return nil, nil
		}
		b := current.Base()
		if ack.SyncVersion < b.SyncVersion && !b.PendingSync {
			return nil, nil
		}

		same, err := utils.SameContent(current, pushed)
		if err != nil {
			return nil, err
		}
		b.SyncVersion = max(b.SyncVersion, ack.SyncVersion)
		if same && b.IsDeleted == pushed.Base().IsDeleted {
			b.PendingSync = false
		}
		return current, nil
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("confirm %s %s: %w", op.EntityType, op.EntityID, err)
	}
	return nil
}

// rebase handles a 409: the backend's copy is fetched and run through
// conflict resolution. Whatever local state survives is requeued on top
// of the remote version by the applier, so the rejected operation is done.
func (o *Orchestrator) rebase(ctx context.Context, op models.SyncOperation, res *models.SyncResult) error {
	remote, err := o.remote.Fetch(ctx, op.EntityType, op.EntityID)
	if err != nil {
		return fmt.Errorf("fetch %s %s after version conflict: %w", op.EntityType, op.EntityID, err)
	}
	res.BytesTransferred += encodedSize(remote)

	result, err := o.applier.ApplyRemote(ctx, remote)
	if err != nil {
		return fmt.Errorf("apply remote %s %s: %w", op.EntityType, op.EntityID, err)
	}
	if result.Conflict != nil {
		res.Conflicts = append(res.Conflicts, *result.Conflict)
	}

	if result.Outcome == ingest.OutcomeManual {
		if err = o.queue.Park(ctx, op, "awaiting manual conflict resolution"); err != nil {
			return err
		}
		res.Errors = append(res.Errors, models.SyncErrorInfo{
			Kind: "conflict", Table: op.EntityType, EntityID: op.EntityID, OperationID: op.ID,
			Message: "version conflict left for manual resolution",
		})
		return nil
	}

	// the applier already replaced or superseded op unless the copies matched
	if err = o.queue.Complete(ctx, op.ID); err != nil {
		return fmt.Errorf("complete operation %s: %w", op.ID, err)
	}
	res.ProcessedCount++
	o.logger.Info().
		Str("operation_id", op.ID).
		Str("table", string(op.EntityType)).
		Str("entity_id", op.EntityID).
		Str("outcome", string(result.Outcome)).
		Msg("operation rebased after version conflict")

	o.Trigger()
	return nil
}
