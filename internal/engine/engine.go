// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package engine assembles the sync engine.
//
// New builds every component explicitly, leaves first: storages, the
// shared scheduler and event bus, the strategy holder and manager, the
// remote store, the conflict resolver, the operation queue, the applier and
// ingestion pipeline, the connection manager and finally the orchestrator.
// Back-references (strategy reconfiguration targets, the tier sink) are
// attached once everything exists, so there are no initialisation cycles.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MKhiriev/go-sync-engine/internal/adapter"
	"github.com/MKhiriev/go-sync-engine/internal/config"
	"github.com/MKhiriev/go-sync-engine/internal/conflict"
	"github.com/MKhiriev/go-sync-engine/internal/connection"
	"github.com/MKhiriev/go-sync-engine/internal/events"
	"github.com/MKhiriev/go-sync-engine/internal/ingest"
	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/internal/orchestrator"
	"github.com/MKhiriev/go-sync-engine/internal/store"
	"github.com/MKhiriev/go-sync-engine/internal/strategy"
	"github.com/MKhiriev/go-sync-engine/internal/workers"
	"github.com/MKhiriev/go-sync-engine/models"
)

var (
	// ErrDestroyed is returned by every operation after Destroy.
	ErrDestroyed = errors.New("engine destroyed")
)

// Engine owns every component of one replica.
type Engine struct {
	cfg *config.StructuredConfig

	storages     *store.Storages
	scheduler    *workers.Scheduler
	bus          *events.Bus
	holder       *strategy.Holder
	strategies   *strategy.Manager
	remote       adapter.RemoteStore
	resolver     *conflict.Resolver
	queue        *orchestrator.Queue
	applier      *ingest.Applier
	pipeline     *ingest.Pipeline
	connections  *connection.Manager
	orchestrator *orchestrator.Orchestrator
	workers      *workers.Group

	mu        sync.Mutex
	started   bool
	destroyed bool

	logger *logger.Logger
}

type options struct {
	storages *store.Storages
	remote   adapter.RemoteStore
}

// Option overrides a collaborator the engine would otherwise build from
// configuration.
type Option func(*options)

// WithStorages uses s instead of opening cfg.Storage.DSN. The engine takes
// ownership and closes s on Destroy.
func WithStorages(s *store.Storages) Option {
	return func(o *options) { o.storages = s }
}

// WithRemote uses r instead of the HTTP remote store. Request samples from
// r do not reach the strategy manager.
func WithRemote(r adapter.RemoteStore) Option {
	return func(o *options) { o.remote = r }
}

// New builds an engine from cfg. Nothing runs until Start.
func New(ctx context.Context, cfg *config.StructuredConfig, log *logger.Logger, opts ...Option) (*Engine, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{cfg: cfg, logger: log.WithComponent("engine")}

	e.storages = o.storages
	if e.storages == nil {
		storages, err := store.NewStorages(ctx, cfg.Storage.DSN, log)
		if err != nil {
			return nil, fmt.Errorf("error creating storages: %w", err)
		}
		e.storages = storages
	}

	if err := e.build(cfg, o.remote, log); err != nil {
		_ = e.storages.Close()
		return nil, err
	}

	e.logger.Info().
		Str("user_id", cfg.App.UserID).
		Str("device_id", cfg.App.DeviceID).
		Str("strategy", e.holder.Load().Name).
		Msg("engine built")
	return e, nil
}

func (e *Engine) build(cfg *config.StructuredConfig, remote adapter.RemoteStore, log *logger.Logger) error {
	e.scheduler = workers.NewScheduler(log)
	e.bus = events.NewBus(log)

	catalog, err := strategy.LoadCatalog(cfg.Strategy.CatalogFile)
	if err != nil {
		return err
	}
	initial, err := catalog.Get(cfg.Strategy.Initial)
	if err != nil {
		return fmt.Errorf("initial strategy: %w", err)
	}
	e.holder = strategy.NewHolder(initial)
	e.strategies = strategy.NewManager(cfg.Strategy, cfg.App.DeviceID, e.holder, catalog,
		e.storages.Preferences, e.scheduler, e.bus, log)

	e.remote = remote
	if e.remote == nil {
		e.remote, err = adapter.NewHTTPRemoteStore(cfg.Remote, e.strategies, log)
		if err != nil {
			return fmt.Errorf("error creating remote store: %w", err)
		}
	}

	e.resolver = conflict.NewResolver(cfg.Conflict, log)

	operationRetries := cfg.Sync.OperationMaxRetries
	e.queue = orchestrator.NewQueue(e.storages.Operations, func() int {
		if n := e.holder.Load().MaxRetries; n > 0 {
			return n
		}
		return operationRetries
	}, log)

	e.applier = ingest.NewApplier(e.storages.Entities, e.resolver, e.queue, e.bus, e.strategies.ResolutionContext, log)
	e.pipeline = ingest.NewPipeline(e.applier.HandleBatch, e.holder, e.scheduler, e.bus, log)

	e.connections = connection.NewManager(cfg.ConnectionConfig(), e.remote, e.pipeline, e.holder, e.scheduler, e.bus, log,
		connection.WithTierSource(e.strategies),
		connection.WithHealthObserver(e.strategies),
	)

	e.orchestrator = orchestrator.NewOrchestrator(cfg.Sync, cfg.Cadence(), orchestrator.Dependencies{
		Local:       e.storages.Entities,
		Checkpoints: e.storages.Checkpoints,
		Queue:       e.queue,
		Remote:      e.remote,
		Applier:     e.applier,
		Holder:      e.holder,
		Scheduler:   e.scheduler,
		Publisher:   e.bus,
	}, log, orchestrator.WithTier(e.strategies.Tier()))

	e.strategies.Attach(e.connections, e.pipeline, e.orchestrator)
	e.strategies.SetTierSink(e.orchestrator)

	e.workers = workers.NewGroup(
		e.strategies,
		e.connections,
		channels{manager: e.connections, filter: e.channelFilter()},
		e.orchestrator,
	)
	return nil
}

// channelFilter narrows every change feed to the replicated user.
func (e *Engine) channelFilter() string {
	if e.cfg.App.UserID == "" {
		return ""
	}
	return "user_id=eq." + e.cfg.App.UserID
}

// Start opens one change feed per table and starts the monitoring tick and
// the sync cadence. Calling Start twice is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return ErrDestroyed
	}
	if e.started {
		return nil
	}

	if err := e.workers.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	e.started = true
	e.logger.Info().Int("channels", len(models.Tables)).Msg("engine started")
	return nil
}

// Destroy tears the engine down: cadence and monitoring stop, every
// channel closes, buffered events are drained into the store, the
// scheduler stops and awaits in-flight tasks, then the bus and the store
// close. No callback fires afterwards. Calling Destroy twice is a no-op.
func (e *Engine) Destroy(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return nil
	}
	e.destroyed = true

	e.workers.Stop()
	if !e.started {
		e.orchestrator.Stop()
		e.strategies.Stop()
	}
	e.connections.CloseAll()

	e.pipeline.Close()
	drainErr := e.pipeline.FlushAll(ctx)
	if drainErr != nil {
		drainErr = fmt.Errorf("drain pipeline: %w", drainErr)
	}

	e.scheduler.Stop()
	e.bus.Close()

	closeErr := e.storages.Close()
	if closeErr != nil {
		closeErr = fmt.Errorf("close storages: %w", closeErr)
	}

	e.logger.Info().Msg("engine destroyed")
	return errors.Join(drainErr, closeErr)
}

func (e *Engine) alive() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return ErrDestroyed
	}
	return nil
}
