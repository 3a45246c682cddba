// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package connection

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/MKhiriev/go-sync-engine/internal/adapter"
	"github.com/MKhiriev/go-sync-engine/internal/events"
	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/internal/strategy"
	"github.com/MKhiriev/go-sync-engine/internal/utils"
	"github.com/MKhiriev/go-sync-engine/internal/workers"
	"github.com/MKhiriev/go-sync-engine/models"
)

const (
	healthTask        = "conn:health"
	heartbeatMisses   = 2
	poorNetworkFactor = 2
)

func connectTask(channel string) string   { return "conn:connect:" + channel }
func heartbeatTask(channel string) string { return "conn:heartbeat:" + channel }

type channel struct {
	name   string
	table  models.Table
	filter string

	machine     *fsm.FSM
	retries     int
	misses      int
	connectedAt time.Time
	lastErr     error
	sub         adapter.Subscription
	stop        chan struct{}
	// gen changes whenever the current subscription is dropped; readers,
	// heartbeats and connect attempts of an older generation are ignored.
	gen uint64
}

func (c *channel) state() models.ConnectionState {
	st, _ := models.ParseConnectionState(c.machine.Current())
	return st
}

func (c *channel) status() models.ChannelStatus {
	st := models.ChannelStatus{
		Channel:     c.name,
		Table:       c.table,
		Filter:      c.filter,
		State:       c.state(),
		RetryCount:  c.retries,
		ConnectedAt: c.connectedAt,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

// Handle refers to a channel opened by Manager.Open.
type Handle struct {
	Channel string
	Table   models.Table

	m *Manager
}

// State returns the channel's current state.
func (h *Handle) State() models.ConnectionState {
	s, _ := h.m.GetState(h.Channel)
	return s
}

// Close closes the channel.
func (h *Handle) Close() error {
	return h.m.Close(h.Channel)
}

// Manager owns every change-feed channel.
type Manager struct {
	remote    adapter.RemoteStore
	sink      EventSink
	holder    *strategy.Holder
	scheduler *workers.Scheduler
	publisher events.Publisher
	cfg       models.ConnectionConfig
	tiers     TierSource
	health    HealthObserver

	mu       sync.Mutex
	channels map[string]*channel
	online   bool
	closed   bool

	readers sync.WaitGroup
	done    chan struct{}

	now    func() time.Time
	logger *logger.Logger
}

// Option customises a Manager.
type Option func(*Manager)

// WithTierSource makes backoff grow faster on a poor network.
func WithTierSource(t TierSource) Option {
	return func(m *Manager) { m.tiers = t }
}

// WithHealthObserver reports connection checks and heartbeat latency.
func WithHealthObserver(h HealthObserver) Option {
	return func(m *Manager) { m.health = h }
}

// WithClock sets the clock used for connection age.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager returns a manager that starts online.
func NewManager(
	cfg models.ConnectionConfig,
	remote adapter.RemoteStore,
	sink EventSink,
	holder *strategy.Holder,
	scheduler *workers.Scheduler,
	publisher events.Publisher,
	log *logger.Logger,
	opts ...Option,
) *Manager {
	m := &Manager{
		remote:    remote,
		sink:      sink,
		holder:    holder,
		scheduler: scheduler,
		publisher: publisher,
		cfg:       cfg,
		channels:  make(map[string]*channel),
		online:    true,
		done:      make(chan struct{}),
		now:       time.Now,
		logger:    log.WithComponent("connection"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start schedules the periodic health check.
func (m *Manager) Start(context.Context) error {
	m.scheduler.Every(healthTask, m.cfg.HealthCheckInterval, m.checkHealth)
	return nil
}

// Stop closes every channel.
func (m *Manager) Stop() {
	m.CloseAll()
}

// Open subscribes to table under the channel name. An existing channel
// with the same name is closed and replaced. The first connect attempt
// runs in the background; while offline the channel waits for SetOnline.
func (m *Manager) Open(ctx context.Context, name string, table models.Table, filter string) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !table.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownTable, table)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if old, ok := m.channels[name]; ok {
		m.logger.Info().Str("channel", name).Msg("replacing channel")
		m.teardownLocked(old)
		m.transitionLocked(old, eventClose)
	}

	ch := m.newChannel(name, table, filter)
	m.channels[name] = ch
	if m.online {
		m.scheduleConnectLocked(ch, 0)
	}

	return &Handle{Channel: name, Table: table, m: m}, nil
}

// Close closes and forgets a channel.
func (m *Manager) Close(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, name)
	}
	m.teardownLocked(ch)
	m.transitionLocked(ch, eventClose)
	delete(m.channels, name)
	return nil
}

// CloseAll closes every channel and waits for their readers to return.
// The manager cannot be reused afterwards.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.readers.Wait()
		return
	}
	m.closed = true
	for name, ch := range m.channels {
		m.teardownLocked(ch)
		m.transitionLocked(ch, eventClose)
		delete(m.channels, name)
	}
	m.scheduler.Cancel(healthTask)
	close(m.done)
	m.mu.Unlock()

	m.readers.Wait()
	m.logger.Info().Msg("all channels closed")
}

// ReconnectAll restarts every channel that is not connected, with a fresh
// retry budget. It returns the number of channels restarted.
func (m *Manager) ReconnectAll(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || !m.online {
		return 0
	}

	n := 0
	for _, ch := range m.channels {
		switch ch.state() {
		case models.StateConnected, models.StateConnecting, models.StateDisabled:
			continue
		}
		m.teardownLocked(ch)
		ch.retries = 0
		m.scheduleConnectLocked(ch, 0)
		n++
	}
	if n > 0 {
		m.logger.Info().Int("channels", n).Msg("reconnecting channels")
	}
	return n
}

// SetOnline feeds the host's connectivity signal. Going offline drops
// every subscription; going online reconnects every disconnected channel.
func (m *Manager) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.online == online {
		return
	}
	m.online = online
	m.logger.Info().Bool("online", online).Msg("network status changed")

	for _, ch := range m.channels {
		state := ch.state()
		if state == models.StateDisabled {
			continue
		}
		if !online {
			m.teardownLocked(ch)
			ch.retries = 0
			if state != models.StateDisconnected {
				m.transitionLocked(ch, eventOffline)
			}
			continue
		}
		if state == models.StateDisconnected {
			ch.retries = 0
			m.scheduleConnectLocked(ch, 0)
		}
	}
}

// Online reports the last connectivity signal.
func (m *Manager) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Disable drops a channel's subscription and keeps it down until it is
// opened again.
func (m *Manager) Disable(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, name)
	}
	m.teardownLocked(ch)
	m.transitionLocked(ch, eventDisable)
	return nil
}

// GetState returns a channel's state.
func (m *Manager) GetState(name string) (models.ConnectionState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[name]
	if !ok {
		return models.StateDisconnected, false
	}
	return ch.state(), true
}

// States returns the status of every channel ordered by name.
func (m *Manager) States() []models.ChannelStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.ChannelStatus, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, ch.status())
	}
	slices.SortFunc(out, func(a, b models.ChannelStatus) int { return cmp.Compare(a.Channel, b.Channel) })
	return out
}

// Reconfigure applies the active strategy's heartbeat scale to connected
// channels. Backoff parameters are read on every failure.
func (m *Manager) Reconfigure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	interval := m.heartbeatInterval()
	for _, ch := range m.channels {
		if ch.state() == models.StateConnected {
			m.scheduler.Reset(heartbeatTask(ch.name), interval)
		}
	}
	m.logger.Debug().Dur("heartbeat", interval).Msg("connection manager reconfigured")
}

func (m *Manager) heartbeatInterval() time.Duration {
	scale := m.holder.Load().HeartbeatScale
	if scale <= 0 {
		scale = 1
	}
	return time.Duration(float64(m.cfg.HeartbeatInterval) * scale)
}

// backoff returns the delay before retry attempt. It must be called with
// m.mu held.
func (m *Manager) backoff(attempt int) time.Duration {
	s := m.holder.Load()
	delay := utils.Backoff(s.RetryDelay, s.BackoffMultiplier, attempt, m.cfg.MaxRetryDelay)
	if m.tiers != nil && m.tiers.Tier() == models.TierPoor {
		delay *= poorNetworkFactor
	}
	if m.cfg.MaxRetryDelay > 0 && delay > m.cfg.MaxRetryDelay {
		delay = m.cfg.MaxRetryDelay
	}
	return delay
}

func (m *Manager) currentLocked(ch *channel, gen uint64) bool {
	return !m.closed && m.channels[ch.name] == ch && ch.gen == gen
}

func (m *Manager) scheduleConnectLocked(ch *channel, delay time.Duration) {
	gen := ch.gen
	m.scheduler.After(connectTask(ch.name), delay, func(ctx context.Context) {
		m.connect(ctx, ch, gen)
	})
}

// teardownLocked drops the channel's subscription and pending tasks.
func (m *Manager) teardownLocked(ch *channel) {
	ch.gen++
	m.scheduler.Cancel(connectTask(ch.name))
	m.scheduler.Cancel(heartbeatTask(ch.name))
	if ch.stop != nil {
		close(ch.stop)
		ch.stop = nil
	}
	if ch.sub != nil {
		if err := ch.sub.Close(); err != nil {
			m.logger.Debug().Err(err).Str("channel", ch.name).Msg("error closing subscription")
		}
		ch.sub = nil
	}
	ch.misses = 0
}

func (m *Manager) newChannel(name string, table models.Table, filter string) *channel {
	ch := &channel{name: name, table: table, filter: filter}
	ch.machine = newChannelFSM(func(state models.ConnectionState) {
		m.stateChanged(ch, state)
	})
	return ch
}

// transitionLocked applies a lifecycle event to ch. An event the current
// state does not accept is logged and leaves the state unchanged.
func (m *Manager) transitionLocked(ch *channel, event string) bool {
	if err := fire(ch.machine, event); err != nil {
		m.logger.Error().Err(err).Str("channel", ch.name).Msg("channel transition rejected")
		return false
	}
	return true
}

// stateChanged runs inside a transition, with m.mu held.
func (m *Manager) stateChanged(ch *channel, state models.ConnectionState) {
	event := models.EngineEvent{
		Kind:    models.EventConnectionState,
		Channel: ch.name,
		Table:   ch.table,
		State:   state,
	}
	if ch.lastErr != nil && state != models.StateConnected && state != models.StateConnecting {
		event.Err = ch.lastErr.Error()
	}
	m.publisher.Publish(event)
	m.logger.Debug().
		Str("channel", ch.name).
		Str("state", state.String()).
		Msg("channel state changed")
}

func (m *Manager) connect(ctx context.Context, ch *channel, gen uint64) {
	m.mu.Lock()
	if !m.currentLocked(ch, gen) {
		m.mu.Unlock()
		return
	}
	if !m.transitionLocked(ch, eventConnect) {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	subCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectionTimeout)
	sub, err := m.remote.Subscribe(subCtx, ch.table, ch.filter)
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.currentLocked(ch, gen) {
		if sub != nil {
			_ = sub.Close()
		}
		return
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: subscribe: %w", ErrTimeout, err)
		} else {
			err = fmt.Errorf("%w: subscribe: %w", ErrChannel, err)
		}
		m.recordHealth(false)
		m.failLocked(ch, err)
		return
	}

	ch.sub = sub
	ch.stop = make(chan struct{})
	ch.retries = 0
	ch.misses = 0
	ch.lastErr = nil
	ch.connectedAt = m.now()
	m.transitionLocked(ch, eventConnected)
	m.recordHealth(true)

	m.scheduler.Every(heartbeatTask(ch.name), m.heartbeatInterval(), func(ctx context.Context) {
		m.heartbeat(ctx, ch, gen, sub)
	})

	m.readers.Add(1)
	go m.read(ch, gen, sub, ch.stop)

	m.logger.Info().
		Str("channel", ch.name).
		Str("table", string(ch.table)).
		Msg("channel connected")
}

// failLocked drops the failed subscription and either schedules the next
// attempt or, once the retry budget is spent, parks the channel.
func (m *Manager) failLocked(ch *channel, cause error) {
	m.teardownLocked(ch)
	ch.lastErr = cause

	if errors.Is(cause, adapter.ErrUnauthorized) || ch.retries >= m.cfg.MaxRetries {
		m.transitionLocked(ch, eventRetryExhausted)
		m.publisher.Publish(models.EngineEvent{
			Kind:    models.EventConnectionExhausted,
			Channel: ch.name,
			Table:   ch.table,
			Err:     cause.Error(),
		})
		m.logger.Error().Err(cause).
			Str("channel", ch.name).
			Int("retries", ch.retries).
			Msg("giving up on channel")
		return
	}

	delay := m.backoff(ch.retries)
	ch.retries++
	m.transitionLocked(ch, eventFail)
	m.scheduleConnectLocked(ch, delay)

	m.logger.Warn().Err(cause).
		Str("channel", ch.name).
		Int("attempt", ch.retries).
		Dur("delay", delay).
		Msg("channel failed, reconnecting")
}

func (m *Manager) fail(ch *channel, gen uint64, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.currentLocked(ch, gen) {
		return
	}
	m.recordHealth(false)
	m.failLocked(ch, cause)
}

// read forwards events of one subscription until it fails or stop is
// closed.
func (m *Manager) read(ch *channel, gen uint64, sub adapter.Subscription, stop <-chan struct{}) {
	defer m.readers.Done()

	feed, errs := sub.Events(), sub.Errors()
	for {
		select {
		case <-m.done:
			return
		case <-stop:
			return

		case event, ok := <-feed:
			if !ok {
				cause := ErrClosed
				select {
				case err := <-errs:
					if err != nil {
						cause = fmt.Errorf("%w: %w", ErrChannel, err)
					}
				default:
				}
				m.fail(ch, gen, cause)
				return
			}
			select {
			case <-stop:
				return
			default:
			}
			if err := m.sink.Ingest(event); err != nil {
				m.logger.Warn().Err(err).
					Str("channel", ch.name).
					Str("entity_id", event.EntityID()).
					Msg("change event not ingested")
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			m.fail(ch, gen, fmt.Errorf("%w: %w", ErrChannel, err))
			return
		}
	}
}

func (m *Manager) heartbeat(ctx context.Context, ch *channel, gen uint64, sub adapter.Subscription) {
	m.mu.Lock()
	current := m.currentLocked(ch, gen)
	m.mu.Unlock()
	if !current {
		return
	}

	pingCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectionTimeout)
	start := time.Now()
	err := sub.Ping(pingCtx)
	elapsed := time.Since(start)
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.currentLocked(ch, gen) {
		return
	}
	if err == nil {
		ch.misses = 0
		m.recordHealth(true)
		if m.health != nil {
			m.health.RecordLatency(elapsed)
		}
		return
	}

	ch.misses++
	m.recordHealth(false)
	m.logger.Warn().Err(err).
		Str("channel", ch.name).
		Int("misses", ch.misses).
		Msg("heartbeat missed")
	if ch.misses < heartbeatMisses {
		return
	}

	m.transitionLocked(ch, eventHeartbeatLost)
	m.failLocked(ch, fmt.Errorf("%w: %w", ErrHeartbeat, err))
}

// checkHealth recycles connections older than MaxConnectionAge.
func (m *Manager) checkHealth(context.Context) {
	if m.cfg.MaxConnectionAge <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, ch := range m.channels {
		if ch.state() != models.StateConnected || now.Sub(ch.connectedAt) < m.cfg.MaxConnectionAge {
			continue
		}
		m.logger.Info().
			Str("channel", ch.name).
			Dur("age", now.Sub(ch.connectedAt)).
			Msg("recycling channel")
		m.teardownLocked(ch)
		ch.retries = 0
		m.transitionLocked(ch, eventRecycle)
		m.scheduleConnectLocked(ch, 0)
	}
}

func (m *Manager) recordHealth(healthy bool) {
	if m.health != nil {
		m.health.RecordConnection(healthy)
	}
}
