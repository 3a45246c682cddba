// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/MKhiriev/go-sync-engine/internal/adapter"
	"github.com/MKhiriev/go-sync-engine/internal/config"
	"github.com/MKhiriev/go-sync-engine/internal/events"
	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/internal/store"
	"github.com/MKhiriev/go-sync-engine/internal/workers"
	"github.com/MKhiriev/go-sync-engine/models"
)

// Reconfigurable is a component that rereads the active strategy from the
// shared Holder.
type Reconfigurable interface {
	Reconfigure()
}

// TierSetter receives network tier changes.
type TierSetter interface {
	SetNetworkTier(tier models.NetworkTier)
}

const monitorTask = "strategy:monitor"

// decision thresholds
const (
	minSamples         = 3
	offlineReliability = 0.5
	lowReliability     = 0.8
	highReliability    = 0.95
	lowStability       = 0.5
	highStability      = 0.9
	fastLatency        = 150 * time.Millisecond
	slowLatency        = time.Second
	lowBattery         = 0.2
	highLoad           = 0.85
	biasThreshold      = 3
)

const (
	networkBiasKey = "strategy.bias.network."
	deviceBiasKey  = "strategy.bias.device."
)

// Manager observes runtime signals and swaps the active strategy when they
// cross a threshold. Every switch is applied by one Holder swap followed
// by Reconfigure on each attached component.
type Manager struct {
	holder    *Holder
	catalog   Catalog
	prefs     store.Preferences
	scheduler *workers.Scheduler
	publisher events.Publisher
	interval  time.Duration
	cooldown  time.Duration
	deviceID  string

	// switchMu serializes swaps so Reconfigure calls never interleave.
	switchMu sync.Mutex

	mu          sync.Mutex
	latency     *window
	throughput  *window
	reliability *window
	stability   *window
	device      models.DeviceInfo
	network     models.NetworkInfo
	urgency     float64
	tier        models.NetworkTier
	lastSwitch  time.Time
	networkBias map[string]map[string]int
	deviceBias  map[string]int
	targets     []Reconfigurable
	tierSink    TierSetter

	now    func() time.Time
	logger *logger.Logger
}

// ManagerOption customises a Manager.
type ManagerOption func(*Manager)

// WithManagerClock sets the clock used for switch cooldowns.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithCooldown sets the minimum time between two automatic switches.
// Force ignores it.
func WithCooldown(d time.Duration) ManagerOption {
	return func(m *Manager) { m.cooldown = d }
}

// NewManager returns a manager driving holder. prefs may be nil, in which
// case learned biases live only for the process lifetime.
func NewManager(
	cfg config.Strategy,
	deviceID string,
	holder *Holder,
	catalog Catalog,
	prefs store.Preferences,
	scheduler *workers.Scheduler,
	publisher events.Publisher,
	log *logger.Logger,
	opts ...ManagerOption,
) *Manager {
	m := &Manager{
		holder:      holder,
		catalog:     catalog,
		prefs:       prefs,
		scheduler:   scheduler,
		publisher:   publisher,
		interval:    cfg.MonitorInterval,
		cooldown:    2 * cfg.MonitorInterval,
		deviceID:    deviceID,
		latency:     newWindow(cfg.WindowSize),
		throughput:  newWindow(cfg.WindowSize),
		reliability: newWindow(cfg.WindowSize),
		stability:   newWindow(cfg.WindowSize),
		device:      models.DeviceInfo{Battery: 1, Charging: true},
		network:     models.NetworkInfo{Online: true},
		tier:        models.TierGood,
		networkBias: make(map[string]map[string]int),
		deviceBias:  make(map[string]int),
		now:         time.Now,
		logger:      log.WithComponent("strategy"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Attach registers components to reconfigure after every switch.
func (m *Manager) Attach(targets ...Reconfigurable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range targets {
		if t != nil {
			m.targets = append(m.targets, t)
		}
	}
}

// SetTierSink registers the receiver of network tier changes.
func (m *Manager) SetTierSink(sink TierSetter) {
	m.mu.Lock()
	m.tierSink = sink
	m.mu.Unlock()
}

// Start loads the device bias and schedules the monitoring tick.
func (m *Manager) Start(ctx context.Context) error {
	counts, err := m.loadBias(ctx, deviceBiasKey+m.deviceID)
	if err != nil {
		m.logger.Warn().Err(err).Msg("cannot load device strategy bias")
	}
	m.mu.Lock()
	if counts != nil {
		m.deviceBias = counts
	}
	m.mu.Unlock()

	m.scheduler.Every(monitorTask, m.interval, func(ctx context.Context) {
		if _, err := m.OptimizeIfNeeded(ctx); err != nil {
			m.logger.Err(err).Msg("strategy optimization failed")
		}
	})
	m.logger.Info().
		Str("strategy", m.holder.Load().Name).
		Dur("interval", m.interval).
		Msg("strategy monitor started")
	return nil
}

// Stop cancels the monitoring tick.
func (m *Manager) Stop() {
	m.scheduler.Cancel(monitorTask)
}

// ObserveRequest records one remote request. Errors that do not come from
// the network, such as a rejected token or payload, count as successful
// round trips.
func (m *Manager) ObserveRequest(latency time.Duration, bytes int64, err error) {
	ok := err == nil || !adapter.IsRetryable(err)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency.add(float64(latency))
	if ok {
		m.reliability.add(1)
	} else {
		m.reliability.add(0)
	}
	if ok && latency > 0 && bytes > 0 {
		m.throughput.add(float64(bytes) / latency.Seconds())
	}
}

// RecordLatency records a round trip measured outside the HTTP client,
// such as a heartbeat ping.
func (m *Manager) RecordLatency(d time.Duration) {
	m.mu.Lock()
	m.latency.add(float64(d))
	m.mu.Unlock()
}

// RecordDevice replaces the device resource sample.
func (m *Manager) RecordDevice(info models.DeviceInfo) {
	m.mu.Lock()
	m.device = info
	m.mu.Unlock()
}

// RecordConnection records the outcome of one connection check.
func (m *Manager) RecordConnection(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if healthy {
		m.stability.add(1)
	} else {
		m.stability.add(0)
	}
}

// SetUserUrgency records how actively the user is editing, 0..1.
func (m *Manager) SetUserUrgency(v float64) {
	m.mu.Lock()
	m.urgency = min(max(v, 0), 1)
	m.mu.Unlock()
}

// SetNetwork records the current link. Joining a different network clears
// the metric windows; if that network has a learned preset, it is
// activated right away.
func (m *Manager) SetNetwork(ctx context.Context, info models.NetworkInfo) error {
	m.mu.Lock()
	changed := info.NetworkID != m.network.NetworkID
	m.network = info
	if changed {
		m.latency.reset()
		m.throughput.reset()
		m.reliability.reset()
		m.stability.reset()
	}
	_, loaded := m.networkBias[info.NetworkID]
	m.mu.Unlock()

	if !changed || info.NetworkID == "" {
		return nil
	}

	if !loaded {
		counts, err := m.loadBias(ctx, networkBiasKey+info.NetworkID)
		if err != nil {
			return err
		}
		if counts == nil {
			counts = make(map[string]int)
		}
		m.mu.Lock()
		m.networkBias[info.NetworkID] = counts
		m.mu.Unlock()
	}

	m.mu.Lock()
	preferred := preferredPreset(m.networkBias[info.NetworkID])
	m.mu.Unlock()

	if preferred == "" || preferred == m.holder.Load().Name {
		return nil
	}
	s, err := m.catalog.Get(preferred)
	if err != nil {
		return err
	}
	return m.switchTo(ctx, s, "learned_bias")
}

// Tier returns the current network tier.
func (m *Manager) Tier() models.NetworkTier {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tier
}

// Current returns the active strategy.
func (m *Manager) Current() models.NetworkStrategy {
	return m.holder.Load()
}

// ResolutionContext returns the inputs the conflict resolver weighs.
func (m *Manager) ResolutionContext() models.ResolutionContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.ResolutionContext{NetworkTier: m.tier, UserUrgency: m.urgency}
}

// Snapshot returns the current rolling metrics.
func (m *Manager) Snapshot() models.PerformanceSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() models.PerformanceSnapshot {
	return models.PerformanceSnapshot{
		Latency:             time.Duration(m.latency.mean(0)),
		Throughput:          m.throughput.mean(0),
		Reliability:         m.reliability.mean(1),
		CPU:                 m.device.CPU,
		Memory:              m.device.Memory,
		Battery:             m.device.Battery,
		Charging:            m.device.Charging,
		ConnectionStability: m.stability.mean(1),
		Samples:             m.latency.len(),
	}
}

// Force activates the named preset regardless of metrics and cooldown.
func (m *Manager) Force(ctx context.Context, name string) error {
	s, err := m.catalog.Get(name)
	if err != nil {
		return err
	}
	return m.switchTo(ctx, s, "forced")
}

// OptimizeIfNeeded re-evaluates the metrics, publishes a tier change if
// there is one and switches strategy when a threshold is breached. It
// reports whether a switch happened.
func (m *Manager) OptimizeIfNeeded(ctx context.Context) (bool, error) {
	m.mu.Lock()
	snap := m.snapshotLocked()
	tier := tierFor(snap, m.tier)
	tierChanged := tier != m.tier
	m.tier = tier
	sink := m.tierSink
	name, reason := m.chooseLocked(snap)
	cooling := !m.lastSwitch.IsZero() && m.now().Sub(m.lastSwitch) < m.cooldown
	m.mu.Unlock()

	if tierChanged {
		m.logger.Info().Str("tier", string(tier)).Msg("network tier changed")
		if sink != nil {
			sink.SetNetworkTier(tier)
		}
	}

	if snap.Samples < minSamples || cooling || name == m.holder.Load().Name {
		return false, nil
	}

	s, err := m.catalog.Get(name)
	if err != nil {
		return false, err
	}
	if err = m.switchTo(ctx, s, reason); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) chooseLocked(snap models.PerformanceSnapshot) (string, string) {
	switch {
	case snap.Reliability < offlineReliability || snap.ConnectionStability < lowStability:
		return OfflineTolerant, "unreliable_network"
	case !snap.Charging && snap.Battery < lowBattery:
		return BatterySaver, "low_battery"
	case snap.CPU > highLoad || snap.Memory > highLoad:
		return Conservative, "high_load"
	case snap.Latency > slowLatency || snap.Reliability < lowReliability:
		return Conservative, "degraded_network"
	case snap.Latency < fastLatency && snap.Reliability >= highReliability &&
		snap.ConnectionStability >= highStability:
		return Realtime, "fast_network"
	}

	if p := preferredPreset(m.networkBias[m.network.NetworkID]); p != "" {
		return p, "learned_bias"
	}
	if p := preferredPreset(m.deviceBias); p != "" {
		return p, "learned_bias"
	}
	return Balanced, "nominal"
}

func tierFor(snap models.PerformanceSnapshot, current models.NetworkTier) models.NetworkTier {
	if snap.Samples == 0 {
		return current
	}
	switch {
	case snap.Latency < fastLatency && snap.Reliability >= highReliability:
		return models.TierExcellent
	case snap.Latency < 500*time.Millisecond && snap.Reliability >= 0.85:
		return models.TierGood
	case snap.Latency < 1500*time.Millisecond && snap.Reliability >= 0.6:
		return models.TierFair
	default:
		return models.TierPoor
	}
}

func (m *Manager) switchTo(ctx context.Context, s models.NetworkStrategy, reason string) error {
	m.switchMu.Lock()
	defer m.switchMu.Unlock()

	prev := m.holder.Swap(s)

	m.mu.Lock()
	targets := slices.Clone(m.targets)
	m.lastSwitch = m.now()
	networkID := m.network.NetworkID
	var networkCounts map[string]int
	if networkID != "" {
		if m.networkBias[networkID] == nil {
			m.networkBias[networkID] = make(map[string]int)
		}
		m.networkBias[networkID][s.Name]++
		networkCounts = maps.Clone(m.networkBias[networkID])
	}
	m.deviceBias[s.Name]++
	deviceCounts := maps.Clone(m.deviceBias)
	m.mu.Unlock()

	for _, t := range targets {
		t.Reconfigure()
	}

	m.logger.Info().
		Str("from", prev.Name).
		Str("to", s.Name).
		Str("reason", reason).
		Msg("strategy switched")
	m.publisher.Publish(models.EngineEvent{
		Kind:     models.EventStrategySwitched,
		Strategy: s.Name,
	})

	if networkCounts != nil {
		if err := m.saveBias(ctx, networkBiasKey+networkID, networkCounts); err != nil {
			return err
		}
	}
	return m.saveBias(ctx, deviceBiasKey+m.deviceID, deviceCounts)
}

func (m *Manager) loadBias(ctx context.Context, key string) (map[string]int, error) {
	if m.prefs == nil {
		return nil, nil
	}
	raw, ok, err := m.prefs.GetPreference(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	counts := make(map[string]int)
	if err = json.Unmarshal([]byte(raw), &counts); err != nil {
		return nil, fmt.Errorf("error decoding strategy bias %q: %w", key, err)
	}
	return counts, nil
}

func (m *Manager) saveBias(ctx context.Context, key string, counts map[string]int) error {
	if m.prefs == nil {
		return nil
	}
	raw, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("error encoding strategy bias %q: %w", key, err)
	}
	if err = m.prefs.SetPreference(ctx, key, string(raw)); err != nil {
		return fmt.Errorf("error saving strategy bias %q: %w", key, err)
	}
	return nil
}

// preferredPreset returns the most frequently chosen preset once it has
// been chosen at least biasThreshold times. Ties go to the first name.
func preferredPreset(counts map[string]int) string {
	best, bestCount := "", 0
	for _, name := range slices.Sorted(maps.Keys(counts)) {
		if c := counts[name]; c > bestCount {
			best, bestCount = name, c
		}
	}
	if bestCount < biasThreshold {
		return ""
	}
	return best
}
