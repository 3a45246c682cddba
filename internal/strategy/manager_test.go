// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package strategy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-sync-engine/internal/adapter"
	"github.com/MKhiriev/go-sync-engine/internal/config"
	"github.com/MKhiriev/go-sync-engine/internal/events/eventstest"
	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/internal/store"
	"github.com/MKhiriev/go-sync-engine/internal/workers"
	"github.com/MKhiriev/go-sync-engine/models"
)

type reconfigureCounter struct {
	mu     sync.Mutex
	holder *Holder
	seen   []string
}

func (r *reconfigureCounter) Reconfigure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, r.holder.Load().Name)
}

func (r *reconfigureCounter) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

type tierRecorder struct {
	mu    sync.Mutex
	tiers []models.NetworkTier
}

func (r *tierRecorder) SetNetworkTier(tier models.NetworkTier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tiers = append(r.tiers, tier)
}

type managerFixture struct {
	manager *Manager
	holder  *Holder
	prefs   *store.MemoryStorage
	target  *reconfigureCounter
	tiers   *tierRecorder
	events  *eventstest.Recorder
	clock   *time.Time
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()

	prefs, err := store.NewMemoryStorage("")
	require.NoError(t, err)
	scheduler := workers.NewScheduler(logger.Nop())
	t.Cleanup(scheduler.Stop)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &managerFixture{
		holder: NewHolder(Presets()[Balanced]),
		prefs:  prefs,
		tiers:  &tierRecorder{},
		events: &eventstest.Recorder{},
		clock:  &now,
	}
	f.target = &reconfigureCounter{holder: f.holder}
	f.manager = NewManager(
		config.Strategy{MonitorInterval: time.Hour, WindowSize: 5},
		"device-1",
		f.holder,
		Presets(),
		prefs,
		scheduler,
		f.events,
		logger.Nop(),
		WithManagerClock(func() time.Time { return *f.clock }),
		WithCooldown(time.Minute),
	)
	f.manager.Attach(f.target, nil)
	f.manager.SetTierSink(f.tiers)
	return f
}

func (f *managerFixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func (f *managerFixture) requests(n int, latency time.Duration, err error) {
	for range n {
		f.manager.ObserveRequest(latency, 4096, err)
	}
}

func TestManager_NoSwitchWithoutEnoughSamples(t *testing.T) {
	f := newManagerFixture(t)
	f.requests(2, 3*time.Second, nil)

	switched, err := f.manager.OptimizeIfNeeded(context.Background())
	require.NoError(t, err)
	assert.False(t, switched)
	assert.Equal(t, Balanced, f.holder.Load().Name)
}

func TestManager_SwitchesOnThresholds(t *testing.T) {
	tests := []struct {
		name     string
		feed     func(m *Manager)
		expected string
		tier     models.NetworkTier
	}{
		{
			name: "fast network",
			feed: func(m *Manager) {
				for range 5 {
					m.ObserveRequest(50*time.Millisecond, 1024, nil)
					m.RecordConnection(true)
				}
			},
			expected: Realtime,
			tier:     models.TierExcellent,
		},
		{
			name: "slow network",
			feed: func(m *Manager) {
				for range 5 {
					m.ObserveRequest(2*time.Second, 1024, nil)
				}
			},
			expected: Conservative,
			tier:     models.TierPoor,
		},
		{
			name: "failing requests",
			feed: func(m *Manager) {
				for range 5 {
					m.ObserveRequest(100*time.Millisecond, 0, adapter.ErrTransport)
				}
			},
			expected: OfflineTolerant,
			tier:     models.TierPoor,
		},
		{
			name: "low battery",
			feed: func(m *Manager) {
				for range 5 {
					m.ObserveRequest(300*time.Millisecond, 1024, nil)
				}
				m.RecordDevice(models.DeviceInfo{Battery: 0.1})
			},
			expected: BatterySaver,
			tier:     models.TierGood,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newManagerFixture(t)
			tt.feed(f.manager)

			switched, err := f.manager.OptimizeIfNeeded(context.Background())
			require.NoError(t, err)

			assert.True(t, switched)
			assert.Equal(t, tt.expected, f.holder.Load().Name)
			assert.Equal(t, []string{tt.expected}, f.target.names())
			assert.Equal(t, tt.tier, f.manager.Tier())
			assert.Equal(t, 1, f.events.Count(models.EventStrategySwitched))
			assert.Equal(t, tt.expected, f.events.Events()[0].Strategy)
		})
	}
}

func TestManager_NonNetworkErrorsDoNotHurtReliability(t *testing.T) {
	f := newManagerFixture(t)
	f.requests(5, 100*time.Millisecond, adapter.ErrUnauthorized)

	assert.Equal(t, 1.0, f.manager.Snapshot().Reliability)
}

func TestManager_TierChangeIsPublishedOnce(t *testing.T) {
	f := newManagerFixture(t)
	f.requests(5, 2*time.Second, nil)

	_, err := f.manager.OptimizeIfNeeded(context.Background())
	require.NoError(t, err)
	_, err = f.manager.OptimizeIfNeeded(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []models.NetworkTier{models.TierPoor}, f.tiers.tiers)
	assert.Equal(t, models.TierPoor, f.manager.ResolutionContext().NetworkTier)
}

func TestManager_CooldownBlocksFlapping(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	f.requests(5, 2*time.Second, nil)
	switched, err := f.manager.OptimizeIfNeeded(ctx)
	require.NoError(t, err)
	require.True(t, switched)

	f.requests(5, 50*time.Millisecond, nil)
	switched, err = f.manager.OptimizeIfNeeded(ctx)
	require.NoError(t, err)
	assert.False(t, switched)
	assert.Equal(t, Conservative, f.holder.Load().Name)

	f.advance(2 * time.Minute)
	switched, err = f.manager.OptimizeIfNeeded(ctx)
	require.NoError(t, err)
	assert.True(t, switched)
	assert.Equal(t, Realtime, f.holder.Load().Name)
}

func TestManager_ForceAndUnknownPreset(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.manager.Force(ctx, OfflineTolerant))
	assert.Equal(t, OfflineTolerant, f.manager.Current().Name)
	assert.Equal(t, []string{OfflineTolerant}, f.target.names())

	assert.ErrorIs(t, f.manager.Force(ctx, "warp"), ErrUnknownStrategy)
	assert.Equal(t, OfflineTolerant, f.manager.Current().Name)
}

func TestManager_LearnedNetworkBiasIsPersistedAndApplied(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.manager.SetNetwork(ctx, models.NetworkInfo{NetworkID: "cafe", Online: true}))
	for range 3 {
		require.NoError(t, f.manager.Force(ctx, Conservative))
	}

	raw, ok, err := f.prefs.GetPreference(ctx, networkBiasKey+"cafe")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"conservative":3}`, raw)

	raw, ok, err = f.prefs.GetPreference(ctx, deviceBiasKey+"device-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"conservative":3}`, raw)

	// a fresh manager on the same device and store picks the bias up
	other := newManagerFixture(t)
	other.manager.prefs = f.prefs
	require.NoError(t, other.manager.SetNetwork(ctx, models.NetworkInfo{NetworkID: "cafe", Online: true}))
	assert.Equal(t, Conservative, other.holder.Load().Name)
}

func TestManager_SetNetworkResetsWindows(t *testing.T) {
	f := newManagerFixture(t)
	f.requests(5, time.Second, nil)
	require.Equal(t, 5, f.manager.Snapshot().Samples)

	require.NoError(t, f.manager.SetNetwork(context.Background(), models.NetworkInfo{NetworkID: "home", Online: true}))
	assert.Zero(t, f.manager.Snapshot().Samples)
}

func TestManager_SnapshotDefaults(t *testing.T) {
	f := newManagerFixture(t)
	snap := f.manager.Snapshot()

	assert.Equal(t, 1.0, snap.Reliability)
	assert.Equal(t, 1.0, snap.ConnectionStability)
	assert.Equal(t, 1.0, snap.Battery)
	assert.True(t, snap.Charging)

	f.manager.RecordLatency(100 * time.Millisecond)
	f.manager.RecordLatency(300 * time.Millisecond)
	assert.Equal(t, 200*time.Millisecond, f.manager.Snapshot().Latency)

	f.manager.SetUserUrgency(4)
	assert.Equal(t, 1.0, f.manager.ResolutionContext().UserUrgency)
}

type failingPrefs struct{}

func (failingPrefs) GetPreference(context.Context, string) (string, bool, error) {
	return "", false, errors.New("prefs unavailable")
}

func (failingPrefs) SetPreference(context.Context, string, string) error {
	return errors.New("prefs unavailable")
}

func TestManager_SwitchAppliesEvenWhenPersistenceFails(t *testing.T) {
	f := newManagerFixture(t)
	f.manager.prefs = failingPrefs{}

	err := f.manager.Force(context.Background(), Realtime)
	assert.Error(t, err)
	assert.Equal(t, Realtime, f.holder.Load().Name)
	assert.Equal(t, 1, f.events.Count(models.EventStrategySwitched))
}

func TestManager_StartSchedulesMonitor(t *testing.T) {
	f := newManagerFixture(t)
	require.NoError(t, f.manager.Start(context.Background()))
	assert.True(t, f.manager.scheduler.Scheduled(monitorTask))

	f.manager.Stop()
	assert.False(t, f.manager.scheduler.Scheduled(monitorTask))
}

func TestWindow_Ring(t *testing.T) {
	w := newWindow(3)
	assert.Equal(t, 7.0, w.mean(7))
	for _, v := range []float64{1, 2, 3, 4} {
		w.add(v)
	}
	assert.Equal(t, 3, w.len())
	assert.Equal(t, 3.0, w.mean(0))
	w.reset()
	assert.Zero(t, w.len())
}

func TestPreferredPreset(t *testing.T) {
	assert.Empty(t, preferredPreset(nil))
	assert.Empty(t, preferredPreset(map[string]int{Realtime: 2}))
	assert.Equal(t, Balanced, preferredPreset(map[string]int{Realtime: 3, Balanced: 3, Conservative: 1}))
	assert.Equal(t, Realtime, preferredPreset(map[string]int{Realtime: 4, Balanced: 3}))
}
