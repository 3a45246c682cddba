// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package conflict detects and resolves divergence between the local and
// the remote copy of a record.
//
// Detect decides whether two copies are in conflict. Resolve picks a
// resolution with a fixed rule order (delete, then version, then data) and
// builds the record to store through a [Strategy] taken from a [Registry].
// Applying the result is the caller's job. Outcomes are kept in a bounded
// history that only biases future confidence scores.
package conflict

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/MKhiriev/go-sync-engine/internal/config"
	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/internal/utils"
	"github.com/MKhiriev/go-sync-engine/models"
)

// UrgentThreshold is the UserUrgency at or above which a manual fallback
// is replaced by local_wins.
const UrgentThreshold = 0.7

// base confidences before the history bias
const (
	confidenceDelete      = 1.0
	confidenceVersion     = 0.9
	confidenceSetUnion    = 0.95
	confidenceDataDefault = 0.7
	confidenceDataMerge   = 0.6
	confidenceUrgentLocal = 0.6
	confidenceManual      = 0.5
	poorNetworkPenalty    = 0.7
	historyWeight         = 0.2
)

// Resolver detects and resolves conflicts. It is safe for concurrent use;
// the only shared state is the history.
type Resolver struct {
	registry      *Registry
	defaultPolicy Policy
	policies      map[models.Table]Policy

	mu      sync.Mutex
	history *history

	now    func() time.Time
	logger *logger.Logger
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithPolicy overrides the policy for one table.
func WithPolicy(table models.Table, p Policy) Option {
	return func(r *Resolver) { r.policies[table] = p }
}

// WithStrategy replaces a built-in strategy.
func WithStrategy(s Strategy) Option {
	return func(r *Resolver) { r.registry.Register(s) }
}

// WithClock sets the clock used for DetectedAt and history timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver builds a resolver from cfg. An unknown cfg.DataDefault falls
// back to merge.
func NewResolver(cfg config.Conflict, log *logger.Logger, opts ...Option) *Resolver {
	dataDefault := models.Resolution(cfg.DataDefault)
	if !slices.Contains(models.Resolutions, dataDefault) {
		dataDefault = models.ResolutionMerge
	}

	r := &Resolver{
		registry:      NewRegistry(),
		defaultPolicy: DefaultPolicy(dataDefault),
		policies:      make(map[models.Table]Policy),
		history:       newHistory(cfg.HistorySize),
		now:           time.Now,
		logger:        log.WithComponent("conflict"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the policy in effect for table.
func (r *Resolver) Policy(table models.Table) Policy {
	if p, ok := r.policies[table]; ok {
		return p
	}
	return r.defaultPolicy
}

// Detect reports whether local and remote are in conflict.
//
// Copies with the same content never conflict. A remote copy with a
// strictly lower version than a local copy without pending changes is
// stale and not a conflict; the caller rejects it. A remote copy with a
// strictly higher version than a local copy without pending changes is a
// fast-forward. Everything else conflicts: equal versions with different
// content, or any difference while local has unsynced changes.
func (r *Resolver) Detect(local, remote models.Entity) (*models.ConflictInfo, bool) {
	if local == nil || remote == nil || local.Table() != remote.Table() {
		return nil, false
	}
	lb, rb := local.Base(), remote.Base()
	if lb.ID != rb.ID {
		return nil, false
	}

	changed, err := ChangedFields(local, remote)
	if err != nil {
		r.logger.Warn().Err(err).
			Str("table", string(local.Table())).
			Str("entity_id", lb.ID).
			Msg("cannot compare copies, treating as conflict")
	} else if len(changed) == 0 {
		return nil, false
	}

	if lb.SyncVersion != rb.SyncVersion && !lb.PendingSync {
		return nil, false
	}

	info := &models.ConflictInfo{
		EntityType:    local.Table(),
		EntityID:      lb.ID,
		LocalData:     local,
		RemoteData:    remote,
		ChangedFields: changed,
		DetectedAt:    r.now(),
	}

	switch {
	case lb.IsDeleted || rb.IsDeleted:
		info.ConflictType = models.ConflictDelete
		info.Severity = models.SeverityHigh
	case lb.SyncVersion == rb.SyncVersion:
		info.ConflictType = models.ConflictData
		info.Severity = models.SeverityMedium
		if onlySetFields(changed, local.SetFields()) {
			info.Severity = models.SeverityLow
		}
	default:
		info.ConflictType = models.ConflictVersion
		info.Severity = models.SeverityMedium
	}

	return info, true
}

// Resolve decides info. The outcome depends only on info, ctx and the
// table policy; history affects Confidence only.
func (r *Resolver) Resolve(info *models.ConflictInfo, ctx models.ResolutionContext) (models.ConflictResolutionResult, error) {
	if err := validateInfo(info); err != nil {
		return models.ConflictResolutionResult{}, err
	}

	kind, confidence, reason := r.decide(info, ctx)

	strategy, err := r.registry.Get(kind)
	if err != nil {
		return models.ConflictResolutionResult{}, fmt.Errorf("%w: %w", ErrConflict, err)
	}
	merged, err := strategy.Apply(info)
	if err != nil {
		return models.ConflictResolutionResult{}, fmt.Errorf("%w: %s %s: %w", ErrConflict, info.EntityType, info.EntityID, err)
	}

	r.mu.Lock()
	confidence *= 1 - historyWeight + historyWeight*r.history.agreement(info.EntityType, kind)
	r.history.add(HistoryEntry{
		Table:      info.EntityType,
		EntityID:   info.EntityID,
		Type:       info.ConflictType,
		Resolution: kind,
		Confidence: confidence,
		Reason:     reason,
		At:         r.now(),
	})
	r.mu.Unlock()

	return models.ConflictResolutionResult{
		Resolution: kind,
		MergedData: merged,
		Confidence: clamp01(confidence),
		Reason:     reason,
	}, nil
}

// BatchResult is the outcome of one conflict in ResolveBatch. Exactly one
// of Result and Err is meaningful.
type BatchResult struct {
	Info   *models.ConflictInfo
	Result models.ConflictResolutionResult
	Err    error
}

// ResolveBatch resolves each conflict independently. A failure is logged
// and recorded in its BatchResult; the remaining conflicts still resolve.
func (r *Resolver) ResolveBatch(conflicts []*models.ConflictInfo, ctx models.ResolutionContext) []BatchResult {
	out := make([]BatchResult, 0, len(conflicts))
	for _, info := range conflicts {
		res, err := r.Resolve(info, ctx)
		if err != nil {
			ev := r.logger.Error().Err(err)
			if info != nil {
				ev = ev.Str("table", string(info.EntityType)).Str("entity_id", info.EntityID)
			}
			ev.Msg("skipping conflict")
		}
		out = append(out, BatchResult{Info: info, Result: res, Err: err})
	}
	return out
}

// History returns the retained resolutions, oldest first.
func (r *Resolver) History() []HistoryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.history.snapshot()
}

// Stats returns the history counters for table.
func (r *Resolver) Stats(table models.Table) TableStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.history.tableStats(table)
}

func (r *Resolver) decide(info *models.ConflictInfo, ctx models.ResolutionContext) (models.Resolution, float64, string) {
	policy := r.Policy(info.EntityType)
	lb, rb := info.LocalData.Base(), info.RemoteData.Base()

	switch info.ConflictType {
	case models.ConflictDelete:
		return decideDelete(policy, lb, rb)

	case models.ConflictVersion:
		if policy.MergeVersions {
			return models.ResolutionMerge, confidenceVersion, "version_merge"
		}
		if rb.SyncVersion > lb.SyncVersion {
			return models.ResolutionCloudWins, confidenceVersion, "higher_version_remote"
		}
		return models.ResolutionLocalWins, confidenceVersion, "higher_version_local"

	default:
		if onlySetFields(info.ChangedFields, info.LocalData.SetFields()) {
			return models.ResolutionMerge, confidenceSetUnion, "set_union"
		}
		return decideData(policy.DataDefault, ctx)
	}
}

func decideDelete(policy Policy, lb, rb *models.SyncEntity) (models.Resolution, float64, string) {
	switch {
	case lb.IsDeleted && rb.IsDeleted:
		return models.ResolutionCloudWins, confidenceDelete, "both_deleted"
	case policy.Delete == VersionWins && lb.SyncVersion != rb.SyncVersion:
		if rb.SyncVersion > lb.SyncVersion {
			return models.ResolutionCloudWins, confidenceVersion, "higher_version_remote"
		}
		return models.ResolutionLocalWins, confidenceVersion, "higher_version_local"
	case lb.IsDeleted:
		return models.ResolutionLocalWins, confidenceDelete, "delete_wins"
	default:
		return models.ResolutionCloudWins, confidenceDelete, "delete_wins"
	}
}

func decideData(fallback models.Resolution, ctx models.ResolutionContext) (models.Resolution, float64, string) {
	switch fallback {
	case models.ResolutionManual:
		if ctx.UserUrgency >= UrgentThreshold {
			return models.ResolutionLocalWins, confidenceUrgentLocal, "urgent_local"
		}
		return models.ResolutionManual, confidenceManual, "manual_review"
	case models.ResolutionCloudWins:
		confidence := confidenceDataDefault
		if ctx.NetworkTier == models.TierPoor {
			confidence *= poorNetworkPenalty
		}
		return models.ResolutionCloudWins, confidence, "data_default"
	case models.ResolutionLocalWins:
		return models.ResolutionLocalWins, confidenceDataDefault, "data_default"
	default:
		return models.ResolutionMerge, confidenceDataMerge, "data_merge"
	}
}

func validateInfo(info *models.ConflictInfo) error {
	if info == nil || info.LocalData == nil || info.RemoteData == nil {
		return fmt.Errorf("%w: %w: missing side", ErrConflict, ErrInvalidConflict)
	}
	if info.LocalData.Table() != info.RemoteData.Table() ||
		info.LocalData.Base().ID != info.RemoteData.Base().ID {
		return fmt.Errorf("%w: %w: sides describe different records", ErrConflict, ErrInvalidConflict)
	}
	return nil
}

// ChangedFields lists the content fields whose values differ between a and
// b, sorted. Sync metadata is ignored.
func ChangedFields(a, b models.Entity) ([]string, error) {
	same, err := utils.SameContent(a, b)
	if err != nil {
		return nil, err
	}
	if same {
		return nil, nil
	}

	af, err := models.EntityFields(a)
	if err != nil {
		return nil, err
	}
	bf, err := models.EntityFields(b)
	if err != nil {
		return nil, err
	}
	for _, k := range models.MetadataFields {
		delete(af, k)
		delete(bf, k)
	}

	var changed []string
	for _, k := range slices.Sorted(maps.Keys(af)) {
		if !reflect.DeepEqual(af[k], bf[k]) {
			changed = append(changed, k)
		}
	}
	for _, k := range slices.Sorted(maps.Keys(bf)) {
		if _, ok := af[k]; !ok {
			changed = append(changed, k)
		}
	}
	slices.Sort(changed)
	return changed, nil
}

func onlySetFields(changed, setFields []string) bool {
	if len(changed) == 0 {
		return false
	}
	for _, f := range changed {
		if !slices.Contains(setFields, f) {
			return false
		}
	}
	return true
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}
