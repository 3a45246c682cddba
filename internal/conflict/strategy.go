// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package conflict

import (
	"fmt"
	"slices"

	"github.com/MKhiriev/go-sync-engine/models"
)

// Strategy builds the record that should be stored once a resolution has
// been chosen. Implementations are pure.
type Strategy interface {
	Resolution() models.Resolution
	// Apply returns the record to store, or nil when nothing should be
	// written.
	Apply(info *models.ConflictInfo) (models.Entity, error)
}

// LocalWins keeps the local copy and marks it for upload. The version is
// raised to the remote one so the write is never stale.
type LocalWins struct{}

func (LocalWins) Resolution() models.Resolution { return models.ResolutionLocalWins }

func (LocalWins) Apply(info *models.ConflictInfo) (models.Entity, error) {
	out := info.LocalData.Clone()
	b := out.Base()
	b.SyncVersion = max(b.SyncVersion, info.RemoteData.Base().SyncVersion)
	b.PendingSync = true
	return out, nil
}

// CloudWins takes the remote copy as confirmed state.
type CloudWins struct{}

func (CloudWins) Resolution() models.Resolution { return models.ResolutionCloudWins }

func (CloudWins) Apply(info *models.ConflictInfo) (models.Entity, error) {
	out := info.RemoteData.Clone()
	b := out.Base()
	b.SyncVersion = max(b.SyncVersion, info.LocalData.Base().SyncVersion)
	b.PendingSync = false
	return out, nil
}

// Merge unions set-like fields and takes every other differing field from
// the side updated last, remote on a tie. The result is marked for upload.
type Merge struct{}

func (Merge) Resolution() models.Resolution { return models.ResolutionMerge }

func (Merge) Apply(info *models.ConflictInfo) (models.Entity, error) {
	local, remote := info.LocalData, info.RemoteData

	lf, err := models.EntityFields(local)
	if err != nil {
		return nil, err
	}
	rf, err := models.EntityFields(remote)
	if err != nil {
		return nil, err
	}

	lb, rb := local.Base(), remote.Base()
	preferLocal := lb.UpdatedAt.After(rb.UpdatedAt)
	setFields := local.SetFields()

	merged := make(map[string]any, max(len(lf), len(rf)))
	for k, v := range rf {
		merged[k] = v
	}
	for k, lv := range lf {
		rv, inRemote := rf[k]
		switch {
		case slices.Contains(setFields, k):
			merged[k] = union(lv, rv)
		case !inRemote || preferLocal:
			merged[k] = lv
		}
	}

	out, err := models.EntityFromFields(local.Table(), merged)
	if err != nil {
		return nil, fmt.Errorf("rebuild merged %s %s: %w", local.Table(), lb.ID, err)
	}

	b := out.Base()
	b.SyncVersion = max(lb.SyncVersion, rb.SyncVersion)
	b.PendingSync = true
	if lb.UpdatedAt.After(rb.UpdatedAt) {
		b.UpdatedAt = lb.UpdatedAt
	} else {
		b.UpdatedAt = rb.UpdatedAt
	}
	return out, nil
}

// union concatenates two JSON arrays keeping first occurrences: local
// order first, then remote additions.
func union(a, b any) any {
	la, _ := a.([]any)
	lb, _ := b.([]any)
	if la == nil && lb == nil {
		return a
	}

	seen := make(map[string]struct{}, len(la)+len(lb))
	out := make([]any, 0, len(la)+len(lb))
	for _, v := range slices.Concat(la, lb) {
		key := fmt.Sprint(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Manual defers the decision to a human: nothing is written and the local
// copy stays as it is.
type Manual struct{}

func (Manual) Resolution() models.Resolution { return models.ResolutionManual }

func (Manual) Apply(*models.ConflictInfo) (models.Entity, error) {
	return nil, nil
}

// Registry maps each resolution kind to its strategy.
type Registry struct {
	strategies map[models.Resolution]Strategy
}

// NewRegistry returns a registry with the four built-in strategies.
func NewRegistry() *Registry {
	r := &Registry{strategies: make(map[models.Resolution]Strategy, len(models.Resolutions))}
	for _, s := range []Strategy{LocalWins{}, CloudWins{}, Merge{}, Manual{}} {
		r.Register(s)
	}
	return r
}

// Register adds or replaces the strategy for s.Resolution().
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Resolution()] = s
}

// Get returns the strategy for kind.
func (r *Registry) Get(kind models.Resolution) (Strategy, error) {
	s, ok := r.strategies[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoStrategy, kind)
	}
	return s, nil
}

// Validate checks that every resolution kind has a strategy.
func (r *Registry) Validate() error {
	for _, kind := range models.Resolutions {
		if _, err := r.Get(kind); err != nil {
			return err
		}
	}
	return nil
}
