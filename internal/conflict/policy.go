// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package conflict

import "github.com/MKhiriev/go-sync-engine/models"

// DeletePolicy decides delete conflicts.
type DeletePolicy int

const (
	// DeleteWins lets the tombstone win regardless of versions.
	DeleteWins DeletePolicy = iota
	// VersionWins lets the strictly higher version win; on a tie the
	// tombstone still wins.
	VersionWins
)

// Policy is the per-table resolution configuration.
type Policy struct {
	Delete DeletePolicy
	// MergeVersions resolves version conflicts by merging instead of
	// letting the higher version win.
	MergeVersions bool
	// DataDefault is the fallback for data conflicts whose non-set fields
	// differ.
	DataDefault models.Resolution
}

// DefaultPolicy returns the policy used for tables without an override.
func DefaultPolicy(dataDefault models.Resolution) Policy {
	return Policy{Delete: DeleteWins, DataDefault: dataDefault}
}
