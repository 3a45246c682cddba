// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package conflict

import "errors"

var (
	// ErrConflict wraps a resolver failure for a single entity. Callers skip
	// the entity and continue with the rest of the batch.
	ErrConflict = errors.New("conflict resolution failed")
	// ErrNoStrategy means the registry has no strategy for a resolution.
	ErrNoStrategy = errors.New("no strategy registered")
	// ErrInvalidConflict means the conflict is missing a side or its sides
	// describe different records.
	ErrInvalidConflict = errors.New("invalid conflict")
)
