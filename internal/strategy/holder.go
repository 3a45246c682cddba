// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package strategy

import (
	"sync/atomic"

	"github.com/MKhiriev/go-sync-engine/models"
)

// Holder is the single shared reference to the active strategy. Readers
// always get one whole strategy, never a mix of two.
type Holder struct {
	p atomic.Pointer[models.NetworkStrategy]
}

// NewHolder returns a holder with s active.
func NewHolder(s models.NetworkStrategy) *Holder {
	h := &Holder{}
	h.p.Store(&s)
	return h
}

// Load returns a copy of the active strategy.
func (h *Holder) Load() models.NetworkStrategy {
	return *h.p.Load()
}

// Swap activates s and returns the strategy it replaced.
func (h *Holder) Swap(s models.NetworkStrategy) models.NetworkStrategy {
	return *h.p.Swap(&s)
}
