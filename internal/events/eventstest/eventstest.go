// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package eventstest provides event publishers for tests.
package eventstest

import (
	"sync"

	"github.com/MKhiriev/go-sync-engine/internal/events"
	"github.com/MKhiriev/go-sync-engine/models"
)

// Discard is a Publisher that drops everything.
type Discard struct{}

func (Discard) Publish(models.EngineEvent) {}

// Recorder is a Publisher that keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []models.EngineEvent
}

func (r *Recorder) Publish(event models.EngineEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []models.EngineEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.EngineEvent(nil), r.events...)
}

// Kinds returns the kinds of the recorded events in order.
func (r *Recorder) Kinds() []models.EngineEventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]models.EngineEventKind, len(r.events))
	for i, e := range r.events {
		kinds[i] = e.Kind
	}
	return kinds
}

// Count returns how many events of kind were recorded.
func (r *Recorder) Count(kind models.EngineEventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

var (
	_ events.Publisher = Discard{}
	_ events.Publisher = (*Recorder)(nil)
)
