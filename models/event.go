// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package models

import "time"

// ChangeType is the kind of row change carried by a remote change event.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent is one row change delivered by a live change feed. Delivery is
// at-least-once, so applying the same event twice must be harmless.
type ChangeEvent struct {
	Type   ChangeType `json:"type"`
	Schema string     `json:"schema"`
	Table  Table      `json:"table"`
	// Old is the previous row image; set for UPDATE and DELETE when the feed
	// provides it.
	Old Entity `json:"-"`
	// New is the new row image; nil for DELETE.
	New Entity `json:"-"`
	// Version is the sync version the backend committed the change at;
	// zero when the feed does not report it.
	Version    int64     `json:"version,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
	Priority   Priority  `json:"priority"`
}

// Record returns the row image the event is about: New for inserts and
// updates, Old for deletes.
func (e ChangeEvent) Record() Entity {
	if e.New != nil {
		return e.New
	}
	return e.Old
}

// EntityID returns the id of the affected row or "" if the event is empty.
func (e ChangeEvent) EntityID() string {
	if r := e.Record(); r != nil {
		return r.Base().ID
	}
	return ""
}

// RealtimeEventBatch is a group of events for one table flushed together by
// the ingestion pipeline. Batches are consumed immediately and never stored.
type RealtimeEventBatch struct {
	ID         string        `json:"id"`
	Table      Table         `json:"table"`
	Events     []ChangeEvent `json:"events"`
	Timestamp  time.Time     `json:"timestamp"`
	Priority   Priority      `json:"priority"`
	Compressed bool          `json:"compressed"`
}

// Size returns the number of events in the batch.
func (b RealtimeEventBatch) Size() int {
	return len(b.Events)
}
