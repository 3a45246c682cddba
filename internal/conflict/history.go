// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package conflict

import (
	"time"

	"github.com/MKhiriev/go-sync-engine/models"
)

// HistoryEntry records one resolution.
type HistoryEntry struct {
	Table      models.Table        `json:"table"`
	EntityID   string              `json:"entity_id"`
	Type       models.ConflictType `json:"type"`
	Resolution models.Resolution   `json:"resolution"`
	Confidence float64             `json:"confidence"`
	Reason     string              `json:"reason"`
	At         time.Time           `json:"at"`
}

// TableStats counts the resolutions currently held in history for a table.
type TableStats struct {
	Total        int                       `json:"total"`
	ByResolution map[models.Resolution]int `json:"by_resolution"`
}

// history is a fixed-size ring buffer. Per-table counters are kept in step
// with the buffer so lookups are O(1). Not safe for concurrent use.
type history struct {
	entries []HistoryEntry
	next    int
	size    int
	stats   map[models.Table]*TableStats
}

func newHistory(capacity int) *history {
	return &history{
		entries: make([]HistoryEntry, max(capacity, 1)),
		stats:   make(map[models.Table]*TableStats),
	}
}

func (h *history) add(e HistoryEntry) {
	if h.size == len(h.entries) {
		h.count(h.entries[h.next], -1)
	} else {
		h.size++
	}
	h.entries[h.next] = e
	h.next = (h.next + 1) % len(h.entries)
	h.count(e, 1)
}

func (h *history) count(e HistoryEntry, delta int) {
	s, ok := h.stats[e.Table]
	if !ok {
		s = &TableStats{ByResolution: make(map[models.Resolution]int)}
		h.stats[e.Table] = s
	}
	s.Total += delta
	s.ByResolution[e.Resolution] += delta
}

// agreement is the share of the table's recorded resolutions that match
// kind. A table with no history agrees fully.
func (h *history) agreement(table models.Table, kind models.Resolution) float64 {
	s, ok := h.stats[table]
	if !ok || s.Total == 0 {
		return 1
	}
	return float64(s.ByResolution[kind]) / float64(s.Total)
}

// snapshot returns entries oldest first.
func (h *history) snapshot() []HistoryEntry {
	out := make([]HistoryEntry, 0, h.size)
	start := (h.next - h.size + len(h.entries)) % len(h.entries)
	for i := range h.size {
		out = append(out, h.entries[(start+i)%len(h.entries)])
	}
	return out
}

func (h *history) tableStats(table models.Table) TableStats {
	s, ok := h.stats[table]
	if !ok {
		return TableStats{ByResolution: map[models.Resolution]int{}}
	}
	out := TableStats{Total: s.Total, ByResolution: make(map[models.Resolution]int, len(s.ByResolution))}
	for k, v := range s.ByResolution {
		if v > 0 {
			out.ByResolution[k] = v
		}
	}
	return out
}
