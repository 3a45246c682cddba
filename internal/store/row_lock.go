// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"cmp"
	"slices"
	"sync"

	"github.com/MKhiriev/go-sync-engine/models"
)

// RowLocker hands out one mutex per (table, id). Entries are reference
// counted and dropped when the last holder unlocks.
type RowLocker struct {
	mu    sync.Mutex
	locks map[string]*rowLock
}

type rowLock struct {
	sync.Mutex
	refs int
}

// NewRowLocker returns an empty locker.
func NewRowLocker() *RowLocker {
	return &RowLocker{locks: make(map[string]*rowLock)}
}

func rowKey(table models.Table, id string) string {
	return string(table) + "/" + id
}

// Lock blocks until the row is free and returns its unlock function.
func (l *RowLocker) Lock(table models.Table, id string) func() {
	key := rowKey(table, id)

	l.mu.Lock()
	rl, ok := l.locks[key]
	if !ok {
		rl = &rowLock{}
		l.locks[key] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.Lock()

	return func() {
		rl.Unlock()

		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// LockAll locks every row of entities in a stable order, so two bulk writers
// can never deadlock, and returns one function unlocking them all.
func (l *RowLocker) LockAll(entities []models.Entity) func() {
	type row struct {
		table models.Table
		id    string
	}
	rows := make([]row, 0, len(entities))
	seen := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		key := rowKey(e.Table(), e.Base().ID)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		rows = append(rows, row{table: e.Table(), id: e.Base().ID})
	}
	slices.SortFunc(rows, func(a, b row) int {
		return cmp.Or(cmp.Compare(a.table, b.table), cmp.Compare(a.id, b.id))
	})

	unlocks := make([]func(), 0, len(rows))
	for _, r := range rows {
		unlocks = append(unlocks, l.Lock(r.table, r.id))
	}

	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}
