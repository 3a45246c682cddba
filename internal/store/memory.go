// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/MKhiriev/go-sync-engine/models"
)

// MemoryStorage keeps the replica in maps. When created with a file path it
// rewrites the whole state as JSON after every write and reloads it on
// start; with ":memory:" (or "") nothing touches the disk.
//
// It implements LocalStore, OperationRepository, Checkpoints and
// Preferences.
type MemoryStorage struct {
	path     string
	inMemory bool
	locks    *RowLocker
	now      func() time.Time

	mu          sync.RWMutex
	items       map[models.Table]map[string]json.RawMessage
	operations  map[string]models.SyncOperation
	checkpoints map[models.Table]int64
	preferences map[string]string
}

type memoryPersistedState struct {
	Items       map[models.Table]map[string]json.RawMessage `json:"items"`
	Operations  map[string]models.SyncOperation             `json:"operations"`
	Checkpoints map[models.Table]int64                      `json:"checkpoints"`
	Preferences map[string]string                           `json:"preferences"`
}

// NewMemoryStorage opens a memory store, loading path if it exists.
func NewMemoryStorage(path string) (*MemoryStorage, error) {
	if path == "" {
		path = ":memory:"
	}

	s := &MemoryStorage{
		path:        path,
		inMemory:    path == ":memory:" || path == "memory",
		locks:       NewRowLocker(),
		now:         time.Now,
		items:       make(map[models.Table]map[string]json.RawMessage),
		operations:  make(map[string]models.SyncOperation),
		checkpoints: make(map[models.Table]int64),
		preferences: make(map[string]string),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MemoryStorage) load() error {
	if s.inMemory {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read local storage file: %w", err)
	}

	var st memoryPersistedState
	if err = json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode local storage file: %w", err)
	}

	if st.Items != nil {
		s.items = st.Items
	}
	if st.Operations != nil {
		s.operations = st.Operations
	}
	if st.Checkpoints != nil {
		s.checkpoints = st.Checkpoints
	}
	if st.Preferences != nil {
		s.preferences = st.Preferences
	}
	return nil
}

// persist must be called with s.mu held for writing.
func (s *MemoryStorage) persist() error {
	if s.inMemory {
		return nil
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create local storage dir: %w", err)
		}
	}

	state := memoryPersistedState{
		Items:       s.items,
		Operations:  s.operations,
		Checkpoints: s.checkpoints,
		Preferences: s.preferences,
	}
	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode local storage: %w", err)
	}

	tmp := s.path + ".tmp"
	if err = os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("write local storage file: %w", err)
	}
	if err = os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace local storage file: %w", err)
	}
	return nil
}

func (s *MemoryStorage) read(table models.Table, id string) (models.Entity, error) {
	s.mu.RLock()
	raw, ok := s.items[table][id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return models.DecodeEntity(table, raw)
}

// write stores entities and persists once. Callers hold the row locks.
func (s *MemoryStorage) write(entities ...models.Entity) error {
	encoded := make([]json.RawMessage, len(entities))
	for i, e := range entities {
		raw, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode %s/%s: %w", e.Table(), e.Base().ID, err)
		}
		encoded[i] = raw
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range entities {
		rows, ok := s.items[e.Table()]
		if !ok {
			rows = make(map[string]json.RawMessage)
			s.items[e.Table()] = rows
		}
		rows[e.Base().ID] = encoded[i]
	}
	return s.persist()
}

// ── LocalStore ────────────────────────────────────────────────────────────────

func (s *MemoryStorage) Get(ctx context.Context, table models.Table, id string) (models.Entity, error) {
	if !table.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownTable, table)
	}
	e, err := s.read(table, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, table, id)
	}
	return e, nil
}

func (s *MemoryStorage) Put(ctx context.Context, e models.Entity) (int64, error) {
	stored, err := s.Update(ctx, e.Table(), e.Base().ID, putFunc(e))
	if err != nil {
		return 0, err
	}
	return stored.Base().SyncVersion, nil
}

func (s *MemoryStorage) Delete(ctx context.Context, table models.Table, id string) (int64, error) {
	stored, err := s.Update(ctx, table, id, deleteFunc(table, id, s.now))
	if err != nil {
		return 0, err
	}
	return stored.Base().SyncVersion, nil
}

func (s *MemoryStorage) BulkPut(ctx context.Context, entities []models.Entity) ([]int64, error) {
	if len(entities) == 0 {
		return nil, nil
	}

	unlock := s.locks.LockAll(entities)
	defer unlock()

	staged := make(map[string]models.Entity, len(entities))
	versions := make([]int64, len(entities))
	for i, e := range entities {
		key := rowKey(e.Table(), e.Base().ID)
		current, ok := staged[key]
		if !ok {
			var err error
			if current, err = s.read(e.Table(), e.Base().ID); err != nil {
				return nil, err
			}
		}
		if err := checkWrite(e.Table(), e.Base().ID, current, e); err != nil {
			return nil, err
		}
		staged[key] = e
		versions[i] = e.Base().SyncVersion
	}

	if err := s.write(entities...); err != nil {
		return nil, err
	}
	return versions, nil
}

func (s *MemoryStorage) QueryByOwner(ctx context.Context, table models.Table, userID, foreignKey string) ([]models.Entity, error) {
	return s.scan(table, func(e models.Entity) bool {
		b := e.Base()
		return !b.IsDeleted && b.UserID == userID && (foreignKey == "" || e.ForeignKey() == foreignKey)
	})
}

func (s *MemoryStorage) ListPending(ctx context.Context, table models.Table) ([]models.Entity, error) {
	return s.scan(table, func(e models.Entity) bool {
		return e.Base().PendingSync
	})
}

func (s *MemoryStorage) scan(table models.Table, keep func(models.Entity) bool) ([]models.Entity, error) {
	if !table.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownTable, table)
	}

	s.mu.RLock()
	raws := make([]json.RawMessage, 0, len(s.items[table]))
	for _, raw := range s.items[table] {
		raws = append(raws, raw)
	}
	s.mu.RUnlock()

	result := make([]models.Entity, 0, len(raws))
	for _, raw := range raws {
		e, err := models.DecodeEntity(table, raw)
		if err != nil {
			return nil, err
		}
		if keep(e) {
			result = append(result, e)
		}
	}
	slices.SortFunc(result, func(a, b models.Entity) int {
		return cmp.Compare(a.Base().ID, b.Base().ID)
	})
	return result, nil
}

func (s *MemoryStorage) Update(ctx context.Context, table models.Table, id string, fn UpdateFunc) (models.Entity, error) {
	if !table.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownTable, table)
	}

	unlock := s.locks.Lock(table, id)
	defer unlock()

	current, err := s.read(table, id)
	if err != nil {
		return nil, err
	}

	var arg models.Entity
	if current != nil {
		arg = current.Clone()
	}
	next, err := fn(arg)
	if err != nil {
		return nil, err
	}
	if next == nil {
		if current == nil {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, table, id)
		}
		return current, nil
	}
	if err = checkWrite(table, id, current, next); err != nil {
		return nil, err
	}
	if err = s.write(next); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

// ── OperationRepository ───────────────────────────────────────────────────────

func (s *MemoryStorage) SaveOperation(ctx context.Context, op models.SyncOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operations[op.ID] = cloneOperation(op)
	return s.persist()
}

func (s *MemoryStorage) GetOperation(ctx context.Context, id string) (models.SyncOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.operations[id]
	if !ok {
		return models.SyncOperation{}, fmt.Errorf("%w: operation %s", ErrNotFound, id)
	}
	return cloneOperation(op), nil
}

func (s *MemoryStorage) ListOperations(ctx context.Context, statuses ...models.OperationStatus) ([]models.SyncOperation, error) {
	s.mu.RLock()
	ops := make([]models.SyncOperation, 0, len(s.operations))
	for _, op := range s.operations {
		if len(statuses) == 0 || slices.Contains(statuses, op.Status) {
			ops = append(ops, cloneOperation(op))
		}
	}
	s.mu.RUnlock()

	SortOperations(ops)
	return ops, nil
}

func (s *MemoryStorage) DeleteOperation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.operations[id]; !ok {
		return nil
	}
	delete(s.operations, id)
	return s.persist()
}

func (s *MemoryStorage) DeleteEntityOperations(ctx context.Context, table models.Table, entityID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, op := range s.operations {
		if op.EntityType == table && op.EntityID == entityID && op.Status != models.OperationFailed {
			delete(s.operations, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.persist()
}

// ── Checkpoints & Preferences ─────────────────────────────────────────────────

func (s *MemoryStorage) GetCheckpoint(ctx context.Context, table models.Table) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkpoints[table], nil
}

func (s *MemoryStorage) SetCheckpoint(ctx context.Context, table models.Table, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if version <= s.checkpoints[table] {
		return nil
	}
	s.checkpoints[table] = version
	return s.persist()
}

func (s *MemoryStorage) GetPreference(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.preferences[key]
	return v, ok, nil
}

func (s *MemoryStorage) SetPreference(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preferences[key] = value
	return s.persist()
}

// Close is a no-op; every write is already persisted.
func (s *MemoryStorage) Close() error {
	return nil
}

func cloneOperation(op models.SyncOperation) models.SyncOperation {
	op.Payload = slices.Clone(op.Payload)
	op.Dependencies = slices.Clone(op.Dependencies)
	return op
}

// SortOperations orders ops for pushing: priority descending, then
// timestamp ascending, then id.
func SortOperations(ops []models.SyncOperation) {
	slices.SortStableFunc(ops, func(a, b models.SyncOperation) int {
		return cmp.Or(
			cmp.Compare(b.Priority, a.Priority),
			a.Timestamp.Compare(b.Timestamp),
			cmp.Compare(a.ID, b.ID),
		)
	})
}
