// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/MKhiriev/go-sync-engine/internal/logger"
)

// Storages groups the local repositories consumed by the engine. All four
// are usually backed by the same implementation.
type Storages struct {
	Entities    LocalStore
	Operations  OperationRepository
	Checkpoints Checkpoints
	Preferences Preferences

	closer io.Closer
}

// Backend is satisfied by both implementations.
type Backend interface {
	LocalStore
	OperationRepository
	Checkpoints
	Preferences
	io.Closer
}

// NewStorages selects an implementation from dsn:
//   - ":memory:" or "memory": volatile MemoryStorage;
//   - a path ending in ".json": MemoryStorage persisted to that file;
//   - anything else: SQLite database file, migrated on open.
func NewStorages(ctx context.Context, dsn string, log *logger.Logger) (*Storages, error) {
	log.Info().Str("dsn", dsn).Msg("creating new storages...")

	var s Backend
	switch {
	case dsn == ":memory:" || dsn == "memory" || strings.HasSuffix(dsn, ".json"):
		mem, err := NewMemoryStorage(dsn)
		if err != nil {
			return nil, fmt.Errorf("memory storage error: %w", err)
		}
		s = mem
	default:
		db, err := NewConnectSQLite(ctx, dsn, log)
		if err != nil {
			return nil, fmt.Errorf("sqlite connection error: %w", err)
		}
		if err = db.Migrate(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
		s = NewSQLiteStorage(db, log)
	}

	return NewStoragesFrom(s), nil
}

// NewStoragesFrom wires every repository to s.
func NewStoragesFrom(s Backend) *Storages {
	return &Storages{
		Entities:    s,
		Operations:  s,
		Checkpoints: s,
		Preferences: s,
		closer:      s,
	}
}

// Close releases the underlying database.
func (s *Storages) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
