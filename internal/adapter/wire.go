// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package adapter

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/MKhiriev/go-sync-engine/models"
)

// PushRequest is the body of POST /api/sync/push.
type PushRequest struct {
	Operation models.SyncOperation `json:"operation"`
}

// PullResponse is the body returned by GET /api/sync/pull/{table}.
type PullResponse struct {
	Entities []json.RawMessage `json:"entities"`
}

// ChangeMessage is one change-feed frame.
type ChangeMessage struct {
	Type     models.ChangeType `json:"type"`
	Schema   string            `json:"schema"`
	Table    models.Table      `json:"table"`
	Old      json.RawMessage   `json:"old,omitempty"`
	New      json.RawMessage   `json:"new,omitempty"`
	Priority models.Priority   `json:"priority,omitempty"`
	Version  int64             `json:"version,omitempty"`
}

// decodeChange validates a feed frame and converts it to a ChangeEvent.
func decodeChange(data []byte, table models.Table, now time.Time) (models.ChangeEvent, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return models.ChangeEvent{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if msg.Table == "" {
		msg.Table = table
	}
	if msg.Table != table {
		return models.ChangeEvent{}, fmt.Errorf("%w: frame for %q on %q feed", ErrInvalidPayload, msg.Table, table)
	}

	event := models.ChangeEvent{
		Type:       msg.Type,
		Schema:     msg.Schema,
		Table:      msg.Table,
		ReceivedAt: now,
		Priority:   msg.Priority,
		Version:    msg.Version,
	}

	var err error
	if len(msg.Old) > 0 && string(msg.Old) != "null" {
		if event.Old, err = models.DecodeEntity(table, msg.Old); err != nil {
			return models.ChangeEvent{}, fmt.Errorf("%w: old image: %w", ErrInvalidPayload, err)
		}
	}
	if len(msg.New) > 0 && string(msg.New) != "null" {
		if event.New, err = models.DecodeEntity(table, msg.New); err != nil {
			return models.ChangeEvent{}, fmt.Errorf("%w: new image: %w", ErrInvalidPayload, err)
		}
	}

	switch msg.Type {
	case models.ChangeInsert, models.ChangeUpdate:
		if event.New == nil {
			return models.ChangeEvent{}, fmt.Errorf("%w: %s without new image", ErrInvalidPayload, msg.Type)
		}
	case models.ChangeDelete:
		if event.Old == nil {
			return models.ChangeEvent{}, fmt.Errorf("%w: DELETE without old image", ErrInvalidPayload)
		}
	default:
		return models.ChangeEvent{}, fmt.Errorf("%w: unknown change type %q", ErrInvalidPayload, msg.Type)
	}

	return event, nil
}
