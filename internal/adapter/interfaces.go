// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package adapter provides the transport layer between the engine and the
// remote backend.
//
// [RemoteStore] decouples the engine from the protocol. The package ships an
// implementation that pushes and pulls over HTTP/REST (resty) and streams
// live row changes over a WebSocket change feed (gorilla/websocket).
//
// Every payload crossing the boundary is decoded with models.DecodeEntity,
// so invalid records never reach the engine. Transport failures are mapped
// to the sentinel errors in errors.go; [IsRetryable] classifies them.
package adapter

import (
	"context"
	"time"

	"github.com/MKhiriev/go-sync-engine/models"
)

//go:generate mockgen -source=interfaces.go -destination=../mock/adapter_mock.go -package=mock

// RemoteStore is the engine's view of the backend.
type RemoteStore interface {
	// Subscribe opens a live change feed for table. filter is an optional
	// backend-side row filter such as "user_id=eq.42".
	Subscribe(ctx context.Context, table models.Table, filter string) (Subscription, error)

	// Push sends one pending operation. compress enables snappy encoding of
	// the request body. A 409 from the backend is returned as
	// ErrVersionConflict.
	Push(ctx context.Context, op models.SyncOperation, compress bool) (models.Ack, error)

	// Pull returns the records of table changed after sinceVersion.
	Pull(ctx context.Context, table models.Table, sinceVersion int64) ([]models.Entity, error)

	// Fetch returns the backend's current copy of one record.
	Fetch(ctx context.Context, table models.Table, id string) (models.Entity, error)
}

// Subscription is one open change feed.
type Subscription interface {
	// Events delivers decoded changes. It is closed when the feed ends.
	Events() <-chan models.ChangeEvent
	// Errors delivers at most one terminal error.
	Errors() <-chan error
	// Ping probes the feed and waits for the backend's answer.
	Ping(ctx context.Context) error
	// Close ends the feed. It is safe to call more than once.
	Close() error
}

// RequestObserver receives one sample per HTTP request. The adaptive
// strategy layer uses it to build its latency and reliability windows.
type RequestObserver interface {
	ObserveRequest(latency time.Duration, bytes int64, err error)
}
