// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package connection keeps live change-feed subscriptions open.
//
// Every channel moves through the states Disconnected, Connecting,
// Connected and Reconnecting. Failures are retried with exponential
// backoff taken from the active strategy; after MaxRetries consecutive
// failures a channel stays Disconnected until ReconnectAll or an online
// signal. Connected channels are probed with heartbeats and recycled once
// they exceed MaxConnectionAge.
package connection

import (
	"time"

	"github.com/MKhiriev/go-sync-engine/models"
)

// EventSink receives every change delivered by a feed. The ingestion
// pipeline implements it.
type EventSink interface {
	Ingest(event models.ChangeEvent) error
}

// TierSource reports the measured network tier.
type TierSource interface {
	Tier() models.NetworkTier
}

// HealthObserver receives connection health samples.
type HealthObserver interface {
	RecordConnection(healthy bool)
	RecordLatency(d time.Duration)
}
