// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package ingest

import "errors"

var (
	// ErrPipelineClosed is returned by Ingest after Close.
	ErrPipelineClosed = errors.New("ingestion pipeline closed")
	// ErrInvalidEvent is returned for events that name no record or an
	// unknown table.
	ErrInvalidEvent = errors.New("invalid change event")
)
