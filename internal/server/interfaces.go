// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package server

import "context"

// Server defines the lifecycle contract for transport servers managed by
// this package.
type Server interface {
	// RunServer serves requests until ctx is cancelled or the listener
	// fails, then shuts down gracefully.
	RunServer(ctx context.Context) error

	// Shutdown stops the server and frees associated resources.
	Shutdown(ctx context.Context) error
}
