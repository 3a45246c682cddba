// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package server

import "errors"

var (
	// ErrAPIDisabled is returned by NewServer when no status API address
	// is configured.
	ErrAPIDisabled = errors.New("status API disabled: no HTTP address configured")

	// ErrListen wraps failures to bind or serve the status API.
	ErrListen = errors.New("status API listen failed")
	// ErrShutdown wraps failures to drain the status API.
	ErrShutdown = errors.New("status API shutdown failed")
)
