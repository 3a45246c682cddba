// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrSync is the root of every cycle-level failure.
	ErrSync = errors.New("sync failed")
	// ErrOperationExhausted marks an operation that used up its retry
	// budget and was parked as failed.
	ErrOperationExhausted = fmt.Errorf("%w: operation retries exhausted", ErrSync)
	// ErrAuthPaused is returned while sync is paused after an auth failure.
	ErrAuthPaused = fmt.Errorf("%w: paused until re-authentication", ErrSync)
	// ErrInvalidMode is returned for an unknown sync mode.
	ErrInvalidMode = errors.New("invalid sync mode")
)
