// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package connection

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection is the root of every change-feed connection failure.
	ErrConnection = errors.New("connection error")

	// ErrTimeout is recorded when a subscribe or heartbeat exceeds its
	// deadline.
	ErrTimeout = fmt.Errorf("%w: timeout", ErrConnection)
	// ErrChannel is recorded when the feed reports an error.
	ErrChannel = fmt.Errorf("%w: channel error", ErrConnection)
	// ErrClosed is recorded when the feed ends without an error.
	ErrClosed = fmt.Errorf("%w: closed", ErrConnection)
	// ErrHeartbeat is recorded after consecutive missed heartbeats.
	ErrHeartbeat = fmt.Errorf("%w: heartbeat missed", ErrConnection)

	// ErrIllegalTransition is returned for a lifecycle event the channel's
	// current state does not accept.
	ErrIllegalTransition = errors.New("illegal channel state transition")

	ErrUnknownChannel = errors.New("unknown channel")
	ErrManagerClosed  = errors.New("connection manager closed")
)
