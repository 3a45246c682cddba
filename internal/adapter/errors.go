// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package adapter

import (
	"context"
	"errors"
)

var (
	// ErrUnauthorized means the backend rejected the credentials (401/403)
	// or the bearer token is already expired. Never retried.
	ErrUnauthorized = errors.New("client unauthorized")
	// ErrVersionConflict means the backend holds a newer version (409).
	ErrVersionConflict = errors.New("version conflict")
	// ErrNotFound means the record does not exist remotely (404).
	ErrNotFound = errors.New("remote record not found")
	// ErrBadRequest means the backend rejected the request as malformed.
	ErrBadRequest = errors.New("bad request")
	// ErrServer covers 5xx responses and unexpected statuses. Retryable.
	ErrServer = errors.New("remote server error")
	// ErrTransport covers network failures and timeouts. Retryable.
	ErrTransport = errors.New("transport failure")
	// ErrInvalidPayload means a response body could not be decoded.
	ErrInvalidPayload = errors.New("invalid remote payload")
	// ErrPingTimeout means a heartbeat probe got no answer in time.
	ErrPingTimeout = errors.New("ping timeout")
	// ErrSubscriptionClosed is returned by operations on a closed feed.
	ErrSubscriptionClosed = errors.New("subscription closed")
)

// IsRetryable reports whether err may succeed if the same call is retried
// later.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrBadRequest) ||
		errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrInvalidPayload) {
		return false
	}
	return errors.Is(err, ErrServer) ||
		errors.Is(err, ErrTransport) ||
		errors.Is(err, ErrPingTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
}
