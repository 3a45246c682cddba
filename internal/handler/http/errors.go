// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package http

import "errors"

// Sentinel errors reported by the API middleware and handlers. Callers can
// match against them with [errors.Is].
var (
	// ErrEmptyAuthorizationHeader is returned when a protected route is
	// called without an "Authorization" header.
	ErrEmptyAuthorizationHeader = errors.New("empty `Authorization` header")

	// ErrInvalidToken is returned when the presented bearer token does not
	// match the configured API token.
	ErrInvalidToken = errors.New("invalid API token")

	// ErrInvalidRequestBody is returned when a JSON body cannot be decoded
	// or lacks a required field.
	ErrInvalidRequestBody = errors.New("invalid request body")
)
