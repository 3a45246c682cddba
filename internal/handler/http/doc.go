// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package http exposes the engine's status and control API over HTTP.
//
// Requests pass through trace-id, access-logging, response compression and
// optional bearer-token middleware before reaching the handlers, which
// delegate to the running engine.
package http
