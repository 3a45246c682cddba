// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package server runs the engine's HTTP control API.
//
// It owns the listener lifecycle: serving until the context is cancelled,
// then a graceful shutdown bounded by a timeout.
package server
