// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package workers runs the engine's background work.
//
// Every timer in the engine lives in one [Scheduler] as a named task, so a
// single Stop call cancels all of them and waits for in-flight runs. The
// long-lived components themselves implement [Worker] and are started and
// stopped together by a [Group].
package workers

import "context"

// TaskFunc is the body of a scheduled task. ctx is cancelled when the
// scheduler stops.
type TaskFunc func(ctx context.Context)

// Worker is a component with a background lifecycle.
//
// Start must not block; Stop must block until every goroutine the worker
// started has exited.
type Worker interface {
	Start(ctx context.Context) error
	Stop()
}
