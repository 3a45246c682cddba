// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package utils

import (
	"math"
	"time"

	"github.com/cenkalti/backoff"
)

// Backoff returns base * multiplier^attempt capped at maxDelay. A
// non-positive maxDelay disables the cap; a multiplier below 1 is treated as
// 1 (constant delay).
func Backoff(base time.Duration, multiplier float64, attempt int, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if maxDelay <= 0 {
		maxDelay = time.Duration(math.MaxInt64)
	}
	if base >= maxDelay {
		return maxDelay
	}

	b := newBackOff(base, multiplier, maxDelay)
	delay := b.NextBackOff()
	for range max(attempt, 0) {
		next := b.NextBackOff()
		if next == delay {
			break
		}
		delay = next
	}
	return delay
}

// newBackOff returns a deterministic exponential backoff that never gives
// up: no jitter and no elapsed-time limit.
func newBackOff(base time.Duration, multiplier float64, maxDelay time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.RandomizationFactor = 0
	b.Multiplier = max(multiplier, 1)
	b.MaxInterval = maxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
