// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package workers

import (
	"context"
	"fmt"
)

// Group starts workers in order and stops them in reverse order.
type Group struct {
	workers []Worker
	started int
}

// NewGroup returns a group over workers. Nil entries are skipped.
func NewGroup(workers ...Worker) *Group {
	g := &Group{workers: make([]Worker, 0, len(workers))}
	for _, w := range workers {
		if w != nil {
			g.workers = append(g.workers, w)
		}
	}
	return g
}

// Start starts every worker. If one fails, the ones already started are
// stopped and the error is returned.
func (g *Group) Start(ctx context.Context) error {
	for i, w := range g.workers {
		if err := w.Start(ctx); err != nil {
			g.started = i
			g.Stop()
			return fmt.Errorf("start worker %d: %w", i, err)
		}
	}
	g.started = len(g.workers)
	return nil
}

// Stop stops started workers, last first.
func (g *Group) Stop() {
	for i := g.started - 1; i >= 0; i-- {
		g.workers[i].Stop()
	}
	g.started = 0
}
