// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package workers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWorker struct {
	id       int
	order    *[]int
	stopped  *[]int
	startErr error
}

func (w *recordingWorker) Start(context.Context) error {
	if w.startErr != nil {
		return w.startErr
	}
	*w.order = append(*w.order, w.id)
	return nil
}

func (w *recordingWorker) Stop() {
	*w.stopped = append(*w.stopped, w.id)
}

func TestGroup_StartsInOrderStopsInReverse(t *testing.T) {
	var started, stopped []int
	g := NewGroup(
		&recordingWorker{id: 1, order: &started, stopped: &stopped},
		nil,
		&recordingWorker{id: 2, order: &started, stopped: &stopped},
		&recordingWorker{id: 3, order: &started, stopped: &stopped},
	)

	require.NoError(t, g.Start(context.Background()))
	g.Stop()

	assert.Equal(t, []int{1, 2, 3}, started)
	assert.Equal(t, []int{3, 2, 1}, stopped)
}

func TestGroup_StartFailureStopsStarted(t *testing.T) {
	var started, stopped []int
	boom := errors.New("boom")
	g := NewGroup(
		&recordingWorker{id: 1, order: &started, stopped: &stopped},
		&recordingWorker{id: 2, order: &started, stopped: &stopped},
		&recordingWorker{id: 3, order: &started, stopped: &stopped, startErr: boom},
	)

	err := g.Start(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []int{1, 2}, started)
	assert.Equal(t, []int{2, 1}, stopped)

	g.Stop()
	assert.Equal(t, []int{2, 1}, stopped)
}

func TestGroup_Empty(t *testing.T) {
	g := NewGroup()
	require.NoError(t, g.Start(context.Background()))
	g.Stop()
}
