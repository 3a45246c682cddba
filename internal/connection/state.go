// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package connection

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"

	"github.com/MKhiriev/go-sync-engine/models"
)

// Channel lifecycle events.
const (
	eventConnect        = "connect"
	eventConnected      = "connected"
	eventFail           = "fail"
	eventHeartbeatLost  = "heartbeat_lost"
	eventRetryExhausted = "retry_exhausted"
	eventRecycle        = "recycle"
	eventOffline        = "offline"
	eventClose          = "close"
	eventDisable        = "disable"
)

var (
	stateDisconnected = models.StateDisconnected.String()
	stateConnecting   = models.StateConnecting.String()
	stateConnected    = models.StateConnected.String()
	stateReconnecting = models.StateReconnecting.String()
	stateError        = models.StateError.String()
	stateDisabled     = models.StateDisabled.String()

	allStates = []string{stateDisconnected, stateConnecting, stateConnected, stateReconnecting, stateError, stateDisabled}
)

// channelTransitions is the legal transition table of a channel.
var channelTransitions = fsm.Events{
	{Name: eventConnect, Src: []string{stateDisconnected, stateReconnecting}, Dst: stateConnecting},
	{Name: eventConnected, Src: []string{stateConnecting}, Dst: stateConnected},
	{Name: eventFail, Src: []string{stateConnecting, stateConnected, stateError}, Dst: stateReconnecting},
	{Name: eventHeartbeatLost, Src: []string{stateConnected}, Dst: stateError},
	{Name: eventRetryExhausted, Src: []string{stateConnecting, stateConnected, stateError}, Dst: stateDisconnected},
	{Name: eventRecycle, Src: []string{stateConnected}, Dst: stateReconnecting},
	{Name: eventOffline, Src: []string{stateConnecting, stateConnected, stateReconnecting, stateError}, Dst: stateDisconnected},
	{Name: eventClose, Src: allStates, Dst: stateDisconnected},
	{Name: eventDisable, Src: allStates, Dst: stateDisabled},
}

// newChannelFSM returns a state machine in the disconnected state that
// calls onEnter after every state change.
func newChannelFSM(onEnter func(models.ConnectionState)) *fsm.FSM {
	return fsm.NewFSM(
		stateDisconnected,
		channelTransitions,
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				state, err := models.ParseConnectionState(e.Dst)
				if err != nil {
					return
				}
				onEnter(state)
			},
		},
	)
}

// fire applies a lifecycle event. Firing an event that leaves the state
// unchanged is not an error.
func fire(machine *fsm.FSM, event string) error {
	err := machine.Event(context.Background(), event)
	var same fsm.NoTransitionError
	if err == nil || errors.As(err, &same) {
		return nil
	}
	return fmt.Errorf("%w: %s in state %s: %w", ErrIllegalTransition, event, machine.Current(), err)
}
