// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package models

import (
	"fmt"
	"time"
)

// ConnectionState is the lifecycle state of one change-feed channel.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
	StateDisabled
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// MarshalText lets states render by name in JSON status payloads.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ConnectionState) UnmarshalText(text []byte) error {
	st, err := ParseConnectionState(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ParseConnectionState returns the state named name.
func ParseConnectionState(name string) (ConnectionState, error) {
	for st := StateDisconnected; st <= StateDisabled; st++ {
		if st.String() == name {
			return st, nil
		}
	}
	return StateDisconnected, fmt.Errorf("unknown connection state %q", name)
}

// ConnectionConfig tunes the connection manager. Retry parameters that the
// adaptive layer swaps at runtime live in NetworkStrategy instead.
type ConnectionConfig struct {
	MaxRetries          int           `json:"max_retries"`
	HeartbeatInterval   time.Duration `json:"heartbeat_interval"`
	ConnectionTimeout   time.Duration `json:"connection_timeout"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	MaxConnectionAge    time.Duration `json:"max_connection_age"`
	// MaxRetryDelay caps the exponential backoff.
	MaxRetryDelay time.Duration `json:"max_retry_delay"`
}

// DefaultConnectionConfig returns production defaults.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		MaxRetries:          5,
		HeartbeatInterval:   30 * time.Second,
		ConnectionTimeout:   10 * time.Second,
		HealthCheckInterval: time.Minute,
		MaxConnectionAge:    30 * time.Minute,
		MaxRetryDelay:       2 * time.Minute,
	}
}

// ChannelStatus is a point-in-time view of one channel.
type ChannelStatus struct {
	Channel     string          `json:"channel"`
	Table       Table           `json:"table"`
	Filter      string          `json:"filter,omitempty"`
	State       ConnectionState `json:"state"`
	RetryCount  int             `json:"retry_count"`
	ConnectedAt time.Time       `json:"connected_at,omitzero"`
	LastError   string          `json:"last_error,omitempty"`
}
