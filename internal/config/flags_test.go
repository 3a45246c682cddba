// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags_Empty(t *testing.T) {
	cfg, err := ParseFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, &StructuredConfig{}, cfg)
}

func TestParseFlags_AllFlags(t *testing.T) {
	cfg, err := ParseFlags([]string{
		"-a", "127.0.0.1:8081",
		"-d", "local.db",
		"-remote", "http://api",
		"-realtime", "ws://api",
		"-token", "tok",
		"-user", "u-9",
		"-request-timeout", "12s",
		"-strategy", "offline_tolerant",
		"-strategy-catalog", "presets.yaml",
		"-config", "cfg.json",
		"-log-file", "engine.log",
	})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8081", cfg.Server.HTTPAddress)
	assert.Equal(t, "local.db", cfg.Storage.DSN)
	assert.Equal(t, "http://api", cfg.Remote.HTTPAddress)
	assert.Equal(t, "ws://api", cfg.Remote.RealtimeAddress)
	assert.Equal(t, "tok", cfg.Remote.Token)
	assert.Equal(t, "u-9", cfg.App.UserID)
	assert.Equal(t, 12*time.Second, cfg.Remote.RequestTimeout)
	assert.Equal(t, "offline_tolerant", cfg.Strategy.Initial)
	assert.Equal(t, "presets.yaml", cfg.Strategy.CatalogFile)
	assert.Equal(t, "cfg.json", cfg.JSONFilePath)
	assert.Equal(t, "engine.log", cfg.App.LogFile)
}

func TestParseFlags_ShortConfigAlias(t *testing.T) {
	cfg, err := ParseFlags([]string{"-c", "short.json"})
	require.NoError(t, err)
	assert.Equal(t, "short.json", cfg.JSONFilePath)
}

func TestParseFlags_BadAddress(t *testing.T) {
	_, err := ParseFlags([]string{"-a", "nonsense"})
	assert.Error(t, err)
}

func TestParseFlags_RepeatableCalls(t *testing.T) {
	for range 2 {
		_, err := ParseFlags([]string{"-user", "again"})
		require.NoError(t, err)
	}
}

func TestNetAddress_Set(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    NetAddress
		wantErr bool
	}{
		{name: "ip", input: "127.0.0.1:8080", want: NetAddress{Host: "127.0.0.1", Port: 8080}},
		{name: "localhost", input: "localhost:80", want: NetAddress{Host: "localhost", Port: 80}},
		{name: "empty host", input: ":9000", want: NetAddress{Port: 9000}},
		{name: "trims spaces", input: "  localhost:81 ", want: NetAddress{Host: "localhost", Port: 81}},
		{name: "missing port", input: "localhost", wantErr: true},
		{name: "port not numeric", input: "localhost:http", wantErr: true},
		{name: "port zero", input: "localhost:0", wantErr: true},
		{name: "hostname rejected", input: "example.com:80", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a NetAddress
			err := a.Set(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, a)
		})
	}
}

func TestNetAddress_String(t *testing.T) {
	assert.Equal(t, "", (&NetAddress{}).String())
	assert.Equal(t, "localhost:8080", (&NetAddress{Host: "localhost", Port: 8080}).String())
	assert.Equal(t, ":9000", (&NetAddress{Port: 9000}).String())
}
