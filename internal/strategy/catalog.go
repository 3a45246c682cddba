// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package strategy

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/MKhiriev/go-sync-engine/models"
)

// Preset names.
const (
	Realtime        = "realtime"
	Balanced        = "balanced"
	Conservative    = "conservative"
	BatterySaver    = "battery_saver"
	OfflineTolerant = "offline_tolerant"
)

var (
	// ErrUnknownStrategy is returned when a name is not in the catalog.
	ErrUnknownStrategy = errors.New("unknown strategy")
	// ErrInvalidStrategy is returned for a preset with unusable parameters.
	ErrInvalidStrategy = errors.New("invalid strategy")
)

// Presets returns the built-in catalog.
func Presets() Catalog {
	return Catalog{
		Realtime: {
			Name:               Realtime,
			BatchSize:          10,
			BatchInterval:      100 * time.Millisecond,
			RetryDelay:         500 * time.Millisecond,
			MaxRetries:         10,
			CompressionEnabled: false,
			NetworkAware:       true,
			BackoffMultiplier:  1.5,
			HeartbeatScale:     1,
		},
		Balanced: {
			Name:               Balanced,
			BatchSize:          50,
			BatchInterval:      time.Second,
			RetryDelay:         2 * time.Second,
			MaxRetries:         5,
			CompressionEnabled: true,
			NetworkAware:       true,
			BackoffMultiplier:  2,
			HeartbeatScale:     1,
		},
		Conservative: {
			Name:               Conservative,
			BatchSize:          100,
			BatchInterval:      5 * time.Second,
			RetryDelay:         5 * time.Second,
			MaxRetries:         8,
			CompressionEnabled: true,
			NetworkAware:       true,
			BackoffMultiplier:  2,
			HeartbeatScale:     1.5,
		},
		BatterySaver: {
			Name:               BatterySaver,
			BatchSize:          200,
			BatchInterval:      15 * time.Second,
			RetryDelay:         10 * time.Second,
			MaxRetries:         5,
			CompressionEnabled: true,
			NetworkAware:       true,
			BatteryOptimized:   true,
			BackoffMultiplier:  2.5,
			HeartbeatScale:     3,
		},
		OfflineTolerant: {
			Name:               OfflineTolerant,
			BatchSize:          500,
			BatchInterval:      30 * time.Second,
			RetryDelay:         30 * time.Second,
			MaxRetries:         20,
			CompressionEnabled: true,
			NetworkAware:       true,
			BackoffMultiplier:  3,
			HeartbeatScale:     2,
		},
	}
}

// Catalog maps preset names to strategies.
type Catalog map[string]models.NetworkStrategy

// Get returns the named strategy.
func (c Catalog) Get(name string) (models.NetworkStrategy, error) {
	s, ok := c[name]
	if !ok {
		return models.NetworkStrategy{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	return s, nil
}

// Names returns the preset names in sorted order.
func (c Catalog) Names() []string {
	return slices.Sorted(maps.Keys(c))
}

type catalogFile struct {
	Strategies []models.NetworkStrategy `yaml:"strategies"`
}

// LoadCatalog returns the built-in presets overlaid with the YAML file at
// path. An entry naming an existing preset overrides only the fields it
// sets; an entry with a new name adds a preset and must be complete. Zero
// values in an override (false, 0) leave the preset's value in place. An
// empty path returns the built-in presets.
func LoadCatalog(path string) (Catalog, error) {
	catalog := Presets()
	if path == "" {
		return catalog, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading strategy catalog: %w", err)
	}
	return catalog.Overlay(data)
}

// Overlay applies YAML overrides to a copy of c.
func (c Catalog) Overlay(data []byte) (Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("error parsing strategy catalog: %w", err)
	}

	out := maps.Clone(c)
	for _, override := range file.Strategies {
		if override.Name == "" {
			return nil, fmt.Errorf("%w: entry without name", ErrInvalidStrategy)
		}

		merged := out[override.Name]
		if err := mergo.Merge(&merged, override, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("error merging strategy %q: %w", override.Name, err)
		}
		if err := Validate(merged); err != nil {
			return nil, err
		}
		out[override.Name] = merged
	}
	return out, nil
}

// Validate checks that s can drive the engine.
func Validate(s models.NetworkStrategy) error {
	switch {
	case s.Name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidStrategy)
	case s.BatchSize <= 0:
		return fmt.Errorf("%w: %s: batch_size must be positive", ErrInvalidStrategy, s.Name)
	case s.BatchInterval <= 0:
		return fmt.Errorf("%w: %s: batch_interval must be positive", ErrInvalidStrategy, s.Name)
	case s.RetryDelay <= 0:
		return fmt.Errorf("%w: %s: retry_delay must be positive", ErrInvalidStrategy, s.Name)
	case s.MaxRetries <= 0:
		return fmt.Errorf("%w: %s: max_retries must be positive", ErrInvalidStrategy, s.Name)
	case s.BackoffMultiplier < 1:
		return fmt.Errorf("%w: %s: backoff_multiplier must be at least 1", ErrInvalidStrategy, s.Name)
	case s.HeartbeatScale <= 0:
		return fmt.Errorf("%w: %s: heartbeat_scale must be positive", ErrInvalidStrategy, s.Name)
	}
	return nil
}
