// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package engine

import (
	"context"
	"fmt"

	"github.com/MKhiriev/go-sync-engine/internal/connection"
	"github.com/MKhiriev/go-sync-engine/models"
)

// channels opens one change feed per replicated table. Closing is left to
// the connection manager.
type channels struct {
	manager *connection.Manager
	filter  string
}

func (c channels) Start(ctx context.Context) error {
	for _, table := range models.Tables {
		if _, err := c.manager.Open(ctx, string(table), table, c.filter); err != nil {
			return fmt.Errorf("open %s channel: %w", table, err)
		}
	}
	return nil
}

func (c channels) Stop() {}
