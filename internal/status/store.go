// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package status publishes the packet table of the poller so that other
// processes can watch counters and connection state.
package status

import (
	"fmt"

	"github.com/ffutop/modbus-poller/internal/config"
	"github.com/ffutop/modbus-poller/internal/master"
)

// Store receives a copy of the packet table after transactions complete.
type Store interface {
	// Publish replaces the stored table with snapshots.
	Publish(snapshots []master.Snapshot) error
	Close() error
}

// New creates the store selected by cfg.
func New(cfg config.StatusConfig) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(cfg.Path), nil
	case "mmap":
		return NewMmapStore(cfg.Path), nil
	case "sqlite":
		return NewSQLStore(sqliteDriver, cfg.Path)
	}
	return nil, fmt.Errorf("unknown status store type: %s", cfg.Type)
}
