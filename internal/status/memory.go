// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package status

import (
	"sync"

	"github.com/ffutop/modbus-poller/internal/master"
)

// MemoryStore keeps the latest table in memory (non-persistent).
type MemoryStore struct {
	mu   sync.Mutex
	last []master.Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (ms *MemoryStore) Publish(snapshots []master.Snapshot) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.last = append(ms.last[:0], snapshots...)
	return nil
}

// Last returns a copy of the latest published table.
func (ms *MemoryStore) Last() []master.Snapshot {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([]master.Snapshot(nil), ms.last...)
}

func (ms *MemoryStore) Close() error {
	return nil
}
