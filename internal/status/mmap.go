// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package status

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/ffutop/modbus-poller/internal/master"
)

// MmapStore publishes the table into a memory-mapped file, so a watcher
// can map the same file read-only and see counters as they change.
// The file is sized on the first Publish.
type MmapStore struct {
	path string
	file *os.File
	data mmap.MMap
}

// NewMmapStore creates a new MmapStore.
func NewMmapStore(path string) *MmapStore {
	return &MmapStore{
		path: path,
	}
}

func (ms *MmapStore) Publish(snapshots []master.Snapshot) error {
	size := tableSize(len(snapshots))
	if len(ms.data) != size {
		if err := ms.remap(size); err != nil {
			return err
		}
	}
	encodeTable(ms.data, snapshots)
	return ms.data.Flush()
}

func (ms *MmapStore) remap(size int) error {
	if ms.data != nil {
		if err := ms.data.Unmap(); err != nil {
			return fmt.Errorf("munmap failed: %w", err)
		}
		ms.data = nil
	}
	if ms.file == nil {
		// Open file, creating if necessary
		f, err := os.OpenFile(ms.path, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return fmt.Errorf("failed to open mmap file: %w", err)
		}
		ms.file = f
	}
	if err := ms.file.Truncate(int64(size)); err != nil {
		return fmt.Errorf("failed to resize mmap file: %w", err)
	}

	data, err := mmap.Map(ms.file, mmap.RDWR, 0)
	if err != nil {
		return fmt.Errorf("mmap failed: %w", err)
	}
	ms.data = data
	return nil
}

// Close unmaps and closes the file.
func (ms *MmapStore) Close() error {
	var err error
	if ms.data != nil {
		if e := ms.data.Unmap(); e != nil {
			err = e
		}
		ms.data = nil
	}
	if ms.file != nil {
		if e := ms.file.Close(); e != nil {
			err = e
		}
		ms.file = nil
	}
	return err
}
