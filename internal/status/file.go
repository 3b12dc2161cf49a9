// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package status

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ffutop/modbus-poller/internal/master"
	"gopkg.in/yaml.v3"
)

// Document is the YAML document written by FileStore.
type Document struct {
	Updated time.Time         `yaml:"updated"`
	Packets []master.Snapshot `yaml:"packets"`
}

// FileStore writes the table as a YAML document. Every publish replaces
// the file atomically, readers never see a partial document.
type FileStore struct {
	path string
	now  func() time.Time
}

// NewFileStore creates a new FileStore.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path: path,
		now:  time.Now,
	}
}

func (fs *FileStore) Publish(snapshots []master.Snapshot) error {
	data, err := yaml.Marshal(Document{Updated: fs.now(), Packets: snapshots})
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fs.path), filepath.Base(fs.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync file to disk: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), fs.path)
}

// ReadFile loads a document written by FileStore.
func ReadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return &doc, nil
}

func (fs *FileStore) Close() error {
	return nil
}
