// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"fmt"

	"github.com/ffutop/modbus-poller/modbus/rtu"
)

// Validate checks configuration correctness.
// It performs declarative validation only and does not mutate cfg.
// An empty packet table is valid: the master then polls nothing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if cfg.Serial.BaudRate <= 0 {
		return fmt.Errorf("serial: baud_rate must be > 0, got %d", cfg.Serial.BaudRate)
	}
	if _, _, _, err := cfg.Serial.Frame(); err != nil {
		return fmt.Errorf("serial: %w", err)
	}
	if _, _, err := cfg.Serial.Direction(); err != nil {
		return fmt.Errorf("serial: %w", err)
	}

	if cfg.Master.Timeout <= 0 {
		return fmt.Errorf("master: timeout must be > 0")
	}
	if cfg.Master.Polling < 0 {
		return fmt.Errorf("master: polling must not be negative")
	}
	if cfg.Master.RetryCount < 0 || cfg.Master.RetryCount > 255 {
		return fmt.Errorf("master: retry_count must be within 0-255, got %d", cfg.Master.RetryCount)
	}

	switch cfg.Status.Type {
	case "", "memory":
	case "file", "mmap", "sqlite":
		if cfg.Status.Path == "" {
			return fmt.Errorf("status: type %q requires a path", cfg.Status.Type)
		}
	default:
		return fmt.Errorf("status: unknown type %q", cfg.Status.Type)
	}

	names := make(map[string]int)
	for i, p := range cfg.Packets {
		if prev, exists := names[p.Name]; exists && p.Name != "" {
			return fmt.Errorf("packet %q: name already used by packet #%d", p.Name, prev+1)
		}
		names[p.Name] = i

		if err := p.Validate(); err != nil {
			return fmt.Errorf("packet %q: %w", p.Name, err)
		}
	}

	return nil
}

// Validate checks the packet against the frame limits of the master.
func (p PacketConfig) Validate() error {
	if p.SlaveID < 0 || p.SlaveID > 255 {
		return fmt.Errorf("slave_id %d out of range", p.SlaveID)
	}
	if p.Function < 0 || p.Function > 255 {
		return fmt.Errorf("function %d out of range", p.Function)
	}
	if p.Address < 0 || p.Address > 0xFFFF {
		return fmt.Errorf("address %d out of range", p.Address)
	}
	if p.Count < 0 || p.Count > 0xFFFF {
		return fmt.Errorf("count %d out of range", p.Count)
	}
	if len(p.Values) > p.Count {
		return fmt.Errorf("%d values given for count %d", len(p.Values), p.Count)
	}

	req := p.Request()
	return req.Validate()
}

// Request converts the packet into a frame request.
func (p PacketConfig) Request() rtu.Request {
	return rtu.Request{
		SlaveID:  byte(p.SlaveID),
		Function: byte(p.Function),
		Address:  uint16(p.Address),
		Count:    uint16(p.Count),
	}
}
