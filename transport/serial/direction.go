// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package serial

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ffutop/modbus-poller/internal/config"
	"github.com/ffutop/modbus-poller/transport"
)

// gpioRoot is the sysfs GPIO class directory.
var gpioRoot = "/sys/class/gpio"

// NewDirectionLine returns the direction-control output selected by cfg.TxEnable.
// With "rts" the kernel RS485 driver switches the transceiver, so nothing
// is left to do in userspace.
func NewDirectionLine(cfg config.SerialConfig) (transport.DirectionLine, error) {
	kind, pin, err := cfg.Direction()
	if err != nil {
		return nil, err
	}
	switch kind {
	case config.TxEnableGPIO:
		return openGPIO(gpioRoot, pin)
	default:
		return transport.NoDirection, nil
	}
}

// GPIOLine drives a sysfs GPIO pin.
type GPIOLine struct {
	Pin  int
	path string
}

func openGPIO(root string, pin int) (*GPIOLine, error) {
	dir := filepath.Join(root, "gpio"+strconv.Itoa(pin))
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.WriteFile(filepath.Join(root, "export"), []byte(strconv.Itoa(pin)), 0644); err != nil {
			return nil, fmt.Errorf("failed to export gpio %d: %w", pin, err)
		}
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("gpio %d not available after export: %w", pin, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "direction"), []byte("out"), 0644); err != nil {
		return nil, fmt.Errorf("failed to configure gpio %d: %w", pin, err)
	}

	line := &GPIOLine{Pin: pin, path: filepath.Join(dir, "value")}
	// start in receive mode
	if err := line.Set(false); err != nil {
		return nil, err
	}
	return line, nil
}

func (g *GPIOLine) Set(transmit bool) error {
	v := []byte("0")
	if transmit {
		v = []byte("1")
	}
	if err := os.WriteFile(g.path, v, 0644); err != nil {
		return fmt.Errorf("failed to set gpio %d: %w", g.Pin, err)
	}
	return nil
}
