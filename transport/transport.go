// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"io"
)

// Port is the byte channel to the bus.
//
// The polling master runs on a cooperative tick, so reads must never block:
// ReadAvailable returns whatever has arrived since the last call, possibly
// nothing.
type Port interface {
	io.Writer
	// ReadAvailable copies pending received bytes into p and returns how many
	// were copied. It returns 0, nil when nothing is pending.
	ReadAvailable(p []byte) (int, error)
	// Discard drops every pending received byte.
	Discard()
}

// DirectionLine drives the transmit-enable input of a half-duplex
// transceiver. It is asserted right before a frame is written and released
// once the last character has left the line.
type DirectionLine interface {
	Set(transmit bool) error
}

type noDirection struct{}

func (noDirection) Set(bool) error { return nil }

// NoDirection is used when the adapter or the kernel switches direction itself.
var NoDirection DirectionLine = noDirection{}
