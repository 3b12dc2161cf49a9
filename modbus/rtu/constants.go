// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

const (
	// MinSize covers slave id, function code and CRC.
	MinSize = 4
	// MaxSize is the largest frame the master builds or accepts,
	// sized after the 128 byte receive buffer of small slaves.
	MaxSize = 128

	ExceptionSize = 5

	// readHeaderSize is id, function and byte count.
	readHeaderSize = 3
	// writeHeaderSize is id, function, address, quantity and byte count.
	writeHeaderSize = 7
	// writeEchoSize is id, function, address, quantity and CRC.
	writeEchoSize = 8
	crcSize       = 2

	// MaxReadQuantity bounds functions 1 to 4: 5 + 2*61 <= 128.
	MaxReadQuantity = (MaxSize - readHeaderSize - crcSize) / 2
	// MaxWriteRegisters bounds function 16: 9 + 2*59 <= 128.
	MaxWriteRegisters = (MaxSize - writeHeaderSize - crcSize) / 2
	// MaxWriteCoils bounds function 15: 9 + ceil(n/8) <= 128.
	MaxWriteCoils = (MaxSize - writeHeaderSize - crcSize) * 8
)
