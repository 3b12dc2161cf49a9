// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"encoding/binary"
	"fmt"

	"github.com/ffutop/modbus-poller/modbus"
	"github.com/ffutop/modbus-poller/modbus/crc"
)

// Request describes one master transaction.
type Request struct {
	SlaveID  byte
	Function byte
	Address  uint16
	// Count is the number of points for functions 1, 2 and 15 and the
	// number of registers for functions 3, 4 and 16.
	Count uint16
	// Values is the write source for functions 15 and 16. Unused for reads.
	Values []uint16
}

// Broadcast reports whether the request is addressed to every slave.
func (req *Request) Broadcast() bool {
	return req.SlaveID == modbus.BroadcastID
}

// Validate checks the slave id, function code and size bounds of the request.
func (req *Request) Validate() error {
	if req.SlaveID > modbus.MaxSlaveID {
		return fmt.Errorf("modbus: slave id '%v' must not be bigger than '%v'", req.SlaveID, modbus.MaxSlaveID)
	}
	if req.Count == 0 {
		return fmt.Errorf("modbus: quantity must not be zero")
	}

	var limit int
	switch req.Function {
	case modbus.FuncCodeReadCoils,
		modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadInputRegisters:
		if req.Broadcast() {
			return fmt.Errorf("modbus: function '%v' cannot be broadcast", req.Function)
		}
		limit = MaxReadQuantity
	case modbus.FuncCodeWriteMultipleCoils:
		limit = MaxWriteCoils
	case modbus.FuncCodeWriteMultipleRegisters:
		limit = MaxWriteRegisters
	default:
		return fmt.Errorf("modbus: function code '%v' is not supported", req.Function)
	}
	if int(req.Count) > limit {
		return fmt.Errorf("modbus: quantity '%v' of function '%v' must not be bigger than '%v'", req.Count, req.Function, limit)
	}
	return nil
}

// Encode encodes the request in an RTU frame:
//
//	Slave Address   : 1 byte
//	Function        : 1 byte
//	Address         : 2 bytes
//	Quantity        : 2 bytes
//	Byte Count      : 1 byte  (15, 16 only)
//	Data            : N bytes (15, 16 only)
//	CRC             : 2 bytes
func (req *Request) Encode() (raw []byte, err error) {
	if err = req.Validate(); err != nil {
		return
	}

	var data []byte
	if modbus.IsWrite(req.Function) {
		if len(req.Values) < int(req.Count) {
			err = fmt.Errorf("modbus: %v values supplied for quantity '%v'", len(req.Values), req.Count)
			return
		}
		if req.Function == modbus.FuncCodeWriteMultipleCoils {
			data = PackBits(req.Values, int(req.Count))
		} else {
			data = PackRegisters(req.Values, int(req.Count))
		}
	}

	length := 6 + crcSize
	if data != nil {
		length += 1 + len(data)
	}
	if length > MaxSize {
		err = fmt.Errorf("%w: '%v' bytes", ErrFrameTooLarge, length)
		return
	}
	raw = make([]byte, length)

	raw[0] = req.SlaveID
	raw[1] = req.Function
	binary.BigEndian.PutUint16(raw[2:], req.Address)
	binary.BigEndian.PutUint16(raw[4:], req.Count)
	if data != nil {
		raw[6] = byte(len(data))
		copy(raw[7:], data)
	}

	// Append crc
	var c crc.CRC
	c.Reset().PushBytes(raw[0 : length-2])
	checksum := c.Value()

	raw[length-1] = byte(checksum >> 8)
	raw[length-2] = byte(checksum)
	return
}
