// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ffutop/modbus-poller/modbus"
	"github.com/ffutop/modbus-poller/modbus/crc"
)

// Frame errors returned by Verify. Every one of them means the response
// could not be trusted; slave exceptions are reported as *modbus.ExceptionError.
var (
	ErrShortFrame       = errors.New("modbus: short response")
	ErrFrameTooLarge    = errors.New("modbus: frame too large")
	ErrSlaveMismatch    = errors.New("modbus: response slave id does not match request")
	ErrCRC              = errors.New("modbus: response crc mismatch")
	ErrFunctionMismatch = errors.New("modbus: response function does not match request")
	ErrByteCount        = errors.New("modbus: response byte count mismatch")
	ErrEcho             = errors.New("modbus: write confirmation does not echo request")
)

// Response is a verified reply to a Request.
type Response struct {
	SlaveID  byte
	Function byte
	// Values holds Count decoded points or registers for read functions.
	Values []uint16
}

// Verify checks frame against the request and decodes it.
func (req *Request) Verify(frame []byte) (resp *Response, err error) {
	length := len(frame)
	// Minimum size (including address, function and CRC)
	if length < ExceptionSize {
		err = fmt.Errorf("%w: length '%v' does not meet minimum '%v'", ErrShortFrame, length, ExceptionSize)
		return
	}
	// Slave address must match
	if frame[0] != req.SlaveID {
		err = fmt.Errorf("%w: response '%v', request '%v'", ErrSlaveMismatch, frame[0], req.SlaveID)
		return
	}

	var c crc.CRC
	c.Reset().PushBytes(frame[0 : length-2])
	checksum := uint16(frame[length-1])<<8 | uint16(frame[length-2])
	if checksum != c.Value() {
		err = fmt.Errorf("%w: received '%v', expected '%v'", ErrCRC, checksum, c.Value())
		return
	}

	functionCode := frame[1]
	if functionCode == req.Function|modbus.ExceptionFlag {
		err = &modbus.ExceptionError{FunctionCode: req.Function, ExceptionCode: frame[2]}
		return
	}
	if functionCode != req.Function {
		err = fmt.Errorf("%w: response '%v', request '%v'", ErrFunctionMismatch, functionCode, req.Function)
		return
	}

	resp = &Response{SlaveID: frame[0], Function: functionCode}
	payload := frame[2 : length-2]

	switch {
	case modbus.IsRead(functionCode):
		expected := ResponseLength(functionCode, req.Count) - readHeaderSize - crcSize
		if int(payload[0]) != expected || len(payload)-1 != expected {
			resp = nil
			err = fmt.Errorf("%w: byte count '%v', payload '%v', expected '%v'", ErrByteCount, payload[0], len(payload)-1, expected)
			return
		}
		resp.Values = make([]uint16, req.Count)
		if modbus.IsBitAccess(functionCode) {
			UnpackBits(payload[1:], resp.Values)
		} else {
			UnpackRegisters(payload[1:], resp.Values)
		}
	case modbus.IsWrite(functionCode):
		if length != writeEchoSize {
			resp = nil
			err = fmt.Errorf("%w: write confirmation length '%v', expected '%v'", ErrShortFrame, length, writeEchoSize)
			return
		}
		address := binary.BigEndian.Uint16(payload[0:])
		count := binary.BigEndian.Uint16(payload[2:])
		if address != req.Address || count != req.Count {
			resp = nil
			err = fmt.Errorf("%w: address '%v' quantity '%v', expected '%v' '%v'", ErrEcho, address, count, req.Address, req.Count)
			return
		}
	}
	return
}
