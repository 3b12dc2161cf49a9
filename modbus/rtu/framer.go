// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"github.com/ffutop/modbus-poller/modbus"
)

// ResponseLength returns the expected length of a normal response frame.
func ResponseLength(functionCode byte, count uint16) int {
	switch functionCode {
	case modbus.FuncCodeReadCoils,
		modbus.FuncCodeReadDiscreteInputs:
		return readHeaderSize + bitBytes(int(count)) + crcSize
	case modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadInputRegisters:
		return readHeaderSize + 2*int(count) + crcSize
	case modbus.FuncCodeWriteMultipleCoils,
		modbus.FuncCodeWriteMultipleRegisters:
		return writeEchoSize
	}
	return MinSize
}

// Receiver accumulates the bytes of one response across several reads.
// It never blocks; the caller feeds whatever the port had available and
// owns the timeout.
type Receiver struct {
	functionCode byte
	expected     int

	data [MaxSize]byte
	n    int
}

// NewReceiver prepares a Receiver for the response to req.
func NewReceiver(req *Request) *Receiver {
	r := &Receiver{}
	r.Reset(req)
	return r
}

// want is the frame length implied by what has been received so far.
// The exception shape is recognised from the function byte.
func (r *Receiver) want() int {
	if r.n >= 2 && r.data[1] == r.functionCode|modbus.ExceptionFlag {
		return ExceptionSize
	}
	return r.expected
}

// Feed appends p to the frame. It returns true once a frame of the
// expected shape is complete; bytes past the end of the frame are ignored.
func (r *Receiver) Feed(p []byte) bool {
	for _, b := range p {
		if r.Complete() {
			break
		}
		r.data[r.n] = b
		r.n++
	}
	return r.Complete()
}

// Complete reports whether a full frame has been received.
func (r *Receiver) Complete() bool {
	return r.n >= 2 && r.n >= r.want()
}

// Len returns the number of bytes received so far.
func (r *Receiver) Len() int {
	return r.n
}

// Frame returns the bytes received so far.
func (r *Receiver) Frame() []byte {
	return r.data[:r.n]
}

// Reset discards everything received and arms the receiver for the
// response to req, so one Receiver can serve every transaction.
func (r *Receiver) Reset(req *Request) {
	r.functionCode = req.Function
	r.expected = ResponseLength(req.Function, req.Count)
	r.n = 0
}
