// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package modbus holds the protocol constants shared by the RTU framer
// and the polling master.
package modbus

import "fmt"

const (
	// BroadcastID addresses every slave on the line. Slaves never answer it.
	BroadcastID = 0
	// MaxSlaveID is the highest unicast slave address.
	MaxSlaveID = 247
)

// Function Codes
const (
	FuncCodeReadCoils              = 0x01
	FuncCodeReadDiscreteInputs     = 0x02
	FuncCodeReadHoldingRegisters   = 0x03
	FuncCodeReadInputRegisters     = 0x04
	FuncCodeWriteSingleCoil        = 0x05 // reserved, never emitted by the master
	FuncCodeWriteMultipleCoils     = 0x0F
	FuncCodeWriteMultipleRegisters = 0x10

	// ExceptionFlag is OR-ed into the function code of an exception response.
	ExceptionFlag = 0x80
)

// Exception Codes
const (
	ExceptionCodeIllegalFunction     = 0x01
	ExceptionCodeIllegalDataAddress  = 0x02
	ExceptionCodeIllegalDataValue    = 0x03
	ExceptionCodeServerDeviceFailure = 0x04
)

// IsRead reports whether functionCode reads coils, inputs or registers.
func IsRead(functionCode byte) bool {
	switch functionCode {
	case FuncCodeReadCoils,
		FuncCodeReadDiscreteInputs,
		FuncCodeReadHoldingRegisters,
		FuncCodeReadInputRegisters:
		return true
	}
	return false
}

// IsWrite reports whether functionCode is one of the supported multiple-write functions.
func IsWrite(functionCode byte) bool {
	return functionCode == FuncCodeWriteMultipleCoils || functionCode == FuncCodeWriteMultipleRegisters
}

// IsBitAccess reports whether functionCode addresses single-bit points.
func IsBitAccess(functionCode byte) bool {
	switch functionCode {
	case FuncCodeReadCoils,
		FuncCodeReadDiscreteInputs,
		FuncCodeWriteMultipleCoils:
		return true
	}
	return false
}

// ExceptionError is a slave's explicit refusal of a request.
type ExceptionError struct {
	FunctionCode  byte
	ExceptionCode byte
}

func (e *ExceptionError) Error() string {
	var name string
	switch e.ExceptionCode {
	case ExceptionCodeIllegalFunction:
		name = "illegal function"
	case ExceptionCodeIllegalDataAddress:
		name = "illegal data address"
	case ExceptionCodeIllegalDataValue:
		name = "illegal data value"
	case ExceptionCodeServerDeviceFailure:
		name = "server device failure"
	default:
		name = "unknown"
	}
	return fmt.Sprintf("modbus: exception '%v' (%s), function '%v'", e.ExceptionCode, name, e.FunctionCode)
}
