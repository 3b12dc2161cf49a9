// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"errors"
	"testing"

	"github.com/ffutop/modbus-poller/modbus"
	"github.com/ffutop/modbus-poller/modbus/crc"
)

func withCRC(frame ...byte) []byte {
	sum := crc.Checksum(frame)
	return append(frame, byte(sum), byte(sum>>8))
}

func TestVerify_ReadHoldingRegisters(t *testing.T) {
	req := &Request{SlaveID: 1, Function: 0x03, Address: 0, Count: 5}
	frame := withCRC(0x01, 0x03, 0x0A,
		0x00, 0x01, 0x12, 0x34, 0xAB, 0xCD, 0xFF, 0xFF, 0x80, 0x00)

	resp, err := req.Verify(frame)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	want := []uint16{0x0001, 0x1234, 0xABCD, 0xFFFF, 0x8000}
	if len(resp.Values) != len(want) {
		t.Fatalf("got %d values, want %d", len(resp.Values), len(want))
	}
	for i := range want {
		if resp.Values[i] != want[i] {
			t.Errorf("value[%d] = %#04x, want %#04x", i, resp.Values[i], want[i])
		}
	}
}

func TestVerify_ReadCoils(t *testing.T) {
	req := &Request{SlaveID: 4, Function: 0x01, Address: 0x13, Count: 10}
	frame := withCRC(0x04, 0x01, 0x02, 0xCD, 0x01)

	resp, err := req.Verify(frame)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	want := []uint16{1, 0, 1, 1, 0, 0, 1, 1, 1, 0}
	for i := range want {
		if resp.Values[i] != want[i] {
			t.Errorf("point[%d] = %v, want %v", i, resp.Values[i], want[i])
		}
	}
}

func TestVerify_WriteConfirmation(t *testing.T) {
	req := &Request{SlaveID: 17, Function: 0x10, Address: 1, Count: 2, Values: []uint16{1, 2}}
	if _, err := req.Verify(withCRC(0x11, 0x10, 0x00, 0x01, 0x00, 0x02)); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	_, err := req.Verify(withCRC(0x11, 0x10, 0x00, 0x02, 0x00, 0x02))
	if !errors.Is(err, ErrEcho) {
		t.Fatalf("Verify() error = %v, want ErrEcho", err)
	}
}

func TestVerify_Exception(t *testing.T) {
	req := &Request{SlaveID: 1, Function: 0x03, Address: 0, Count: 1}
	_, err := req.Verify(withCRC(0x01, 0x83, 0x02))

	var exc *modbus.ExceptionError
	if !errors.As(err, &exc) {
		t.Fatalf("Verify() error = %v, want *modbus.ExceptionError", err)
	}
	if exc.ExceptionCode != modbus.ExceptionCodeIllegalDataAddress || exc.FunctionCode != 0x03 {
		t.Errorf("exception = %+v", exc)
	}
}

func TestVerify_FrameErrors(t *testing.T) {
	req := &Request{SlaveID: 1, Function: 0x03, Address: 0, Count: 1}
	good := withCRC(0x01, 0x03, 0x02, 0x00, 0x07)
	badCRC := append([]byte{}, good...)
	badCRC[len(badCRC)-1] ^= 0xFF

	tests := []struct {
		name  string
		frame []byte
		want  error
	}{
		{"Short", []byte{0x01, 0x03, 0x02}, ErrShortFrame},
		{"SlaveMismatch", withCRC(0x02, 0x03, 0x02, 0x00, 0x07), ErrSlaveMismatch},
		{"CRC", badCRC, ErrCRC},
		{"FunctionMismatch", withCRC(0x01, 0x04, 0x02, 0x00, 0x07), ErrFunctionMismatch},
		{"ByteCount", withCRC(0x01, 0x03, 0x04, 0x00, 0x07, 0x00, 0x08), ErrByteCount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := req.Verify(tt.frame)
			if !errors.Is(err, tt.want) {
				t.Errorf("Verify() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestVerify_BitFlipRejected(t *testing.T) {
	req := &Request{SlaveID: 9, Function: 0x04, Address: 0, Count: 3}
	frame := withCRC(0x09, 0x04, 0x06, 0x00, 0x01, 0x00, 0x02, 0x00, 0x03)
	if _, err := req.Verify(frame); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	for bit := 0; bit < len(frame)*8; bit++ {
		corrupt := append([]byte{}, frame...)
		corrupt[bit/8] ^= 1 << (bit % 8)
		if _, err := req.Verify(corrupt); err == nil {
			t.Fatalf("bit %d flip accepted", bit)
		}
	}
}

func TestRoundTrip_RequestToVerify(t *testing.T) {
	// A slave echo of a write request header is a valid confirmation.
	req := &Request{SlaveID: 3, Function: 0x0F, Address: 0x20, Count: 9, Values: []uint16{1, 1, 0, 0, 1, 0, 1, 0, 1}}
	raw, err := req.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if _, err := req.Verify(withCRC(raw[:6]...)); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
}
