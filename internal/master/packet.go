// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import (
	"fmt"

	"github.com/ffutop/modbus-poller/modbus"
	"github.com/ffutop/modbus-poller/modbus/rtu"
)

// Counters are the diagnostic counters of one packet. All of them only grow,
// except Retries which returns to zero on success or when retries run out.
type Counters struct {
	Requests           uint32 `yaml:"requests"`
	SuccessfulRequests uint32 `yaml:"successful_requests"`
	// FailedRequests counts timeouts, frame errors and CRC failures.
	FailedRequests uint32 `yaml:"failed_requests"`
	// ExceptionErrors counts exception responses of every exception code.
	ExceptionErrors uint32 `yaml:"exception_errors"`
	Retries         uint32 `yaml:"retries"`
}

// Packet is one transaction polled by the master.
//
// Buffer belongs to the application. For read functions the master writes
// into it, for write functions it reads from it; functions 1, 2 and 15 use
// one word per point, non-zero meaning ON. While a packet is in flight the
// application must neither read a read-buffer nor write a write-buffer until
// SuccessfulRequests or FailedRequests reflect the completion.
type Packet struct {
	Name     string
	SlaveID  byte
	Function byte
	Address  uint16
	Count    uint16
	Buffer   []uint16

	Counters
	// Connection gates polling. The master clears it when retries run out;
	// only the application sets it again.
	Connection bool
	// LastException is the code of the latest exception response, for diagnostics.
	LastException byte
}

// NewPacket validates the transaction and returns an enabled packet.
func NewPacket(name string, slaveID, function byte, address, count uint16, buffer []uint16) (*Packet, error) {
	p := &Packet{
		Name:       name,
		SlaveID:    slaveID,
		Function:   function,
		Address:    address,
		Count:      count,
		Buffer:     buffer,
		Connection: true,
	}
	req := p.request()
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("packet %q: %w", name, err)
	}
	if len(buffer) < int(count) {
		return nil, fmt.Errorf("packet %q: buffer holds %d words, need %d", name, len(buffer), count)
	}
	return p, nil
}

// Broadcast reports whether the packet addresses every slave.
func (p *Packet) Broadcast() bool {
	return p.SlaveID == modbus.BroadcastID
}

func (p *Packet) request() rtu.Request {
	req := rtu.Request{
		SlaveID:  p.SlaveID,
		Function: p.Function,
		Address:  p.Address,
		Count:    p.Count,
	}
	if modbus.IsWrite(p.Function) {
		req.Values = p.Buffer
	}
	return req
}

// Snapshot is a copy of a packet's identity, counters and state.
type Snapshot struct {
	Name     string `yaml:"name"`
	SlaveID  byte   `yaml:"slave_id"`
	Function byte   `yaml:"function"`
	Address  uint16 `yaml:"address"`
	Count    uint16 `yaml:"count"`

	Counters      `yaml:",inline"`
	Connection    bool `yaml:"connection"`
	LastException byte `yaml:"last_exception"`
}

// Snapshot copies the packet's current state.
func (p *Packet) Snapshot() Snapshot {
	return Snapshot{
		Name:          p.Name,
		SlaveID:       p.SlaveID,
		Function:      p.Function,
		Address:       p.Address,
		Count:         p.Count,
		Counters:      p.Counters,
		Connection:    p.Connection,
		LastException: p.LastException,
	}
}
