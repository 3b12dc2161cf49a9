// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/ffutop/modbus-poller/modbus/crc"
)

// mockPort answers every written frame through respond and hands the
// answer out on the following reads.
type mockPort struct {
	respond  func(req []byte) []byte
	writes   [][]byte
	inbox    []byte
	writeErr error
	discards int
}

func (m *mockPort) Write(p []byte) (int, error) {
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	m.writes = append(m.writes, append([]byte(nil), p...))
	if m.respond != nil {
		m.inbox = append(m.inbox, m.respond(p)...)
	}
	return len(p), nil
}

func (m *mockPort) ReadAvailable(p []byte) (int, error) {
	n := copy(p, m.inbox)
	m.inbox = m.inbox[n:]
	return n, nil
}

func (m *mockPort) Discard() {
	m.discards++
	m.inbox = nil
}

type mockDirection struct {
	sets []bool
}

func (d *mockDirection) Set(transmit bool) error {
	d.sets = append(d.sets, transmit)
	return nil
}

func withCRC(frame ...byte) []byte {
	sum := crc.Checksum(frame)
	return append(frame, byte(sum), byte(sum>>8))
}

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func mustPacket(t *testing.T, name string, slaveID, function byte, address, count uint16, buffer []uint16) *Packet {
	t.Helper()
	p, err := NewPacket(name, slaveID, function, address, count, buffer)
	if err != nil {
		t.Fatalf("NewPacket(%q) error = %v", name, err)
	}
	return p
}

func assertCounters(t *testing.T, p *Packet, want Counters, connection bool) {
	t.Helper()
	if p.Counters != want {
		t.Errorf("%s counters = %+v, want %+v", p.Name, p.Counters, want)
	}
	if p.Connection != connection {
		t.Errorf("%s connection = %v, want %v", p.Name, p.Connection, connection)
	}
}

func TestPoller_RetryExhaustion(t *testing.T) {
	port := &mockPort{}
	pkt := mustPacket(t, "silent", 1, 0x03, 0, 2, make([]uint16, 2))
	timeout := 100 * time.Millisecond
	p := New(Config{Timeout: timeout, RetryCount: 3}, port, nil, []*Packet{pkt})

	now := epoch
	for attempt := 1; attempt <= 4; attempt++ {
		p.Tick(now)
		if len(port.writes) != attempt {
			t.Fatalf("attempt %d: %d frames written", attempt, len(port.writes))
		}
		now = now.Add(timeout)
		p.Tick(now)
		if !p.Busy() {
			t.Fatalf("attempt %d: timed out at the deadline, want strictly after", attempt)
		}
		now = now.Add(time.Millisecond)
		p.Tick(now)
		if p.Busy() {
			t.Fatalf("attempt %d: still waiting after the deadline", attempt)
		}
	}

	assertCounters(t, pkt, Counters{Requests: 4, FailedRequests: 4}, false)

	for i := 0; i < 10; i++ {
		now = now.Add(time.Second)
		p.Tick(now)
	}
	if len(port.writes) != 4 {
		t.Errorf("disabled packet polled again: %d frames written", len(port.writes))
	}
}

func TestPoller_LateSuccess(t *testing.T) {
	calls := 0
	port := &mockPort{respond: func(req []byte) []byte {
		calls++
		if calls == 1 {
			return nil
		}
		return withCRC(0x01, 0x03, 0x02, 0x00, 0x2A)
	}}
	buf := make([]uint16, 1)
	pkt := mustPacket(t, "late", 1, 0x03, 0, 1, buf)
	p := New(Config{Timeout: 50 * time.Millisecond, RetryCount: 2}, port, nil, []*Packet{pkt})

	now := epoch
	p.Tick(now)
	now = now.Add(51 * time.Millisecond)
	p.Tick(now)
	if pkt.Retries != 1 || !pkt.Connection {
		t.Fatalf("after timeout: retries = %d, connection = %v", pkt.Retries, pkt.Connection)
	}
	p.Tick(now)

	assertCounters(t, pkt, Counters{Requests: 2, SuccessfulRequests: 1, FailedRequests: 1}, true)
	if buf[0] != 42 {
		t.Errorf("buffer = %v, want [42]", buf)
	}
}

func TestPoller_Broadcast(t *testing.T) {
	port := &mockPort{}
	dir := &mockDirection{}
	pkt := mustPacket(t, "all", 0, 0x10, 0x10, 2, []uint16{0x0102, 0x0304})
	p := New(Config{Timeout: time.Second}, port, dir, []*Packet{pkt})

	p.Tick(epoch)

	if p.Busy() {
		t.Fatalf("broadcast waits for a response")
	}
	assertCounters(t, pkt, Counters{Requests: 1, SuccessfulRequests: 1}, true)
	want := withCRC(0x00, 0x10, 0x00, 0x10, 0x00, 0x02, 0x04, 0x01, 0x02, 0x03, 0x04)
	if len(port.writes) != 1 || !bytes.Equal(port.writes[0], want) {
		t.Errorf("written = % x, want % x", port.writes, want)
	}
	if len(dir.sets) != 2 || !dir.sets[0] || dir.sets[1] {
		t.Errorf("direction line = %v, want [true false]", dir.sets)
	}
}

func TestPoller_ReadHoldingRegisters(t *testing.T) {
	port := &mockPort{respond: func(req []byte) []byte {
		return withCRC(0x01, 0x03, 0x0A,
			0x00, 0x01, 0x00, 0x02, 0x00, 0x03, 0x00, 0x04, 0x00, 0x05)
	}}
	buf := make([]uint16, 8)
	pkt := mustPacket(t, "meter", 1, 0x03, 0, 5, buf)
	p := New(Config{Timeout: time.Second, RetryCount: 3}, port, nil, []*Packet{pkt})

	p.Tick(epoch)

	want := []uint16{1, 2, 3, 4, 5, 0, 0, 0}
	for i := range want {
		if buf[i] != want[i] {
			t.Errorf("buffer[%d] = %d, want %d", i, buf[i], want[i])
		}
	}
	assertCounters(t, pkt, Counters{Requests: 1, SuccessfulRequests: 1}, true)
	if !bytes.Equal(port.writes[0], withCRC(0x01, 0x03, 0x00, 0x00, 0x00, 0x05)) {
		t.Errorf("request = % x", port.writes[0])
	}
}

func TestPoller_SkipsDisabledPackets(t *testing.T) {
	port := &mockPort{respond: func(req []byte) []byte {
		return withCRC(req[0], 0x04, 0x02, 0x12, 0x34)
	}}
	off := mustPacket(t, "off", 1, 0x04, 0, 1, make([]uint16, 1))
	on := mustPacket(t, "on", 2, 0x04, 0, 1, make([]uint16, 1))
	off.Connection = false
	p := New(Config{Timeout: time.Second}, port, nil, []*Packet{off, on})

	now := epoch
	for i := 0; i < 3; i++ {
		p.Tick(now)
		now = now.Add(time.Millisecond)
	}

	assertCounters(t, off, Counters{}, false)
	assertCounters(t, on, Counters{Requests: 3, SuccessfulRequests: 3}, true)
	for _, w := range port.writes {
		if w[0] != 2 {
			t.Errorf("frame sent to disabled slave: % x", w)
		}
	}

	if err := p.Disable(1); err != nil {
		t.Fatalf("Disable() error = %v", err)
	}
	p.Tick(now)
	if len(port.writes) != 3 {
		t.Errorf("all packets disabled, still %d frames written", len(port.writes))
	}

	if err := p.Enable(0); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	p.Tick(now)
	if len(port.writes) != 4 || port.writes[3][0] != 1 {
		t.Errorf("re-enabled packet not polled: % x", port.writes)
	}
	if err := p.Enable(2); err == nil {
		t.Errorf("Enable(2) on a two-packet table succeeded")
	}
}

func TestPoller_Exception(t *testing.T) {
	port := &mockPort{respond: func(req []byte) []byte {
		return withCRC(0x01, 0x83, 0x02)
	}}
	pkt := mustPacket(t, "bad-address", 1, 0x03, 0x9000, 2, make([]uint16, 2))
	p := New(Config{Timeout: time.Second, RetryCount: 1}, port, nil, []*Packet{pkt})

	p.Tick(epoch)
	assertCounters(t, pkt, Counters{Requests: 1, ExceptionErrors: 1, Retries: 1}, true)
	if pkt.LastException != 2 {
		t.Errorf("last exception = %d, want 2", pkt.LastException)
	}

	p.Tick(epoch)
	assertCounters(t, pkt, Counters{Requests: 2, ExceptionErrors: 2}, false)
}

func TestPoller_FrameErrors(t *testing.T) {
	tests := []struct {
		name     string
		response []byte
	}{
		{"bad crc", []byte{0x01, 0x03, 0x02, 0x00, 0x01, 0x00, 0x00}},
		{"wrong slave", withCRC(0x02, 0x03, 0x02, 0x00, 0x01)},
		{"byte count", withCRC(0x01, 0x03, 0x04, 0x00, 0x01)},
		{"function", withCRC(0x01, 0x04, 0x02, 0x00, 0x01)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := &mockPort{respond: func(req []byte) []byte { return tt.response }}
			buf := []uint16{7}
			pkt := mustPacket(t, "meter", 1, 0x03, 0, 1, buf)
			p := New(Config{Timeout: time.Second, RetryCount: 5}, port, nil, []*Packet{pkt})

			p.Tick(epoch)

			assertCounters(t, pkt, Counters{Requests: 1, FailedRequests: 1, Retries: 1}, true)
			if buf[0] != 7 {
				t.Errorf("buffer overwritten by a bad frame: %v", buf)
			}
		})
	}
}

func TestPoller_PartialFrameAcrossTicks(t *testing.T) {
	port := &mockPort{}
	buf := make([]uint16, 2)
	pkt := mustPacket(t, "meter", 1, 0x03, 0, 2, buf)
	p := New(Config{Timeout: time.Second}, port, nil, []*Packet{pkt})
	resp := withCRC(0x01, 0x03, 0x04, 0x00, 0x0A, 0x00, 0x0B)

	now := epoch
	p.Tick(now)
	for _, b := range resp {
		if !p.Busy() {
			t.Fatalf("finished before the last byte")
		}
		port.inbox = append(port.inbox, b)
		now = now.Add(time.Millisecond)
		p.Tick(now)
	}

	assertCounters(t, pkt, Counters{Requests: 1, SuccessfulRequests: 1}, true)
	if buf[0] != 10 || buf[1] != 11 {
		t.Errorf("buffer = %v, want [10 11]", buf)
	}
}

func TestPoller_PartialFrameTimesOut(t *testing.T) {
	port := &mockPort{respond: func(req []byte) []byte {
		return []byte{0x01, 0x03, 0x04, 0x00}
	}}
	pkt := mustPacket(t, "meter", 1, 0x03, 0, 2, make([]uint16, 2))
	p := New(Config{Timeout: 10 * time.Millisecond}, port, nil, []*Packet{pkt})

	p.Tick(epoch)
	p.Tick(epoch.Add(11 * time.Millisecond))

	assertCounters(t, pkt, Counters{Requests: 1, FailedRequests: 1}, false)
}

func TestPoller_PollInterval(t *testing.T) {
	port := &mockPort{respond: func(req []byte) []byte {
		return withCRC(0x01, 0x02, 0x01, 0x05)
	}}
	buf := make([]uint16, 3)
	pkt := mustPacket(t, "inputs", 1, 0x02, 0, 3, buf)
	p := New(Config{Timeout: time.Second, PollInterval: 200 * time.Millisecond}, port, nil, []*Packet{pkt})

	p.Tick(epoch)
	p.Tick(epoch.Add(199 * time.Millisecond))
	if len(port.writes) != 1 {
		t.Fatalf("polled before the interval elapsed: %d frames", len(port.writes))
	}
	p.Tick(epoch.Add(200 * time.Millisecond))
	if len(port.writes) != 2 {
		t.Fatalf("not polled after the interval: %d frames", len(port.writes))
	}
	if buf[0] != 1 || buf[1] != 0 || buf[2] != 1 {
		t.Errorf("buffer = %v, want [1 0 1]", buf)
	}
}

func TestPoller_DirectionLineTiming(t *testing.T) {
	port := &mockPort{respond: func(req []byte) []byte {
		return withCRC(0x01, 0x0F, 0x00, 0x00, 0x00, 0x0A)
	}}
	dir := &mockDirection{}
	pkt := mustPacket(t, "relays", 1, 0x0F, 0, 10, []uint16{1, 0, 1, 1, 0, 0, 1, 1, 1, 0})
	p := New(Config{BaudRate: 9600, BitsPerChar: 11, Timeout: time.Second}, port, dir, []*Packet{pkt})

	// 11 bytes at 9600 baud take about 12.6ms, plus the 3.5 character gap.
	p.Tick(epoch)
	p.Tick(epoch.Add(10 * time.Millisecond))
	if len(dir.sets) != 1 || !dir.sets[0] {
		t.Fatalf("direction line = %v while transmitting", dir.sets)
	}
	if !bytes.Equal(port.writes[0], withCRC(0x01, 0x0F, 0x00, 0x00, 0x00, 0x0A, 0x02, 0xCD, 0x01)) {
		t.Errorf("request = % x", port.writes[0])
	}

	p.Tick(epoch.Add(20 * time.Millisecond))
	if len(dir.sets) != 2 || dir.sets[1] {
		t.Fatalf("direction line = %v after transmission", dir.sets)
	}
	assertCounters(t, pkt, Counters{Requests: 1, SuccessfulRequests: 1}, true)
}

func TestPoller_WriteError(t *testing.T) {
	port := &mockPort{writeErr: errors.New("device gone")}
	dir := &mockDirection{}
	pkt := mustPacket(t, "meter", 1, 0x03, 0, 1, make([]uint16, 1))
	p := New(Config{Timeout: time.Second, RetryCount: 0}, port, dir, []*Packet{pkt})

	p.Tick(epoch)

	assertCounters(t, pkt, Counters{Requests: 1, FailedRequests: 1}, false)
	if len(dir.sets) != 2 || dir.sets[1] {
		t.Errorf("direction line left asserted: %v", dir.sets)
	}
}

func TestPoller_EmptyTable(t *testing.T) {
	port := &mockPort{}
	p := New(Config{}, port, nil, nil)
	p.Tick(epoch)
	p.Update()
	if len(port.writes) != 0 || p.Busy() {
		t.Errorf("empty table wrote %d frames", len(port.writes))
	}
}

func TestPoller_RoundRobin(t *testing.T) {
	port := &mockPort{respond: func(req []byte) []byte {
		return withCRC(req[0], 0x03, 0x02, 0x00, req[0])
	}}
	var packets []*Packet
	for id := byte(1); id <= 3; id++ {
		packets = append(packets, mustPacket(t, "meter", id, 0x03, 0, 1, make([]uint16, 1)))
	}
	var order []int
	p := New(Config{Timeout: time.Second}, port, nil, packets)
	p.OnComplete = func(index int, pkt *Packet, outcome Outcome) {
		if outcome != OutcomeSuccess {
			t.Errorf("packet %d outcome = %v", index, outcome)
		}
		order = append(order, index)
	}

	for i := 0; i < 6; i++ {
		p.Tick(epoch.Add(time.Duration(i) * time.Millisecond))
	}

	want := []int{0, 1, 2, 0, 1, 2}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	for _, pkt := range packets {
		if pkt.Buffer[0] != uint16(pkt.SlaveID) {
			t.Errorf("slave %d buffer = %v", pkt.SlaveID, pkt.Buffer)
		}
	}
}

func TestOutcome_String(t *testing.T) {
	tests := map[Outcome]string{
		OutcomeSuccess:    "success",
		OutcomeTimeout:    "timeout",
		OutcomeFrameError: "frame error",
		OutcomeException:  "exception",
		Outcome(9):        "outcome(9)",
	}
	for o, want := range tests {
		if got := o.String(); got != want {
			t.Errorf("Outcome(%d).String() = %q, want %q", int(o), got, want)
		}
	}
}
