// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ffutop/modbus-poller/modbus"
	"github.com/ffutop/modbus-poller/modbus/rtu"
	"github.com/ffutop/modbus-poller/transport"
)

const defaultBitsPerChar = 11

// Config is the runtime configuration shared by every packet.
type Config struct {
	// BaudRate and BitsPerChar size the transmit window of a frame.
	// A zero BaudRate treats transmission as instantaneous.
	BaudRate    int
	BitsPerChar int
	// Timeout bounds the wait for a response.
	Timeout time.Duration
	// PollInterval is the minimum pause between the end of one transaction
	// and the start of the next.
	PollInterval time.Duration
	// RetryCount is how many times a failed packet is repeated before it is disabled.
	RetryCount int
}

// Outcome classifies a finished transaction.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTimeout
	OutcomeFrameError
	OutcomeException
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeFrameError:
		return "frame error"
	case OutcomeException:
		return "exception"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

type state int

const (
	stateIdle state = iota
	stateSending
	stateWaiting
)

// Poller cycles through a fixed packet table, one transaction at a time.
//
// It never blocks: Tick does whatever the clock allows and returns. The
// host must call it often, at least several times per character time while
// a response is expected. Poller is not safe for concurrent use; use a
// Runner when other goroutines need access to the table.
type Poller struct {
	cfg     Config
	port    transport.Port
	dir     transport.DirectionLine
	packets []*Packet

	// OnComplete, when set, is called after every finished transaction.
	OnComplete func(index int, p *Packet, outcome Outcome)

	cursor   int
	state    state
	req      rtu.Request
	receiver rtu.Receiver
	txDone   time.Time
	deadline time.Time
	lastDone time.Time
	readBuf  []byte
}

// New creates a poller over packets. A nil or empty table, or a nil port,
// yields a poller whose Tick does nothing. dir may be nil when the line
// switches direction by itself.
func New(cfg Config, port transport.Port, dir transport.DirectionLine, packets []*Packet) *Poller {
	if dir == nil {
		dir = transport.NoDirection
	}
	if cfg.BitsPerChar <= 0 {
		cfg.BitsPerChar = defaultBitsPerChar
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}
	return &Poller{
		cfg:     cfg,
		port:    port,
		dir:     dir,
		packets: packets,
		readBuf: make([]byte, rtu.MaxSize),
	}
}

// Len returns the number of packets in the table.
func (p *Poller) Len() int {
	return len(p.packets)
}

// Packet returns the packet at index i, or nil.
func (p *Poller) Packet(i int) *Packet {
	if i < 0 || i >= len(p.packets) {
		return nil
	}
	return p.packets[i]
}

// Enable lets packet i be polled again. Its counters are left untouched.
func (p *Poller) Enable(i int) error {
	pkt := p.Packet(i)
	if pkt == nil {
		return fmt.Errorf("master: packet index %d out of range", i)
	}
	pkt.Connection = true
	return nil
}

// Disable stops polling packet i from the next scheduling decision on.
// A transaction already in flight is completed normally.
func (p *Poller) Disable(i int) error {
	pkt := p.Packet(i)
	if pkt == nil {
		return fmt.Errorf("master: packet index %d out of range", i)
	}
	pkt.Connection = false
	return nil
}

// Snapshot copies the state of every packet.
func (p *Poller) Snapshot() []Snapshot {
	out := make([]Snapshot, len(p.packets))
	for i, pkt := range p.packets {
		out[i] = pkt.Snapshot()
	}
	return out
}

// Busy reports whether a transaction is in flight.
func (p *Poller) Busy() bool {
	return p.state != stateIdle
}

// Update drives the poller with the current time.
func (p *Poller) Update() {
	p.Tick(time.Now())
}

// Tick advances the state machine as far as now allows. It starts at most
// one transaction per call.
func (p *Poller) Tick(now time.Time) {
	if len(p.packets) == 0 || p.port == nil {
		return
	}
	for {
		prev := p.state
		switch p.state {
		case stateIdle:
			p.send(now)
		case stateSending:
			p.endTransmission(now)
		case stateWaiting:
			p.receive(now)
		}
		if p.state == prev || p.state == stateIdle {
			return
		}
	}
}

// next returns the first enabled packet at or after the cursor.
func (p *Poller) next() (int, bool) {
	n := len(p.packets)
	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		if p.packets[idx].Connection {
			return idx, true
		}
	}
	return 0, false
}

func (p *Poller) send(now time.Time) {
	if !p.lastDone.IsZero() && now.Sub(p.lastDone) < p.cfg.PollInterval {
		return
	}
	idx, ok := p.next()
	if !ok {
		return
	}
	p.cursor = idx
	pkt := p.packets[idx]
	pkt.Requests++

	p.req = pkt.request()
	frame, err := p.req.Encode()
	if err != nil {
		p.finish(now, OutcomeFrameError, fmt.Errorf("failed to encode request: %w", err))
		return
	}

	p.port.Discard()
	if err := p.dir.Set(true); err != nil {
		p.finish(now, OutcomeFrameError, fmt.Errorf("failed to assert direction line: %w", err))
		return
	}
	slog.Debug("send to modbus slave", "packet", pkt.Name, "request", hex.EncodeToString(frame))
	if _, err := p.port.Write(frame); err != nil {
		if derr := p.dir.Set(false); derr != nil {
			slog.Error("Failed to release direction line", "err", derr)
		}
		p.finish(now, OutcomeFrameError, fmt.Errorf("failed to write request: %w", err))
		return
	}

	p.txDone = now.Add(p.busTime(len(frame)))
	p.state = stateSending
}

// endTransmission releases the direction line once the frame has left the line.
func (p *Poller) endTransmission(now time.Time) {
	if now.Before(p.txDone) {
		return
	}
	if err := p.dir.Set(false); err != nil {
		p.finish(now, OutcomeFrameError, fmt.Errorf("failed to release direction line: %w", err))
		return
	}
	if p.req.Broadcast() {
		p.finish(now, OutcomeSuccess, nil)
		return
	}
	p.receiver.Reset(&p.req)
	p.deadline = now.Add(p.cfg.Timeout)
	p.state = stateWaiting
}

func (p *Poller) receive(now time.Time) {
	for !p.receiver.Complete() {
		n, err := p.port.ReadAvailable(p.readBuf)
		if n > 0 {
			p.receiver.Feed(p.readBuf[:n])
		}
		if err != nil {
			slog.Debug("read from modbus slave failed", "packet", p.packets[p.cursor].Name, "err", err)
			break
		}
		if n == 0 {
			break
		}
	}

	if p.receiver.Complete() {
		p.verify(now)
		return
	}
	if now.After(p.deadline) {
		p.finish(now, OutcomeTimeout, fmt.Errorf("modbus: request timed out after %v, %d bytes received", p.cfg.Timeout, p.receiver.Len()))
	}
}

func (p *Poller) verify(now time.Time) {
	frame := p.receiver.Frame()
	slog.Debug("recv from modbus slave", "packet", p.packets[p.cursor].Name, "response", hex.EncodeToString(frame))

	resp, err := p.req.Verify(frame)
	if err != nil {
		var exc *modbus.ExceptionError
		if errors.As(err, &exc) {
			p.packets[p.cursor].LastException = exc.ExceptionCode
			p.finish(now, OutcomeException, err)
			return
		}
		p.finish(now, OutcomeFrameError, err)
		return
	}
	if resp.Values != nil {
		copy(p.packets[p.cursor].Buffer, resp.Values)
	}
	p.finish(now, OutcomeSuccess, nil)
}

// finish books the outcome on the current packet and picks what runs next.
func (p *Poller) finish(now time.Time, outcome Outcome, err error) {
	idx := p.cursor
	pkt := p.packets[idx]

	switch outcome {
	case OutcomeSuccess:
		pkt.SuccessfulRequests++
		pkt.Retries = 0
		p.advance()
	case OutcomeException:
		pkt.ExceptionErrors++
		p.retryOrDisable(pkt)
	default:
		pkt.FailedRequests++
		p.retryOrDisable(pkt)
	}

	if err != nil {
		slog.Warn("Modbus request failed", "packet", pkt.Name, "slave", pkt.SlaveID, "function", pkt.Function,
			"outcome", outcome.String(), "retries", pkt.Retries, "err", err)
	} else {
		slog.Debug("Modbus request succeeded", "packet", pkt.Name, "slave", pkt.SlaveID, "function", pkt.Function)
	}

	p.state = stateIdle
	p.lastDone = now

	if p.OnComplete != nil {
		p.OnComplete(idx, pkt, outcome)
	}
}

func (p *Poller) retryOrDisable(pkt *Packet) {
	if int(pkt.Retries) < p.cfg.RetryCount {
		pkt.Retries++
		return
	}
	pkt.Retries = 0
	pkt.Connection = false
	slog.Warn("Packet disabled after retries ran out", "packet", pkt.Name, "slave", pkt.SlaveID, "retryCount", p.cfg.RetryCount)
	p.advance()
}

func (p *Poller) advance() {
	p.cursor = (p.cursor + 1) % len(p.packets)
}

// busTime is how long chars characters occupy the line, plus the 3.5
// character silent interval that ends a frame.
func (p *Poller) busTime(chars int) time.Duration {
	if p.cfg.BaudRate <= 0 {
		return 0
	}
	charTime := time.Duration(p.cfg.BitsPerChar) * time.Second / time.Duration(p.cfg.BaudRate)
	frameDelay := 1750 * time.Microsecond
	if p.cfg.BaudRate <= 19200 {
		frameDelay = charTime * 7 / 2
	}
	return charTime*time.Duration(chars) + frameDelay
}
