// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/grid-x/serial"

	"github.com/ffutop/modbus-poller/internal/config"
)

const (
	// readTimeout bounds each blocking read of the pump goroutine.
	readTimeout = 50 * time.Millisecond
	// retryDelay throttles the pump after a failed read.
	retryDelay = 10 * time.Millisecond
	// maxPending caps unread input; older bytes are dropped first.
	maxPending = 4096
	// maxReadFaults is how many reads in a row may fail at once before
	// the device is considered gone.
	maxReadFaults = 20
)

// Port is a serial line whose received bytes are collected in the
// background so that ReadAvailable never blocks.
type Port struct {
	// Serial port configuration.
	serial.Config

	mu sync.Mutex
	// port is platform-dependent data structure for serial port.
	port    io.ReadWriteCloser
	open    func(*serial.Config) (io.ReadWriteCloser, error)
	pending []byte
	readErr error
	done    chan struct{}
}

// NewPort maps the line settings onto a serial port configuration.
// The device is opened on Connect or on the first Write.
func NewPort(cfg config.SerialConfig) (*Port, error) {
	dataBits, parity, stopBits, err := cfg.Frame()
	if err != nil {
		return nil, err
	}
	kind, _, err := cfg.Direction()
	if err != nil {
		return nil, err
	}

	p := &Port{open: openSerial}
	p.Config.Address = cfg.Device
	p.Config.BaudRate = cfg.BaudRate
	p.Config.DataBits = dataBits
	p.Config.StopBits = stopBits
	p.Config.Parity = parity
	p.Config.Timeout = readTimeout
	if kind == config.TxEnableRTS {
		p.Config.RS485 = serial.RS485Config{
			Enabled:            true,
			DelayRtsBeforeSend: cfg.DelayRtsBeforeSend,
			DelayRtsAfterSend:  cfg.DelayRtsAfterSend,
			RtsHighDuringSend:  true,
			RtsHighAfterSend:   false,
			RxDuringTx:         cfg.RxDuringTx,
		}
	}
	return p, nil
}

func openSerial(c *serial.Config) (io.ReadWriteCloser, error) {
	return serial.Open(c)
}

func (p *Port) Connect(ctx context.Context) (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.connect(ctx)
}

// connect connects to the serial port if it is not connected. Caller must hold the mutex.
func (p *Port) connect(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if p.port == nil {
		port, err := p.open(&p.Config)
		if err != nil {
			return fmt.Errorf("could not open %s: %w", p.Config.Address, err)
		}
		p.attach(port)
		slog.Info("serial port opened", "device", p.Config.Address, "baudRate", p.Config.BaudRate,
			"dataBits", p.Config.DataBits, "parity", p.Config.Parity, "stopBits", p.Config.StopBits,
			"rs485", p.Config.RS485.Enabled)
	}
	return nil
}

// attach starts collecting input from port. Caller must hold the mutex.
func (p *Port) attach(port io.ReadWriteCloser) {
	p.port = port
	p.pending = p.pending[:0]
	p.readErr = nil
	p.done = make(chan struct{})
	go p.pump(port, p.done)
}

func (p *Port) pump(r io.Reader, done chan struct{}) {
	buf := make([]byte, 256)
	faults := 0
	for {
		start := time.Now()
		n, err := r.Read(buf)
		if n > 0 {
			faults = 0
			p.mu.Lock()
			p.pending = append(p.pending, buf[:n]...)
			if over := len(p.pending) - maxPending; over > 0 {
				p.pending = append(p.pending[:0], p.pending[over:]...)
			}
			p.mu.Unlock()
			if err == nil {
				continue
			}
		}

		select {
		case <-done:
			return
		default:
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
			p.fail(done, err)
			return
		}
		// An idle line times out after readTimeout. A read that fails at
		// once, or returns nothing without an error, means a hung-up device.
		if time.Since(start) < readTimeout/2 {
			faults++
		} else {
			faults = 0
		}
		if faults >= maxReadFaults {
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			p.fail(done, err)
			return
		}
		time.Sleep(retryDelay)
	}
}

// fail closes the port after the reader behind done broke, so that the
// next Write opens the device again. The error is reported once by ReadAvailable.
func (p *Port) fail(done chan struct{}, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done != done || p.port == nil {
		return
	}
	slog.Warn("serial port failed, reopening on next write", "device", p.Config.Address, "err", err)
	if cerr := p.close(); cerr != nil {
		slog.Debug("serial port close failed", "device", p.Config.Address, "err", cerr)
	}
	p.readErr = err
}

// Write opens the port if needed and transmits b.
func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	if err := p.connect(context.Background()); err != nil {
		p.mu.Unlock()
		return 0, err
	}
	port := p.port
	p.mu.Unlock()

	return port.Write(b)
}

// ReadAvailable copies pending input into b without blocking.
func (p *Port) ReadAvailable(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.pending) == 0 {
		err := p.readErr
		p.readErr = nil
		return 0, err
	}
	n := copy(b, p.pending)
	p.pending = append(p.pending[:0], p.pending[n:]...)
	return n, nil
}

// Discard drops pending input.
func (p *Port) Discard() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending = p.pending[:0]
}

func (p *Port) Close() (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.close()
}

// close closes the serial port if it is connected. Caller must hold the mutex.
func (p *Port) close() (err error) {
	if p.port != nil {
		close(p.done)
		err = p.port.Close()
		p.port = nil
	}
	return
}
