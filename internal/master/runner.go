// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Publisher receives the packet table after transactions complete.
type Publisher interface {
	Publish(snapshots []Snapshot) error
}

// ErrStopped is returned by Runner commands once Run has returned.
var ErrStopped = errors.New("master: runner stopped")

type command struct {
	fn    func(p *Poller) error
	reply chan error
}

// Runner owns a Poller on a single goroutine. Other goroutines reach the
// packet table only through its commands, so transactions stay strictly
// sequential.
type Runner struct {
	poller    *Poller
	interval  time.Duration
	publisher Publisher

	cmds    chan command
	stopped chan struct{}
	dirty   bool
}

// NewRunner creates a Runner that ticks p every interval. publisher may be nil.
func NewRunner(p *Poller, interval time.Duration, publisher Publisher) *Runner {
	if interval <= 0 {
		interval = 5 * time.Millisecond
	}
	r := &Runner{
		poller:    p,
		interval:  interval,
		publisher: publisher,
		cmds:      make(chan command),
		stopped:   make(chan struct{}),
	}
	prev := p.OnComplete
	p.OnComplete = func(index int, pkt *Packet, outcome Outcome) {
		r.dirty = true
		if prev != nil {
			prev(index, pkt, outcome)
		}
	}
	return r
}

// Run ticks the poller until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.stopped)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.Debug("Poller started", "packets", r.poller.Len(), "tick", r.interval)
	r.publish()
	for {
		select {
		case <-ctx.Done():
			r.publish()
			slog.Debug("Poller stopped")
			return ctx.Err()
		case cmd := <-r.cmds:
			cmd.reply <- cmd.fn(r.poller)
		case now := <-ticker.C:
			r.poller.Tick(now)
			if r.dirty {
				r.dirty = false
				r.publish()
			}
		}
	}
}

func (r *Runner) publish() {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(r.poller.Snapshot()); err != nil {
		slog.Error("Failed to publish packet status", "err", err)
	}
}

// do runs fn on the runner goroutine.
func (r *Runner) do(ctx context.Context, fn func(p *Poller) error) error {
	cmd := command{fn: fn, reply: make(chan error, 1)}
	select {
	case r.cmds <- cmd:
	case <-r.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enable re-enables packet i.
func (r *Runner) Enable(ctx context.Context, i int) error {
	return r.do(ctx, func(p *Poller) error { return p.Enable(i) })
}

// Disable stops polling packet i.
func (r *Runner) Disable(ctx context.Context, i int) error {
	return r.do(ctx, func(p *Poller) error { return p.Disable(i) })
}

// EnableAll re-enables every disabled packet and returns how many were re-enabled.
func (r *Runner) EnableAll(ctx context.Context) (int, error) {
	var n int
	err := r.do(ctx, func(p *Poller) error {
		for i := 0; i < p.Len(); i++ {
			if !p.Packet(i).Connection {
				p.Packet(i).Connection = true
				n++
			}
		}
		return nil
	})
	return n, err
}

// Snapshot returns a copy of the packet table.
func (r *Runner) Snapshot(ctx context.Context) ([]Snapshot, error) {
	var out []Snapshot
	err := r.do(ctx, func(p *Poller) error {
		out = p.Snapshot()
		return nil
	})
	return out, err
}

// ReadBuffer copies the buffer of packet i while no transaction can touch it.
func (r *Runner) ReadBuffer(ctx context.Context, i int) ([]uint16, error) {
	var out []uint16
	err := r.do(ctx, func(p *Poller) error {
		pkt := p.Packet(i)
		if pkt == nil {
			return errors.New("master: packet index out of range")
		}
		out = append([]uint16(nil), pkt.Buffer[:pkt.Count]...)
		return nil
	})
	return out, err
}
