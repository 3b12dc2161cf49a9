// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ffutop/modbus-poller/internal/config"
	"github.com/ffutop/modbus-poller/internal/master"
	"github.com/ffutop/modbus-poller/internal/status"
	"github.com/ffutop/modbus-poller/transport/serial"
	"github.com/spf13/pflag"
)

func main() {
	flags := config.Flags()
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Printf("Failed to parse flags: %v\n", err)
		os.Exit(2)
	}
	configFile, _ := flags.GetString("config")

	// Load Configuration
	cfg, err := config.LoadConfig(configFile, flags)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	slog.Info("Starting Modbus Poller...", "device", cfg.Serial.Device, "baudRate", cfg.Serial.BaudRate,
		"byteFormat", cfg.Serial.ByteFormat, "txEnable", cfg.Serial.TxEnable, "packets", len(cfg.Packets))

	if err := run(cfg); err != nil {
		slog.Error("Modbus Poller stopped", "err", err)
		os.Exit(1)
	}
	slog.Info("Goodbye.")
}

// run polls until a termination signal arrives. Every resource it opens is
// released before it returns.
func run(cfg *config.Config) error {
	packets, err := buildPackets(cfg.Packets)
	if err != nil {
		return fmt.Errorf("invalid packet table: %w", err)
	}
	if len(packets) == 0 {
		slog.Warn("No packets configured, the poller will stay idle")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port, err := serial.NewPort(cfg.Serial)
	if err != nil {
		return fmt.Errorf("failed to create serial port: %w", err)
	}
	defer port.Close()
	if err := port.Connect(ctx); err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}

	dir, err := serial.NewDirectionLine(cfg.Serial)
	if err != nil {
		return fmt.Errorf("failed to set up direction line: %w", err)
	}

	store, err := status.New(cfg.Status)
	if err != nil {
		return fmt.Errorf("failed to create status store: %w", err)
	}
	defer store.Close()

	poller := master.New(master.Config{
		BaudRate:     cfg.Serial.BaudRate,
		BitsPerChar:  cfg.Serial.BitsPerChar(),
		Timeout:      cfg.Master.Timeout,
		PollInterval: cfg.Master.Polling,
		RetryCount:   cfg.Master.RetryCount,
	}, port, dir, packets)
	runner := master.NewRunner(poller, cfg.Master.Tick, store)

	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	// Wait for Signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1)
	defer signal.Stop(sigChan)
	for {
		select {
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGHUP:
				n, err := runner.EnableAll(ctx)
				if err != nil {
					slog.Error("Failed to re-enable packets", "err", err)
					continue
				}
				slog.Info("Re-enabled disabled packets", "count", n)
			case syscall.SIGUSR1:
				snapshots, err := runner.Snapshot(ctx)
				if err != nil {
					slog.Error("Failed to read packet status", "err", err)
					continue
				}
				logStatus(snapshots)
			default:
				slog.Info("Shutting down...")
				cancel()
				<-done
				logStatus(poller.Snapshot())
				return nil
			}
		case err := <-done:
			return fmt.Errorf("poller stopped unexpectedly: %w", err)
		}
	}
}

func buildPackets(cfgs []config.PacketConfig) ([]*master.Packet, error) {
	packets := make([]*master.Packet, 0, len(cfgs))
	for _, pc := range cfgs {
		buffer := make([]uint16, pc.Count)
		copy(buffer, pc.Values)
		p, err := master.NewPacket(pc.Name, byte(pc.SlaveID), byte(pc.Function),
			uint16(pc.Address), uint16(pc.Count), buffer)
		if err != nil {
			return nil, err
		}
		packets = append(packets, p)
	}
	return packets, nil
}

func logStatus(snapshots []master.Snapshot) {
	for _, s := range snapshots {
		slog.Info("Packet status", "packet", s.Name, "slave", s.SlaveID, "function", s.Function,
			"requests", s.Requests, "successful", s.SuccessfulRequests, "failed", s.FailedRequests,
			"exceptions", s.ExceptionErrors, "retries", s.Retries, "connection", s.Connection)
	}
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
