// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config defines the global configuration structure
type Config struct {
	Log     LogConfig      `mapstructure:"log"`
	Serial  SerialConfig   `mapstructure:"serial"`
	Master  MasterConfig   `mapstructure:"master"`
	Status  StatusConfig   `mapstructure:"status"`
	Packets []PacketConfig `mapstructure:"packets"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path
}

// SerialConfig defines RTU line settings
type SerialConfig struct {
	Device     string `mapstructure:"device"`
	BaudRate   int    `mapstructure:"baud_rate"`
	ByteFormat string `mapstructure:"byte_format"` // data bits, parity, stop bits, e.g. "8N1", "8E1"
	// TxEnable identifies the direction-control output: "none", "rts" or "gpio:<n>".
	TxEnable string `mapstructure:"tx_enable"`

	// RS485 specific, used when TxEnable is "rts"
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// MasterConfig defines polling behaviour shared by every packet
type MasterConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`     // response timeout
	Polling    time.Duration `mapstructure:"polling"`     // minimum pause between requests
	RetryCount int           `mapstructure:"retry_count"` // retries before a packet is disabled
	Tick       time.Duration `mapstructure:"tick"`        // how often the poller is driven
}

// StatusConfig defines where packet counters are published
type StatusConfig struct {
	Type string `mapstructure:"type"` // "memory", "file", "mmap", "sqlite"
	Path string `mapstructure:"path"` // File path for "file/mmap/sqlite" type
}

// PacketConfig defines one polled transaction
type PacketConfig struct {
	Name     string   `mapstructure:"name"`
	SlaveID  int      `mapstructure:"slave_id"`
	Function int      `mapstructure:"function"`
	Address  int      `mapstructure:"address"`
	Count    int      `mapstructure:"count"`
	Values   []uint16 `mapstructure:"values"` // initial buffer content for write functions
}

// TxEnable kinds
const (
	TxEnableNone = "none"
	TxEnableRTS  = "rts"
	TxEnableGPIO = "gpio"
)

// Flags returns the command line flags understood by LoadConfig.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("modbus-poller", pflag.ContinueOnError)
	fs.StringP("config", "c", "", "Configuration file path.")
	fs.StringP("serial.device", "p", "", "Serial port device name.")
	fs.IntP("serial.baud_rate", "s", 0, "Serial port speed.")
	fs.StringP("serial.byte_format", "f", "", "Byte format, e.g. 8N1, 8E1, 8N2.")
	fs.StringP("serial.tx_enable", "t", "", "Direction control output: none, rts or gpio:<n>.")
	fs.DurationP("master.timeout", "W", 0, "Response wait time.")
	fs.DurationP("master.polling", "R", 0, "Pause between requests.")
	fs.IntP("master.retry_count", "N", 0, "Retries before a packet is disabled.")
	fs.StringP("log.level", "v", "", "Log verbosity level (debug, info, warn, error).")
	fs.StringP("log.file", "L", "", "Log file name ('-' for logging to STDOUT only).")
	return fs
}

// LoadConfig loads configuration from file, letting flags that were set
// on the command line override it. flags may be nil.
func LoadConfig(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/modbus-poller/")
		v.AddConfigPath("$HOME/.modbus-poller")
		v.AddConfigPath(".")
	}

	// Set defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("serial.baud_rate", 9600)
	v.SetDefault("serial.byte_format", "8N1")
	v.SetDefault("serial.tx_enable", TxEnableNone)
	v.SetDefault("master.timeout", time.Second)
	v.SetDefault("master.polling", 200*time.Millisecond)
	v.SetDefault("master.retry_count", 10)
	v.SetDefault("master.tick", 5*time.Millisecond)
	v.SetDefault("status.type", "memory")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		return nil, fmt.Errorf("failed to found config file: %w", err)
	}

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if f.Name == "config" || !f.Changed {
				return
			}
			if err := v.BindPFlag(f.Name, f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("failed to bind pflags: %w", bindErr)
		}
	}

	// YAML reads an unquoted 8E1 as the number 8e1 (80).
	if raw := v.Get("serial.byte_format"); raw != nil {
		if _, ok := raw.(string); !ok {
			return nil, fmt.Errorf("serial.byte_format %v is not a string, quote it in the config file (e.g. \"8E1\")", raw)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	fixup(&config)
	return &config, nil
}

func fixup(c *Config) {
	c.Serial.ByteFormat = strings.ToUpper(strings.TrimSpace(c.Serial.ByteFormat))
	c.Serial.TxEnable = strings.ToLower(strings.TrimSpace(c.Serial.TxEnable))
	if c.Serial.ByteFormat == "" {
		c.Serial.ByteFormat = "8N1"
	}
	if c.Serial.TxEnable == "" {
		c.Serial.TxEnable = TxEnableNone
	}
	if c.Master.Timeout == 0 {
		c.Master.Timeout = time.Second
	}
	if c.Master.Tick == 0 {
		c.Master.Tick = 5 * time.Millisecond
	}
	if c.Status.Type == "" {
		c.Status.Type = "memory"
	}
	for i := range c.Packets {
		if c.Packets[i].Name == "" {
			c.Packets[i].Name = fmt.Sprintf("packet%d", i+1)
		}
	}
}

// Frame splits ByteFormat into data bits, parity ("N", "E", "O") and stop bits.
func (s SerialConfig) Frame() (dataBits int, parity string, stopBits int, err error) {
	f := strings.ToUpper(s.ByteFormat)
	if len(f) != 3 {
		err = fmt.Errorf("invalid byte format %q", s.ByteFormat)
		return
	}
	if dataBits, err = strconv.Atoi(f[0:1]); err != nil || dataBits < 5 || dataBits > 8 {
		err = fmt.Errorf("invalid data bits in byte format %q", s.ByteFormat)
		return
	}
	parity = f[1:2]
	if parity != "N" && parity != "E" && parity != "O" {
		err = fmt.Errorf("invalid parity in byte format %q", s.ByteFormat)
		return
	}
	if stopBits, err = strconv.Atoi(f[2:3]); err != nil || stopBits < 1 || stopBits > 2 {
		err = fmt.Errorf("invalid stop bits in byte format %q", s.ByteFormat)
		return
	}
	return
}

// BitsPerChar is the number of bits one character occupies on the line.
func (s SerialConfig) BitsPerChar() int {
	dataBits, parity, stopBits, err := s.Frame()
	if err != nil {
		return 11
	}
	bits := 1 + dataBits + stopBits
	if parity != "N" {
		bits++
	}
	return bits
}

// Direction parses TxEnable into its kind and, for "gpio", the pin number.
func (s SerialConfig) Direction() (kind string, pin int, err error) {
	id := strings.ToLower(strings.TrimSpace(s.TxEnable))
	switch {
	case id == "" || id == TxEnableNone:
		return TxEnableNone, 0, nil
	case id == TxEnableRTS:
		return TxEnableRTS, 0, nil
	case strings.HasPrefix(id, TxEnableGPIO+":"):
		pin, err = strconv.Atoi(strings.TrimPrefix(id, TxEnableGPIO+":"))
		if err != nil || pin < 0 {
			return "", 0, fmt.Errorf("invalid gpio pin in tx_enable %q", s.TxEnable)
		}
		return TxEnableGPIO, pin, nil
	}
	return "", 0, fmt.Errorf("unknown tx_enable %q", s.TxEnable)
}
