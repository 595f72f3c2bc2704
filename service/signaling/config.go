// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package signaling

import (
	"fmt"
	"strings"
	"time"
)

type RelayConfig struct {
	// ReadBufferSize specifies the size of the internal buffer
	// used to read from a ws connection.
	ReadBufferSize int `toml:"read_buffer_size"`
	// WriteBufferSize specifies the size of the internal buffer
	// used to write to a ws connection.
	WriteBufferSize int `toml:"write_buffer_size"`
	// PingIntervalMs specifies the interval at which the relay pings its
	// connections. Connections that don't answer within twice the interval
	// are dropped.
	PingIntervalMs int `toml:"ping_interval_ms"`
}

func (c RelayConfig) IsValid() error {
	if c.ReadBufferSize <= 0 {
		return fmt.Errorf("invalid ReadBufferSize value: should be greater than zero")
	}
	if c.WriteBufferSize <= 0 {
		return fmt.Errorf("invalid WriteBufferSize value: should be greater than zero")
	}
	if c.PingIntervalMs < 1000 {
		return fmt.Errorf("invalid PingIntervalMs value: should be at least 1000")
	}
	return nil
}

func (c *RelayConfig) SetDefaults() {
	c.ReadBufferSize = 1024
	c.WriteBufferSize = 1024
	c.PingIntervalMs = 10000
}

func (c RelayConfig) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalMs) * time.Millisecond
}

type ClientConfig struct {
	// URL specifies the relay WebSocket URL to connect to.
	// Should start with either `ws://` or `wss://`.
	URL string `toml:"url"`
	// AuthKey is the key the user was registered with.
	AuthKey string `toml:"auth_key"`
	// PingIntervalMs specifies the interval at which the client pings the
	// relay.
	PingIntervalMs int `toml:"ping_interval_ms"`
	// SendRateLimit caps the number of messages sent per second. Candidate
	// gathering can otherwise burst well above what the relay accepts.
	SendRateLimit float64 `toml:"send_rate_limit"`
	// SendBurst is the number of messages that can be sent at once.
	SendBurst int `toml:"send_burst"`
}

func (c ClientConfig) IsValid() error {
	if c.URL == "" {
		return fmt.Errorf("invalid URL value: should not be empty")
	}

	if !strings.HasPrefix(c.URL, "ws://") && !strings.HasPrefix(c.URL, "wss://") {
		return fmt.Errorf(`invalid URL value: should start with "ws://" or "wss://"`)
	}

	if c.AuthKey == "" {
		return fmt.Errorf("invalid AuthKey value: should not be empty")
	}

	if c.PingIntervalMs < 1000 {
		return fmt.Errorf("invalid PingIntervalMs value: should be at least 1000")
	}

	if c.SendRateLimit <= 0 {
		return fmt.Errorf("invalid SendRateLimit value: should be greater than zero")
	}

	if c.SendBurst <= 0 {
		return fmt.Errorf("invalid SendBurst value: should be greater than zero")
	}

	return nil
}

func (c *ClientConfig) SetDefaults() {
	c.PingIntervalMs = 10000
	c.SendRateLimit = 50
	c.SendBurst = 20
}

func (c ClientConfig) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalMs) * time.Millisecond
}
