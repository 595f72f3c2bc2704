// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package api

import (
	"fmt"
	"net"
)

type TLSConfig struct {
	Enable   bool
	CertFile string `toml:"cert_file"`
	CertKey  string `toml:"cert_key"`
}

// IsValid checks the settings only. The key pair itself is loaded when the
// server gets created.
func (c TLSConfig) IsValid() error {
	if !c.Enable {
		return nil
	}
	if c.CertFile == "" {
		return fmt.Errorf("invalid CertFile value: should not be empty")
	}
	if c.CertKey == "" {
		return fmt.Errorf("invalid CertKey value: should not be empty")
	}
	return nil
}

type Config struct {
	ListenAddress string `toml:"listen_address"`
	TLS           TLSConfig
	// EnableDebug exposes the profiling handlers under /debug/pprof.
	EnableDebug bool `toml:"enable_debug"`
}

func (c Config) IsValid() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("invalid ListenAddress value: should not be empty")
	}
	if _, _, err := net.SplitHostPort(c.ListenAddress); err != nil {
		return fmt.Errorf("invalid ListenAddress value: %w", err)
	}
	if err := c.TLS.IsValid(); err != nil {
		return fmt.Errorf("invalid TLS config: %w", err)
	}
	return nil
}
