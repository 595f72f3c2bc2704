// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"fmt"

	"github.com/mattermost/callcore/logger"
	"github.com/mattermost/callcore/service/api"
	"github.com/mattermost/callcore/service/auth"
	"github.com/mattermost/callcore/service/callconfig"
	"github.com/mattermost/callcore/service/recovery"
	"github.com/mattermost/callcore/service/signaling"
	"github.com/mattermost/callcore/service/transport"
)

type SecurityConfig struct {
	// Whether or not to enable admin API access.
	EnableAdmin bool `toml:"enable_admin"`
	// The secret key used to authenticate admin requests.
	AdminSecretKey string `toml:"admin_secret_key"`
	// Whether or not to allow clients to self-register.
	AllowSelfRegistration bool             `toml:"allow_self_registration"`
	KeyCache              auth.CacheConfig `toml:"key_cache"`
}

func (c SecurityConfig) IsValid() error {
	if err := c.KeyCache.IsValid(); err != nil {
		return fmt.Errorf("failed to validate key cache config: %w", err)
	}

	if !c.EnableAdmin {
		return nil
	}

	if c.AdminSecretKey == "" {
		return fmt.Errorf("invalid AdminSecretKey value: should not be empty")
	}

	return nil
}

type APIConfig struct {
	HTTP     api.Config     `toml:"http"`
	Security SecurityConfig `toml:"security"`
}

func (c APIConfig) IsValid() error {
	if err := c.Security.IsValid(); err != nil {
		return fmt.Errorf("failed to validate admin config: %w", err)
	}

	if err := c.HTTP.IsValid(); err != nil {
		return fmt.Errorf("failed to validate http config: %w", err)
	}

	return nil
}

// AgentConfig controls the optional in-process call agent. When enabled the
// service runs a call manager for UserID, connected to a signaling relay
// (usually its own) over a websocket.
type AgentConfig struct {
	Enable    bool                   `toml:"enable"`
	UserID    string                 `toml:"user_id"`
	UserName  string                 `toml:"user_name"`
	Signaling signaling.ClientConfig `toml:"signaling"`
	Transport transport.Config       `toml:"transport"`
}

func (c AgentConfig) IsValid() error {
	if !c.Enable {
		return nil
	}

	if c.UserID == "" {
		return fmt.Errorf("invalid UserID value: should not be empty")
	}

	// An empty URL and key make the agent use the local relay with a key
	// generated at start time.
	sigCfg := c.Signaling
	if sigCfg.URL == "" {
		sigCfg.URL = "ws://localhost/ws"
	}
	if sigCfg.AuthKey == "" {
		sigCfg.AuthKey = "generated"
	}
	if err := sigCfg.IsValid(); err != nil {
		return fmt.Errorf("failed to validate signaling config: %w", err)
	}

	if err := c.Transport.IsValid(); err != nil {
		return fmt.Errorf("failed to validate transport config: %w", err)
	}

	return nil
}

type StoreConfig struct {
	DataSource string `toml:"data_source"`
}

func (c StoreConfig) IsValid() error {
	if c.DataSource == "" {
		return fmt.Errorf("invalid DataSource value: should not be empty")
	}
	return nil
}

type Config struct {
	API       APIConfig
	Signaling signaling.RelayConfig
	Agent     AgentConfig
	Calls     callconfig.Config
	Store     StoreConfig
	Logger    logger.Config
}

func (c Config) IsValid() error {
	if err := c.API.IsValid(); err != nil {
		return err
	}

	if err := c.Signaling.IsValid(); err != nil {
		return fmt.Errorf("failed to validate signaling config: %w", err)
	}

	if err := c.Agent.IsValid(); err != nil {
		return fmt.Errorf("failed to validate agent config: %w", err)
	}

	if err := c.Calls.IsValid(); err != nil {
		return fmt.Errorf("failed to validate calls config: %w", err)
	}

	if err := c.Store.IsValid(); err != nil {
		return err
	}

	return c.Logger.IsValid()
}

// recoveryConfig derives the error handling settings from the calls config.
func (c Config) recoveryConfig() recovery.Config {
	var cfg recovery.Config
	cfg.SetDefaults()
	cfg.EnableAutoRetry = c.Calls.EnableAutoRetry
	cfg.MaxHistory = c.Calls.MaxErrorHistory
	return cfg
}

func (c *Config) SetDefaults() {
	c.API.HTTP.ListenAddress = ":8045"
	c.API.Security.KeyCache.SetDefaults()
	c.Signaling.SetDefaults()
	c.Agent.Signaling.SetDefaults()
	c.Agent.Transport.SetDefaults()
	c.Calls.SetDefaults()
	c.Store.DataSource = "/tmp/callcored_db"
	c.Logger.SetDefaults("callcored.log")
}
