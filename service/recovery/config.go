// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package recovery

import (
	"fmt"
)

type Config struct {
	// EnableAutoRetry controls whether retryable errors get retries scheduled.
	EnableAutoRetry bool `toml:"enable_auto_retry"`
	// MaxHistory is the number of errors kept before the oldest get evicted.
	MaxHistory int `toml:"max_history"`
	// MaxRecentErrors caps the recent errors list returned in Stats.
	MaxRecentErrors int `toml:"max_recent_errors"`
}

func (c Config) IsValid() error {
	if c.MaxHistory <= 0 {
		return fmt.Errorf("invalid MaxHistory value: should be greater than zero")
	}
	if c.MaxRecentErrors <= 0 {
		return fmt.Errorf("invalid MaxRecentErrors value: should be greater than zero")
	}
	return nil
}

func (c *Config) SetDefaults() {
	c.EnableAutoRetry = true
	c.MaxHistory = 100
	c.MaxRecentErrors = 10
}
