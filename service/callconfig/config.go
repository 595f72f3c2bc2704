// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package callconfig

import (
	"fmt"
	"time"
)

const (
	minCallTimeoutMs = 1000
	maxParticipants  = 64
)

// Config holds the feature switches and limits consulted by the call
// manager before every operation.
type Config struct {
	EnableVoiceCall   bool `toml:"enable_voice_call"`
	EnableVideoCall   bool `toml:"enable_video_call"`
	EnableGroupCall   bool `toml:"enable_group_call"`
	EnableScreenShare bool `toml:"enable_screen_share"`
	// CallTimeoutMs is how long, in milliseconds, a call may stay in the
	// initiating or ringing state before it fails.
	CallTimeoutMs int `toml:"call_timeout"`
	// MaxConferenceParticipants bounds group calls, local user included.
	MaxConferenceParticipants int  `toml:"max_conference_participants"`
	EnableAutoRetry           bool `toml:"enable_auto_retry"`
	MaxErrorHistory           int  `toml:"max_error_history"`
}

func (c Config) IsValid() error {
	if c.CallTimeoutMs < minCallTimeoutMs {
		return fmt.Errorf("invalid CallTimeoutMs value: should be at least %d", minCallTimeoutMs)
	}

	if c.MaxConferenceParticipants < 2 || c.MaxConferenceParticipants > maxParticipants {
		return fmt.Errorf("invalid MaxConferenceParticipants value: should be in the range [2, %d]", maxParticipants)
	}

	if c.MaxErrorHistory <= 0 {
		return fmt.Errorf("invalid MaxErrorHistory value: should be greater than zero")
	}

	return nil
}

func (c *Config) SetDefaults() {
	c.EnableVoiceCall = true
	c.EnableVideoCall = true
	c.EnableGroupCall = true
	c.EnableScreenShare = true
	c.CallTimeoutMs = 30000
	c.MaxConferenceParticipants = 8
	c.EnableAutoRetry = true
	c.MaxErrorHistory = 100
}

func (c Config) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutMs) * time.Millisecond
}
