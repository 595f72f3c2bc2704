// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package callconfig

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/mattermost/callcore/service/store"
)

const overridePrefix = "config/"

var ErrUnknownKey = errors.New("unknown config key")

// Provider exposes the current configuration. Implementations must be safe
// for concurrent use.
type Provider interface {
	Get() Config
}

// StaticProvider always returns the configuration it was created with.
type StaticProvider struct {
	cfg Config
}

func NewStaticProvider(cfg Config) (*StaticProvider, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &StaticProvider{cfg: cfg}, nil
}

func (p *StaticProvider) Get() Config {
	return p.cfg
}

// StoreProvider layers overrides persisted in a store on top of a base
// configuration. Overrides are keyed by the toml name of the setting.
type StoreProvider struct {
	base  Config
	store store.Store

	mut sync.RWMutex
	cfg Config
}

func NewStoreProvider(base Config, st store.Store) (*StoreProvider, error) {
	if err := base.IsValid(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	if st == nil {
		return nil, fmt.Errorf("invalid store value: should not be nil")
	}

	p := &StoreProvider{
		base:  base,
		store: st,
	}
	if err := p.Reload(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *StoreProvider) Get() Config {
	p.mut.RLock()
	defer p.mut.RUnlock()
	return p.cfg
}

// Reload re-reads every persisted override.
func (p *StoreProvider) Reload() error {
	keys, err := p.store.Keys(overridePrefix)
	if err != nil {
		return fmt.Errorf("failed to list overrides: %w", err)
	}

	cfg := p.base
	for _, key := range keys {
		val, err := p.store.Get(key)
		if err != nil {
			return fmt.Errorf("failed to get override %q: %w", key, err)
		}
		if err := apply(&cfg, strings.TrimPrefix(key, overridePrefix), val); err != nil {
			return err
		}
	}
	if err := cfg.IsValid(); err != nil {
		return fmt.Errorf("failed to validate config: %w", err)
	}

	p.mut.Lock()
	p.cfg = cfg
	p.mut.Unlock()

	return nil
}

// SetOverride validates and persists a single override. The resulting
// configuration must still be valid.
func (p *StoreProvider) SetOverride(key, value string) error {
	cfg := p.Get()
	if err := apply(&cfg, key, value); err != nil {
		return err
	}
	if err := cfg.IsValid(); err != nil {
		return fmt.Errorf("failed to validate config: %w", err)
	}

	if err := p.store.Set(overridePrefix+key, value); err != nil {
		return fmt.Errorf("failed to store override: %w", err)
	}

	p.mut.Lock()
	p.cfg = cfg
	p.mut.Unlock()

	return nil
}

// ClearOverride removes a persisted override, falling back to the base value.
func (p *StoreProvider) ClearOverride(key string) error {
	if err := apply(&Config{}, key, zeroValue(key)); err != nil {
		return err
	}
	if err := p.store.Delete(overridePrefix + key); err != nil {
		return fmt.Errorf("failed to delete override: %w", err)
	}
	return p.Reload()
}

func zeroValue(key string) string {
	switch key {
	case "call_timeout", "max_conference_participants", "max_error_history":
		return "0"
	default:
		return "false"
	}
}

func apply(cfg *Config, key, value string) error {
	var boolField *bool
	var intField *int

	switch key {
	case "enable_voice_call":
		boolField = &cfg.EnableVoiceCall
	case "enable_video_call":
		boolField = &cfg.EnableVideoCall
	case "enable_group_call":
		boolField = &cfg.EnableGroupCall
	case "enable_screen_share":
		boolField = &cfg.EnableScreenShare
	case "enable_auto_retry":
		boolField = &cfg.EnableAutoRetry
	case "call_timeout":
		intField = &cfg.CallTimeoutMs
	case "max_conference_participants":
		intField = &cfg.MaxConferenceParticipants
	case "max_error_history":
		intField = &cfg.MaxErrorHistory
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}

	if boolField != nil {
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid %s value: %w", key, err)
		}
		*boolField = v
		return nil
	}

	v, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s value: %w", key, err)
	}
	*intField = v

	return nil
}
