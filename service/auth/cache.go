// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"sync"
	"time"
)

type CacheConfig struct {
	ExpirationMinutes int `toml:"expiration_minutes"`
}

func (c CacheConfig) IsValid() error {
	if c.ExpirationMinutes <= 0 {
		return errors.New("invalid ExpirationMinutes value: should be a positive number")
	}
	return nil
}

func (c *CacheConfig) SetDefaults() {
	c.ExpirationMinutes = 60
}

type cachedKey struct {
	digest         [sha256.Size]byte
	expirationDate time.Time
}

// keyCache remembers recently verified keys so that reconnecting users don't
// pay for a bcrypt comparison every time. Only key digests are kept.
type keyCache struct {
	cfg  CacheConfig
	keys map[string]cachedKey
	mut  sync.RWMutex
	now  func() time.Time
}

func newKeyCache(cfg CacheConfig) (*keyCache, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, err
	}
	return &keyCache{
		cfg:  cfg,
		keys: make(map[string]cachedKey),
		now:  time.Now,
	}, nil
}

// verify returns whether key was recently verified for userID.
func (c *keyCache) verify(userID, key string) bool {
	c.mut.RLock()
	entry, ok := c.keys[userID]
	c.mut.RUnlock()
	if !ok {
		return false
	}

	if c.now().After(entry.expirationDate) {
		c.delete(userID)
		return false
	}

	digest := sha256.Sum256([]byte(key))
	return subtle.ConstantTimeCompare(digest[:], entry.digest[:]) == 1
}

func (c *keyCache) put(userID, key string) error {
	if userID == "" {
		return errors.New("can not cache: invalid user id")
	}
	if key == "" {
		return errors.New("can not cache: invalid key")
	}

	c.mut.Lock()
	defer c.mut.Unlock()
	c.keys[userID] = cachedKey{
		digest:         sha256.Sum256([]byte(key)),
		expirationDate: c.now().Add(time.Duration(c.cfg.ExpirationMinutes) * time.Minute),
	}

	return nil
}

func (c *keyCache) delete(userID string) {
	c.mut.Lock()
	defer c.mut.Unlock()
	delete(c.keys, userID)
}
