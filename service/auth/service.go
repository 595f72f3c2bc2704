// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package auth manages the credentials signaling users connect with.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattermost/callcore/service/random"
	"github.com/mattermost/callcore/service/store"
)

const (
	KeyLen    = 32
	keyPrefix = "user/"
)

type Service struct {
	store store.Store
	cache *keyCache
}

func NewService(store store.Store, cfg CacheConfig) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("invalid store")
	}

	cache, err := newKeyCache(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	return &Service{
		store: store,
		cache: cache,
	}, nil
}

func (s *Service) Authenticate(userID, authKey string) error {
	if s.cache.verify(userID, authKey) {
		return nil
	}

	hash, err := s.store.Get(keyPrefix + userID)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	if err := compareKeyHash(hash, authKey); err != nil {
		return fmt.Errorf("authentication failed")
	}

	if outdatedHash(hash) {
		// The stored hash keeps working if the upgrade fails.
		if newHash, err := hashKey(authKey); err == nil {
			_ = s.store.Set(keyPrefix+userID, newHash)
		}
	}

	if err := s.cache.put(userID, authKey); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	return nil
}

// Register creates credentials for userID and returns the generated key.
// The key is only ever returned here.
func (s *Service) Register(userID string) (string, error) {
	if !isValidUserName(userID) {
		return "", fmt.Errorf("registration failed: invalid user id")
	}

	authKey, err := random.NewSecureString(KeyLen)
	if err != nil {
		return "", fmt.Errorf("registration failed: %w", err)
	}

	hash, err := hashKey(authKey)
	if err != nil {
		return "", fmt.Errorf("registration failed: %w", err)
	}

	if err := s.store.Put(keyPrefix+userID, hash); errors.Is(err, store.ErrConflict) {
		return "", fmt.Errorf("registration failed: already registered")
	} else if err != nil {
		return "", fmt.Errorf("registration failed: %w", err)
	}

	return authKey, nil
}

func (s *Service) Unregister(userID string) error {
	if _, err := s.store.Get(keyPrefix + userID); err != nil {
		return fmt.Errorf("unregister failed: %w", err)
	}

	if err := s.store.Delete(keyPrefix + userID); err != nil {
		return fmt.Errorf("unregister failed: %w", err)
	}

	s.cache.delete(userID)

	return nil
}

// Users returns the ids of all registered users.
func (s *Service) Users() ([]string, error) {
	keys, err := s.store.Keys(keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	users := make([]string, 0, len(keys))
	for _, k := range keys {
		users = append(users, strings.TrimPrefix(k, keyPrefix))
	}

	return users, nil
}

func isValidUserName(userID string) bool {
	if userID == "" || len(userID) > 64 {
		return false
	}
	for _, r := range userID {
		if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}
