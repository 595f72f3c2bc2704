// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package store

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"git.mills.io/prologic/bitcask"
)

const (
	// Call identifiers come from remote peers so keys embedding them get
	// more room than the bitcask default.
	maxKeySize   = 256
	maxValueSize = 1 << 20
)

type bitcaskStore struct {
	db *bitcask.Bitcask
	// mut serializes writers so that Put can check for existence
	// atomically.
	mut sync.Mutex
}

func newBitcaskStore(path string) (*bitcaskStore, error) {
	db, err := bitcask.Open(path,
		bitcask.WithSync(true),
		bitcask.WithMaxKeySize(maxKeySize),
		bitcask.WithMaxValueSize(maxValueSize),
		bitcask.WithDirFileModeBeforeUmask(0700),
		bitcask.WithFileFileModeBeforeUmask(0600))
	if err != nil {
		return nil, fmt.Errorf("failed to open bitcask db: %w", err)
	}
	return &bitcaskStore{db: db}, nil
}

func (s *bitcaskStore) write(key string, fn func(k []byte) error) error {
	if key == "" {
		return ErrEmptyKey
	}
	s.mut.Lock()
	defer s.mut.Unlock()
	return fn([]byte(key))
}

func (s *bitcaskStore) Set(key, value string) error {
	return s.write(key, func(k []byte) error {
		if err := s.db.Put(k, []byte(value)); err != nil {
			return fmt.Errorf("failed to set key: %w", err)
		}
		return nil
	})
}

func (s *bitcaskStore) Put(key, value string) error {
	return s.write(key, func(k []byte) error {
		if s.db.Has(k) {
			return ErrConflict
		}
		if err := s.db.Put(k, []byte(value)); err != nil {
			return fmt.Errorf("failed to put key: %w", err)
		}
		return nil
	})
}

func (s *bitcaskStore) Delete(key string) error {
	return s.write(key, func(k []byte) error {
		if err := s.db.Delete(k); err != nil {
			return fmt.Errorf("failed to delete key: %w", err)
		}
		return nil
	})
}

func (s *bitcaskStore) Get(key string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	val, err := s.db.Get([]byte(key))
	switch {
	case errors.Is(err, bitcask.ErrKeyNotFound):
		return "", ErrNotFound
	case err != nil:
		return "", fmt.Errorf("failed to get key: %w", err)
	}
	return string(val), nil
}

func (s *bitcaskStore) Keys(prefix string) ([]string, error) {
	var keys []string
	if err := s.db.Scan([]byte(prefix), func(key []byte) error {
		keys = append(keys, string(key))
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}
	slices.Sort(keys)
	return keys, nil
}

func (s *bitcaskStore) Close() error {
	s.mut.Lock()
	defer s.mut.Unlock()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}
