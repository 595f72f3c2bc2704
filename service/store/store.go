// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package store

import (
	"errors"
)

var (
	ErrNotFound = errors.New("error: not found")
	ErrEmptyKey = errors.New("error: empty key")
	ErrConflict = errors.New("error: key already exists")
)

// Store is a persistent key value store. It backs call history records
// and runtime feature flag overrides.
type Store interface {
	// Set creates or updates the value for key.
	Set(key, value string) error
	// Put creates the value for key, failing with ErrConflict if it exists.
	Put(key, value string) error
	Get(key string) (string, error)
	Delete(key string) error
	// Keys returns the sorted keys starting with prefix.
	Keys(prefix string) ([]string, error)
	Close() error
}

func New(dataSource string) (Store, error) {
	if dataSource == "" {
		return nil, errors.New("invalid dataSource value: should not be empty")
	}
	return newBitcaskStore(dataSource)
}
