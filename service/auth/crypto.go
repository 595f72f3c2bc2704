// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// hashCost is the bcrypt cost new hashes get. Stored hashes with a different
// cost are upgraded on the next successful authentication.
var hashCost = bcrypt.DefaultCost

var errKeyMismatch = errors.New("key does not match")

func hashKey(key string) (string, error) {
	if key == "" {
		return "", errors.New("invalid empty key")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), hashCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash key: %w", err)
	}
	return string(hash), nil
}

func compareKeyHash(hash, key string) error {
	switch {
	case hash == "":
		return errors.New("invalid empty hash")
	case key == "":
		return errors.New("invalid empty key")
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return errKeyMismatch
	}
	return err
}

// outdatedHash reports whether hash was generated with a cost other than
// hashCost.
func outdatedHash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	return err == nil && cost != hashCost
}
