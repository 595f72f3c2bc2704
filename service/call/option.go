// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package call

import (
	"fmt"
	"time"
)

type Option func(m *Manager) error

func WithMetrics(metrics Metrics) Option {
	return func(m *Manager) error {
		if metrics == nil {
			return fmt.Errorf("invalid metrics value: should not be nil")
		}
		m.metrics = metrics
		return nil
	}
}

// WithHistoryStore makes the manager persist a record of every finished
// call.
func WithHistoryStore(h *HistoryStore) Option {
	return func(m *Manager) error {
		if h == nil {
			return fmt.Errorf("invalid history value: should not be nil")
		}
		m.history = h
		return nil
	}
}

// WithParkTimeout sets how long events for a call that doesn't exist yet
// are kept before being dropped.
func WithParkTimeout(d time.Duration) Option {
	return func(m *Manager) error {
		if d <= 0 {
			return fmt.Errorf("invalid park timeout value: should be greater than zero")
		}
		m.parkTimeout = d
		return nil
	}
}

func withClock(now func() time.Time) Option {
	return func(m *Manager) error {
		m.now = now
		return nil
	}
}
