// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package recovery

import (
	"fmt"
	"time"
)

type Option func(e *Engine) error

func WithMetrics(metrics Metrics) Option {
	return func(e *Engine) error {
		if metrics == nil {
			return fmt.Errorf("invalid metrics value: should not be nil")
		}
		e.metrics = metrics
		return nil
	}
}

// WithRules adds classification rules evaluated before the built-in ones.
func WithRules(rules ...Rule) Option {
	return func(e *Engine) error {
		for _, r := range rules {
			if !r.Type.valid() {
				return fmt.Errorf("invalid rule %q: unknown error type %d", r.Name, int(r.Type))
			}
			if r.Match == nil {
				return fmt.Errorf("invalid rule %q: Match should not be nil", r.Name)
			}
		}
		e.classifier = NewClassifier(rules...)
		return nil
	}
}

// WithRetryDelay replaces the per type retry delays with a fixed one.
func WithRetryDelay(delay time.Duration) Option {
	return func(e *Engine) error {
		if delay <= 0 {
			return fmt.Errorf("invalid delay value: should be greater than zero")
		}
		e.retryDelay = delay
		return nil
	}
}

func withClock(now func() time.Time) Option {
	return func(e *Engine) error {
		e.now = now
		return nil
	}
}
