// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package recovery

import (
	"context"
	"maps"
	"time"
)

// RetryFunc re-issues the operation that failed. A nil return marks the
// error as resolved, anything else consumes the attempt.
type RetryFunc func(ctx context.Context, attempt int) error

// Context describes where an error happened.
type Context struct {
	CallID    string
	Component string
	Action    string
	Extra     map[string]any
	// RetryFunc is invoked for every scheduled retry attempt. When nil,
	// attempts are only announced to listeners.
	RetryFunc RetryFunc
	// NoAutoRetry records the error without scheduling retries, for
	// failures that left nothing behind to re-run.
	NoAutoRetry bool
}

// ErrorDetails is the classified record of a handled error. Values are
// never mutated after creation.
type ErrorDetails struct {
	ID               string         `json:"id"`
	Type             ErrorType      `json:"type"`
	Category         Category       `json:"category"`
	Severity         Severity       `json:"severity"`
	Strategy         Strategy       `json:"strategy"`
	Retryable        bool           `json:"retryable"`
	MaxRetries       int            `json:"max_retries"`
	RetryDelay       time.Duration  `json:"retry_delay"`
	Message          string         `json:"message"`
	UserMessage      string         `json:"user_message"`
	SuggestedActions []string       `json:"suggested_actions,omitempty"`
	CallID           string         `json:"call_id,omitempty"`
	Context          map[string]any `json:"context"`
	Timestamp        time.Time      `json:"timestamp"`
	Err              error          `json:"-"`
}

func newDetails(id string, t ErrorType, err error, ectx Context, now time.Time) *ErrorDetails {
	p := PolicyFor(t)

	bag := make(map[string]any, len(ectx.Extra)+5)
	maps.Copy(bag, ectx.Extra)
	bag["errorId"] = id
	bag["retryAttempt"] = 0
	if ectx.CallID != "" {
		bag["callId"] = ectx.CallID
	}
	if ectx.Component != "" {
		bag["component"] = ectx.Component
	}
	if ectx.Action != "" {
		bag["action"] = ectx.Action
	}

	return &ErrorDetails{
		ID:               id,
		Type:             t,
		Category:         t.Category(),
		Severity:         p.Severity,
		Strategy:         p.Strategy,
		Retryable:        p.Retryable,
		MaxRetries:       p.MaxRetries,
		RetryDelay:       p.RetryDelay,
		Message:          err.Error(),
		UserMessage:      p.UserMessage,
		SuggestedActions: p.SuggestedActions,
		CallID:           ectx.CallID,
		Context:          bag,
		Timestamp:        now,
		Err:              err,
	}
}

// withAttempt returns a copy carrying the given retry attempt in its context.
func (d *ErrorDetails) withAttempt(attempt int) *ErrorDetails {
	cp := *d
	cp.Context = maps.Clone(d.Context)
	cp.Context["retryAttempt"] = attempt
	return &cp
}

// Unwrap gives access to the original error.
func (d *ErrorDetails) Unwrap() error {
	return d.Err
}

func (d *ErrorDetails) Error() string {
	return d.Type.String() + ": " + d.Message
}
