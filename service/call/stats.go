// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package call

import (
	"sync"
	"time"
)

// Statistics summarizes the calls a manager handled since it was created.
type Statistics struct {
	TotalCalls      int           `json:"total_calls"`
	CompletedCalls  int           `json:"completed_calls"`
	FailedCalls     int           `json:"failed_calls"`
	RejectedCalls   int           `json:"rejected_calls"`
	AverageDuration time.Duration `json:"average_duration"`
	// SuccessRate is the share of finished calls that completed, in [0, 1].
	SuccessRate float64 `json:"success_rate"`
}

type statsTracker struct {
	mut           sync.Mutex
	stats         Statistics
	totalDuration time.Duration
}

func (t *statsTracker) recordStart() {
	t.mut.Lock()
	defer t.mut.Unlock()
	t.stats.TotalCalls++
}

func (t *statsTracker) recordEnd(state State, duration time.Duration) {
	t.mut.Lock()
	defer t.mut.Unlock()

	switch state {
	case StateEnded:
		t.stats.CompletedCalls++
		t.totalDuration += duration
		t.stats.AverageDuration = t.totalDuration / time.Duration(t.stats.CompletedCalls)
	case StateFailed:
		t.stats.FailedCalls++
	case StateRejected:
		t.stats.RejectedCalls++
	default:
		return
	}

	finished := t.stats.CompletedCalls + t.stats.FailedCalls + t.stats.RejectedCalls
	t.stats.SuccessRate = float64(t.stats.CompletedCalls) / float64(finished)
}

func (t *statsTracker) get() Statistics {
	t.mut.Lock()
	defer t.mut.Unlock()
	return t.stats
}
