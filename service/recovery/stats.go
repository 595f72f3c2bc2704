// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package recovery

import (
	"math"
	"time"
)

// Stats is a point in time summary of the handled errors.
type Stats struct {
	TotalErrors           int               `json:"total_errors"`
	ErrorsByType          map[ErrorType]int `json:"errors_by_type"`
	ErrorsBySeverity      map[Severity]int  `json:"errors_by_severity"`
	RecentErrors          []*ErrorDetails   `json:"recent_errors"`
	ResolvedErrors        int               `json:"resolved_errors"`
	RecoveryFailures      int               `json:"recovery_failures"`
	PendingRetries        int               `json:"pending_retries"`
	AverageResolutionTime time.Duration     `json:"average_resolution_time"`
}

type counters struct {
	total            int
	byType           map[ErrorType]int
	bySeverity       map[Severity]int
	resolved         int
	recoveryFailures int
	avgResolution    time.Duration
}

func newCounters() counters {
	return counters{
		byType:     make(map[ErrorType]int),
		bySeverity: make(map[Severity]int),
	}
}

func (c *counters) record(d *ErrorDetails) {
	c.total++
	c.byType[d.Type]++
	c.bySeverity[d.Severity]++
}

func (c *counters) resolve(latency time.Duration) {
	c.resolved++
	if c.resolved == 1 {
		c.avgResolution = latency
		return
	}
	c.avgResolution = time.Duration(math.Round(resolutionAlpha*float64(latency) + (1-resolutionAlpha)*float64(c.avgResolution)))
}

// Stats returns a copy of the current statistics. RecentErrors holds the
// newest errors first.
func (e *Engine) Stats() Stats {
	e.mut.Lock()
	defer e.mut.Unlock()

	st := Stats{
		TotalErrors:           e.counters.total,
		ErrorsByType:          make(map[ErrorType]int, len(e.counters.byType)),
		ErrorsBySeverity:      make(map[Severity]int, len(e.counters.bySeverity)),
		ResolvedErrors:        e.counters.resolved,
		RecoveryFailures:      e.counters.recoveryFailures,
		PendingRetries:        len(e.pending),
		AverageResolutionTime: e.counters.avgResolution,
	}
	for k, v := range e.counters.byType {
		st.ErrorsByType[k] = v
	}
	for k, v := range e.counters.bySeverity {
		st.ErrorsBySeverity[k] = v
	}

	n := min(len(e.history), e.cfg.MaxRecentErrors)
	st.RecentErrors = make([]*ErrorDetails, 0, n)
	for i := len(e.history) - 1; i >= len(e.history)-n; i-- {
		st.RecentErrors = append(st.RecentErrors, e.history[i])
	}

	return st
}
