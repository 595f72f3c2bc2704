// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package task provides cancellable delayed tasks. Every scheduled task ends
// in exactly one of two ways: it runs once, or it is cancelled and never runs.
package task

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	statePending int32 = iota
	stateFired
	stateCancelled
)

// Handle references a single scheduled task.
type Handle struct {
	name  string
	state int32
	timer *time.Timer
	s     *Scheduler
}

// Name returns the label the task was scheduled with.
func (h *Handle) Name() string {
	return h.name
}

// Cancel prevents the task from running. It returns true if the task was
// still pending. Calling it after the task fired, or more than once, is a
// no-op.
func (h *Handle) Cancel() bool {
	if h == nil {
		return false
	}
	if !atomic.CompareAndSwapInt32(&h.state, statePending, stateCancelled) {
		return false
	}
	if h.timer != nil {
		h.timer.Stop()
	}
	h.s.remove(h)
	return true
}

// Pending reports whether the task has neither run nor been cancelled.
func (h *Handle) Pending() bool {
	return h != nil && atomic.LoadInt32(&h.state) == statePending
}

// Scheduler tracks pending tasks so they can be cancelled as a whole.
type Scheduler struct {
	mut     sync.Mutex
	handles map[*Handle]struct{}
	stopped bool
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		handles: make(map[*Handle]struct{}),
	}
}

// Schedule runs fn after delay on its own goroutine unless the returned
// handle gets cancelled first. Scheduling on a stopped scheduler returns an
// already cancelled handle.
func (s *Scheduler) Schedule(name string, delay time.Duration, fn func()) *Handle {
	h := &Handle{
		name: name,
		s:    s,
	}

	s.mut.Lock()
	defer s.mut.Unlock()

	if s.stopped {
		h.state = stateCancelled
		return h
	}

	s.handles[h] = struct{}{}
	h.timer = time.AfterFunc(delay, func() {
		if !atomic.CompareAndSwapInt32(&h.state, statePending, stateFired) {
			return
		}
		s.remove(h)
		fn()
	})

	return h
}

// Pending returns the number of tasks waiting to run.
func (s *Scheduler) Pending() int {
	s.mut.Lock()
	defer s.mut.Unlock()
	return len(s.handles)
}

// Stop cancels every pending task. Further calls to Schedule return
// cancelled handles until Reset is called.
func (s *Scheduler) Stop() {
	s.mut.Lock()
	s.stopped = true
	handles := make([]*Handle, 0, len(s.handles))
	for h := range s.handles {
		handles = append(handles, h)
	}
	s.mut.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
}

// Reset makes a stopped scheduler accept new tasks again.
func (s *Scheduler) Reset() {
	s.mut.Lock()
	s.stopped = false
	s.mut.Unlock()
}

func (s *Scheduler) remove(h *Handle) {
	s.mut.Lock()
	delete(s.handles, h)
	s.mut.Unlock()
}
