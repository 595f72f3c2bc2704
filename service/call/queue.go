// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package call

import (
	"sync"
)

// gate tracks the asynchronous work running on behalf of a manager so that
// it can be shut off and waited for.
type gate struct {
	mut  sync.RWMutex
	open bool
	wg   sync.WaitGroup
}

func (g *gate) enter() bool {
	g.mut.RLock()
	defer g.mut.RUnlock()
	if !g.open {
		return false
	}
	g.wg.Add(1)
	return true
}

func (g *gate) leave() {
	g.wg.Done()
}

func (g *gate) openUp() {
	g.mut.Lock()
	g.open = true
	g.mut.Unlock()
}

// shut rejects any further work and waits for the running one to finish.
func (g *gate) shut() {
	g.mut.Lock()
	g.open = false
	g.mut.Unlock()
	g.wg.Wait()
}

// eventQueue runs the functions pushed to it one at a time, in order.
type eventQueue struct {
	mut    sync.Mutex
	ch     chan func()
	closed bool
}

func newEventQueue(size int, wg *sync.WaitGroup) *eventQueue {
	q := &eventQueue{
		ch: make(chan func(), size),
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for fn := range q.ch {
			fn()
		}
	}()
	return q
}

// push returns false if the queue is closed or full.
func (q *eventQueue) push(fn func()) bool {
	q.mut.Lock()
	defer q.mut.Unlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- fn:
		return true
	default:
		return false
	}
}

// close lets the queued functions run and stops the worker afterwards. It
// doesn't wait, so it's safe to call from a queued function.
func (q *eventQueue) close() {
	q.mut.Lock()
	defer q.mut.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
