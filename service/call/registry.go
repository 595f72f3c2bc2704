// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package call

import (
	"fmt"
	"sync"
)

// registry maps call ids to their sessions.
type registry struct {
	mut      sync.RWMutex
	sessions map[string]*callSession
}

func newRegistry() *registry {
	return &registry{
		sessions: make(map[string]*callSession),
	}
}

func (r *registry) add(cs *callSession) error {
	r.mut.Lock()
	defer r.mut.Unlock()
	if _, ok := r.sessions[cs.CallID]; ok {
		return fmt.Errorf("session %s already exists", cs.CallID)
	}
	r.sessions[cs.CallID] = cs
	return nil
}

func (r *registry) get(callID string) *callSession {
	r.mut.RLock()
	defer r.mut.RUnlock()
	return r.sessions[callID]
}

// remove deletes the session only if it's still the one registered for
// its call id.
func (r *registry) remove(cs *callSession) {
	r.mut.Lock()
	defer r.mut.Unlock()
	if r.sessions[cs.CallID] == cs {
		delete(r.sessions, cs.CallID)
	}
}

func (r *registry) list() []*callSession {
	r.mut.RLock()
	defer r.mut.RUnlock()
	sessions := make([]*callSession, 0, len(r.sessions))
	for _, cs := range r.sessions {
		sessions = append(sessions, cs)
	}
	return sessions
}

func (r *registry) len() int {
	r.mut.RLock()
	defer r.mut.RUnlock()
	return len(r.sessions)
}

func (r *registry) clear() {
	r.mut.Lock()
	defer r.mut.Unlock()
	r.sessions = make(map[string]*callSession)
}
