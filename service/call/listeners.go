// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package call

import (
	"sync"

	"github.com/mattermost/callcore/service/recovery"
	"github.com/mattermost/callcore/service/transport"
)

// Listeners receive call events. Nil callbacks are skipped. Callbacks are
// given copies and may call back into the manager.
type Listeners struct {
	OnIncomingCall     func(s Session)
	OnCallStateChanged func(s Session, from State)
	OnCallStarted      func(s Session)
	OnCallEnded        func(s Session)
	// OnCallFailed carries the classified error that failed the call.
	OnCallFailed   func(s Session, d *recovery.ErrorDetails)
	OnRemoteStream func(s Session, userID string, track transport.RemoteTrack)
}

type listenerSet struct {
	mut       sync.RWMutex
	listeners map[int]Listeners
	nextID    int
}

func newListenerSet() *listenerSet {
	return &listenerSet{
		listeners: make(map[int]Listeners),
	}
}

func (ls *listenerSet) add(l Listeners) func() {
	ls.mut.Lock()
	defer ls.mut.Unlock()
	id := ls.nextID
	ls.nextID++
	ls.listeners[id] = l
	return func() {
		ls.mut.Lock()
		delete(ls.listeners, id)
		ls.mut.Unlock()
	}
}

func (ls *listenerSet) get() []Listeners {
	ls.mut.RLock()
	defer ls.mut.RUnlock()
	listeners := make([]Listeners, 0, len(ls.listeners))
	for _, l := range ls.listeners {
		listeners = append(listeners, l)
	}
	return listeners
}

func (ls *listenerSet) incomingCall(s Session) {
	for _, l := range ls.get() {
		if l.OnIncomingCall != nil {
			l.OnIncomingCall(s)
		}
	}
}

func (ls *listenerSet) stateChanged(s Session, from State) {
	for _, l := range ls.get() {
		if l.OnCallStateChanged != nil {
			l.OnCallStateChanged(s, from)
		}
	}
}

func (ls *listenerSet) callStarted(s Session) {
	for _, l := range ls.get() {
		if l.OnCallStarted != nil {
			l.OnCallStarted(s)
		}
	}
}

func (ls *listenerSet) callEnded(s Session) {
	for _, l := range ls.get() {
		if l.OnCallEnded != nil {
			l.OnCallEnded(s)
		}
	}
}

func (ls *listenerSet) callFailed(s Session, d *recovery.ErrorDetails) {
	for _, l := range ls.get() {
		if l.OnCallFailed != nil {
			l.OnCallFailed(s, d)
		}
	}
}

func (ls *listenerSet) remoteStream(s Session, userID string, track transport.RemoteTrack) {
	for _, l := range ls.get() {
		if l.OnRemoteStream != nil {
			l.OnRemoteStream(s, userID, track)
		}
	}
}
