// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package call

import (
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/mattermost/callcore/service/task"
	"github.com/mattermost/callcore/service/transport"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

type peer struct {
	userID string
	pc     transport.PeerConnection
	// candidates received before the remote description was set.
	candidates []transport.ICECandidate
	answered   bool
}

// pendingFailure is a failure that is being retried. The session keeps its
// state until the retry succeeds or recoverBy passes.
type pendingFailure struct {
	remoteUserID string
	recoverBy    time.Time
	handle       *task.Handle
}

type callSession struct {
	mut sync.Mutex
	Session

	log          mlog.LoggerIFace
	localID      string
	localStream  *transport.Stream
	screenStream *transport.Stream
	peers        map[string]*peer
	timeout      *task.Handle
	deadline     time.Time
	pending      map[string]*pendingFailure
	// accepting is set while media and the peer connection are acquired for
	// an incoming call, without holding mut.
	accepting bool
}

func newCallSession(s Session, local Participant, log mlog.LoggerIFace) *callSession {
	if s.Participants == nil {
		s.Participants = make(map[string]Participant)
	}
	local.IsLocal = true
	s.Participants[local.UserID] = local
	return &callSession{
		Session: s,
		log:     log,
		localID: local.UserID,
		peers:   make(map[string]*peer),
		pending: make(map[string]*pendingFailure),
	}
}

// snapshot must be called with cs.mut held.
func (cs *callSession) snapshot() Session {
	s := cs.Session
	s.Participants = maps.Clone(cs.Participants)
	return s
}

// setState must be called with cs.mut held. Leaving the states awaiting an
// answer cancels the establishment timeout.
func (cs *callSession) setState(to State, now time.Time) (State, error) {
	from := cs.State
	if !canTransition(from, to) {
		return from, fmt.Errorf("%w: cannot go from %s to %s", ErrInvalidCallState, from, to)
	}

	cs.State = to
	if !to.awaitingAnswer() {
		cs.timeout.Cancel()
	}
	if to.IsTerminal() {
		cs.EndTime = now
		cs.Duration = now.Sub(cs.StartTime)
	}

	return from, nil
}

// updateParticipant must be called with cs.mut held.
func (cs *callSession) updateParticipant(userID string, fn func(p *Participant)) bool {
	p, ok := cs.Participants[userID]
	if !ok {
		return false
	}
	fn(&p)
	cs.Participants[userID] = p
	return true
}

// updateLocal must be called with cs.mut held.
func (cs *callSession) updateLocal(fn func(p *Participant)) {
	cs.updateParticipant(cs.localID, fn)
}

// remotes must be called with cs.mut held.
func (cs *callSession) remotes() []string {
	return cs.Session.RemoteParticipants()
}

// removeRemote closes the connection to a remote participant and drops it
// from the session. It must be called with cs.mut held.
func (cs *callSession) removeRemote(userID string) {
	if p := cs.peers[userID]; p != nil {
		if err := p.pc.Close(); err != nil {
			cs.log.Warn("failed to close peer connection", mlog.String("callID", cs.CallID), mlog.String("remoteUserID", userID), mlog.Err(err))
		}
		delete(cs.peers, userID)
	}
	delete(cs.Participants, userID)
}

// remoteCount must be called with cs.mut held.
func (cs *callSession) remoteCount() int {
	return len(cs.Participants) - 1
}

// resolvePending drops the pending failures tied to a remote participant
// and returns their ids. It must be called with cs.mut held.
func (cs *callSession) resolvePending(remoteUserID string) []string {
	var ids []string
	for id, pf := range cs.pending {
		if pf.remoteUserID != remoteUserID {
			continue
		}
		pf.handle.Cancel()
		delete(cs.pending, id)
		ids = append(ids, id)
	}
	return ids
}

// release frees every resource held by the session. It must be called with
// cs.mut held.
func (cs *callSession) release() {
	cs.timeout.Cancel()
	for id, pf := range cs.pending {
		pf.handle.Cancel()
		delete(cs.pending, id)
	}

	for id, p := range cs.peers {
		if err := p.pc.Close(); err != nil {
			cs.log.Warn("failed to close peer connection", mlog.String("callID", cs.CallID), mlog.String("remoteUserID", id), mlog.Err(err))
		}
		delete(cs.peers, id)
	}

	if cs.screenStream != nil {
		cs.screenStream.Stop()
		cs.screenStream = nil
	}
	if cs.localStream != nil {
		cs.localStream.Stop()
		cs.localStream = nil
	}
}

// negotiated returns the remote participants whose connection already went
// through an offer/answer exchange. It must be called with cs.mut held.
func (cs *callSession) negotiated() []string {
	var ids []string
	for id, p := range cs.peers {
		if p.pc.HasRemoteDescription() {
			ids = append(ids, id)
		}
	}
	return ids
}
