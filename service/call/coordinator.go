// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package call

import (
	"context"
	"sync"

	"github.com/mattermost/callcore/service/recovery"
	"github.com/mattermost/callcore/service/signaling"
	"github.com/mattermost/callcore/service/task"
	"github.com/mattermost/callcore/service/transport"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

const (
	queueSize       = 256
	maxParkedEvents = 64
)

type parkedEvents struct {
	fns    []func()
	expiry *task.Handle
}

// coordinator feeds signaling messages and transport events into the
// sessions they belong to. Events for a call are handled in arrival order on
// the call's own queue.
type coordinator struct {
	m   *Manager
	log mlog.LoggerIFace

	mut     sync.Mutex
	queues  map[string]*eventQueue
	parked  map[string]*parkedEvents
	stopped bool
	doneCh  chan struct{}

	workersWg sync.WaitGroup
	loopsWg   sync.WaitGroup
}

func newCoordinator(m *Manager) *coordinator {
	return &coordinator{
		m:       m,
		log:     m.log,
		queues:  make(map[string]*eventQueue),
		parked:  make(map[string]*parkedEvents),
		stopped: true,
	}
}

func (c *coordinator) start(msgCh <-chan signaling.Message, eventCh <-chan transport.Event) {
	c.mut.Lock()
	c.stopped = false
	c.doneCh = make(chan struct{})
	doneCh := c.doneCh
	c.mut.Unlock()

	c.loopsWg.Add(2)
	go c.msgLoop(msgCh, doneCh)
	go c.eventLoop(eventCh, doneCh)
}

// stop closes every queue and waits for the queued work and the dispatch
// loops to exit.
func (c *coordinator) stop() {
	c.mut.Lock()
	if c.stopped {
		c.mut.Unlock()
		return
	}
	c.stopped = true
	close(c.doneCh)
	for callID, q := range c.queues {
		q.close()
		delete(c.queues, callID)
	}
	for callID, p := range c.parked {
		p.expiry.Cancel()
		delete(c.parked, callID)
	}
	c.mut.Unlock()

	c.loopsWg.Wait()
	c.workersWg.Wait()
}

// open creates the queue for a call and hands it any event parked while the
// call was unknown.
func (c *coordinator) open(callID string) {
	c.mut.Lock()
	defer c.mut.Unlock()

	if c.stopped {
		return
	}

	q := newEventQueue(queueSize, &c.workersWg)
	c.queues[callID] = q

	if p := c.parked[callID]; p != nil {
		p.expiry.Cancel()
		delete(c.parked, callID)
		for _, fn := range p.fns {
			if !q.push(fn) {
				c.log.Warn("dropping parked event, queue is full", mlog.String("callID", callID))
			}
		}
	}
}

func (c *coordinator) close(callID string) {
	c.mut.Lock()
	defer c.mut.Unlock()
	if q := c.queues[callID]; q != nil {
		q.close()
		delete(c.queues, callID)
	}
}

// push queues fn on the call queue. It returns false if the call has none.
func (c *coordinator) push(callID string, fn func()) bool {
	c.mut.Lock()
	defer c.mut.Unlock()
	q := c.queues[callID]
	if q == nil {
		return false
	}
	if !q.push(fn) {
		c.log.Warn("dropping event, queue is full", mlog.String("callID", callID))
		return false
	}
	return true
}

// dispatch queues fn on the call queue, parking it if the call doesn't
// exist yet.
func (c *coordinator) dispatch(callID string, fn func()) {
	c.mut.Lock()
	defer c.mut.Unlock()

	if c.stopped {
		return
	}

	if q := c.queues[callID]; q != nil {
		if !q.push(fn) {
			c.log.Warn("dropping event, queue is full", mlog.String("callID", callID))
		}
		return
	}

	p := c.parked[callID]
	if p == nil {
		p = &parkedEvents{}
		p.expiry = c.m.scheduler.Schedule("park:"+callID, c.m.parkTimeout, func() {
			c.dropParked(callID, p)
		})
		c.parked[callID] = p
	}
	if len(p.fns) >= maxParkedEvents {
		c.log.Debug("too many parked events, dropping", mlog.String("callID", callID))
		return
	}
	p.fns = append(p.fns, fn)
}

func (c *coordinator) dropParked(callID string, p *parkedEvents) {
	c.mut.Lock()
	defer c.mut.Unlock()
	if c.parked[callID] != p {
		return
	}
	delete(c.parked, callID)
	c.log.Debug("dropped events for unknown call", mlog.String("callID", callID), mlog.Int("count", len(p.fns)))
}

func (c *coordinator) parkedCount(callID string) int {
	c.mut.Lock()
	defer c.mut.Unlock()
	if p := c.parked[callID]; p != nil {
		return len(p.fns)
	}
	return 0
}

func (c *coordinator) msgLoop(msgCh <-chan signaling.Message, doneCh <-chan struct{}) {
	defer c.loopsWg.Done()
	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				c.log.Debug("signaling channel closed, exiting loop")
				return
			}
			c.m.metrics.IncSignalingMessages(string(msg.Type), "in")
			c.handleMessage(msg)
		case <-doneCh:
			return
		}
	}
}

func (c *coordinator) eventLoop(eventCh <-chan transport.Event, doneCh <-chan struct{}) {
	defer c.loopsWg.Done()
	for {
		select {
		case ev, ok := <-eventCh:
			if !ok {
				c.log.Debug("transport events channel closed, exiting loop")
				return
			}
			c.dispatch(ev.CallID, c.m.gated(func() {
				c.handleEvent(ev)
			}))
		case <-doneCh:
			return
		}
	}
}

func (c *coordinator) handleMessage(msg signaling.Message) {
	if msg.From == "" {
		c.log.Debug("dropping message with no sender", mlog.String("type", string(msg.Type)))
		return
	}

	switch msg.Type {
	case signaling.CallRequestMessage, signaling.GroupCallRequestMessage:
		c.m.gated(func() {
			c.onCallRequest(msg)
		})()
	default:
		c.dispatch(msg.CallID, c.m.gated(func() {
			c.onMessage(msg)
		}))
	}
}

func (c *coordinator) onCallRequest(msg signaling.Message) {
	req := IncomingCall{
		CallID: msg.CallID,
		From:   msg.From,
	}

	if msg.Type == signaling.GroupCallRequestMessage {
		var data signaling.GroupCallRequest
		if err := msg.Decode(&data); err != nil {
			c.log.Warn("failed to decode group call request", mlog.String("callID", msg.CallID), mlog.Err(err))
			return
		}
		req.FromName = data.InitiatorName
		req.CallType = Type(data.CallType)
		req.IsGroup = true
		req.GroupName = data.GroupName
		req.Participants = data.Participants
	} else {
		var data signaling.CallRequest
		if err := msg.Decode(&data); err != nil {
			c.log.Warn("failed to decode call request", mlog.String("callID", msg.CallID), mlog.Err(err))
			return
		}
		req.FromName = data.InitiatorName
		req.CallType = Type(data.CallType)
	}

	if err := c.m.HandleIncomingCall(c.m.context(), req); err != nil {
		c.log.Debug("incoming call not accepted", mlog.String("callID", req.CallID), mlog.String("from", req.From), mlog.Err(err))
	}
}

func (c *coordinator) onMessage(msg signaling.Message) {
	cs := c.m.registry.get(msg.CallID)
	if cs == nil {
		c.log.Debug("message for unknown call", mlog.String("callID", msg.CallID), mlog.String("type", string(msg.Type)))
		return
	}

	switch msg.Type {
	case signaling.CallResponseMessage:
		c.onCallResponse(cs, msg)
	case signaling.OfferMessage:
		c.onOffer(cs, msg)
	case signaling.AnswerMessage:
		c.onAnswer(cs, msg)
	case signaling.ICECandidateMessage:
		c.onCandidate(cs, msg)
	case signaling.HangupMessage:
		c.onHangup(cs, msg)
	default:
		c.log.Debug("unexpected message type", mlog.String("type", string(msg.Type)))
	}
}

func (c *coordinator) onCallResponse(cs *callSession, msg signaling.Message) {
	m := c.m

	var resp signaling.CallResponse
	if err := msg.Decode(&resp); err != nil {
		c.log.Warn("failed to decode call response", mlog.String("callID", msg.CallID), mlog.Err(err))
		return
	}

	cs.mut.Lock()
	if cs.Direction != DirectionOutgoing || cs.State.IsTerminal() {
		cs.mut.Unlock()
		return
	}
	p := cs.peers[msg.From]
	if p == nil || p.answered {
		cs.mut.Unlock()
		return
	}

	if !resp.Accepted {
		reason := resp.Reason
		if reason == "" {
			reason = ReasonRejected
		}

		if cs.remoteCount() > 1 {
			cs.removeRemote(msg.From)
			cs.mut.Unlock()
			c.log.Info("participant declined group call",
				mlog.String("callID", cs.CallID),
				mlog.String("userID", msg.From),
				mlog.String("reason", reason),
			)
			return
		}

		s, from, _, ok := m.endLocked(cs, StateRejected, reason)
		cs.mut.Unlock()
		if ok {
			m.afterEnd(s, from, nil)
		}
		return
	}

	p.answered = true
	cs.updateParticipant(msg.From, func(p *Participant) {
		p.JoinedAt = m.now()
	})

	var from State
	var changed bool
	if cs.State == StateInitiating {
		from, _ = cs.setState(StateConnecting, m.now())
		changed = true
	}
	s := cs.snapshot()
	cs.mut.Unlock()

	if changed {
		m.listeners.stateChanged(s, from)
	}

	remoteUserID := msg.From
	offer := func(ctx context.Context) error {
		return m.sendOffer(ctx, cs, remoteUserID, false)
	}
	if err := offer(m.context()); err != nil {
		m.fail(cs, err, "send_offer", remoteUserID, offer)
	}
}

func (c *coordinator) onOffer(cs *callSession, msg signaling.Message) {
	m := c.m

	var data signaling.SessionDescription
	if err := msg.Decode(&data); err != nil {
		c.log.Warn("failed to decode offer", mlog.String("callID", msg.CallID), mlog.Err(err))
		return
	}

	cs.mut.Lock()
	ok := cs.peers[msg.From] != nil && !cs.State.IsTerminal()
	cs.mut.Unlock()
	if !ok {
		c.log.Debug("offer from unexpected sender", mlog.String("callID", msg.CallID), mlog.String("from", msg.From))
		return
	}

	remoteUserID := msg.From
	answer := func(ctx context.Context) error {
		return m.answerOffer(ctx, cs, remoteUserID, data.SDP)
	}
	if err := answer(m.context()); err != nil {
		m.fail(cs, err, "answer_offer", remoteUserID, answer)
	}
}

func (c *coordinator) onAnswer(cs *callSession, msg signaling.Message) {
	m := c.m

	var data signaling.SessionDescription
	if err := msg.Decode(&data); err != nil {
		c.log.Warn("failed to decode answer", mlog.String("callID", msg.CallID), mlog.Err(err))
		return
	}

	cs.mut.Lock()
	p := cs.peers[msg.From]
	if p == nil || cs.State.IsTerminal() {
		cs.mut.Unlock()
		c.log.Debug("answer from unexpected sender", mlog.String("callID", msg.CallID), mlog.String("from", msg.From))
		return
	}
	err := p.pc.SetRemoteDescription(m.context(), transport.SessionDescription{
		Type: transport.SDPTypeAnswer,
		SDP:  data.SDP,
	})
	if err == nil {
		m.flushCandidates(cs, p)
	}
	cs.mut.Unlock()

	if err != nil {
		remoteUserID := msg.From
		offer := func(ctx context.Context) error {
			return m.sendOffer(ctx, cs, remoteUserID, false)
		}
		m.fail(cs, recovery.NewError(recovery.SignalingError, "failed to set remote description", err), "apply_answer", remoteUserID, offer)
	}
}

func (c *coordinator) onCandidate(cs *callSession, msg signaling.Message) {
	var data signaling.Candidate
	if err := msg.Decode(&data); err != nil {
		c.log.Warn("failed to decode ice candidate", mlog.String("callID", msg.CallID), mlog.Err(err))
		return
	}

	cand := transport.ICECandidate{
		Candidate:     data.Candidate,
		SDPMid:        data.SDPMid,
		SDPMLineIndex: data.SDPMLineIndex,
	}

	cs.mut.Lock()
	defer cs.mut.Unlock()

	p := cs.peers[msg.From]
	if p == nil || cs.State.IsTerminal() {
		return
	}

	if !p.pc.HasRemoteDescription() {
		p.candidates = append(p.candidates, cand)
		return
	}

	if err := p.pc.AddICECandidate(cand); err != nil {
		c.log.Warn("failed to add ice candidate", mlog.String("callID", msg.CallID), mlog.String("from", msg.From), mlog.Err(err))
	}
}

func (c *coordinator) onHangup(cs *callSession, msg signaling.Message) {
	m := c.m

	var data signaling.Hangup
	if err := msg.Decode(&data); err != nil {
		c.log.Debug("failed to decode hangup", mlog.String("callID", msg.CallID), mlog.Err(err))
	}

	cs.mut.Lock()
	if cs.State.IsTerminal() {
		cs.mut.Unlock()
		return
	}
	if _, ok := cs.Participants[msg.From]; !ok || msg.From == cs.localID {
		cs.mut.Unlock()
		return
	}

	if cs.IsGroup && cs.Direction == DirectionOutgoing && cs.remoteCount() > 1 {
		cs.removeRemote(msg.From)
		ids := cs.resolvePending(msg.From)
		cs.mut.Unlock()
		for _, id := range ids {
			m.engine.CancelRetry(id)
		}
		c.log.Info("participant left group call",
			mlog.String("callID", cs.CallID),
			mlog.String("userID", msg.From),
			mlog.String("reason", data.Reason),
		)
		return
	}

	reason := ReasonRemoteHangup
	if cs.IsGroup && cs.Direction == DirectionOutgoing {
		reason = ReasonAllLeft
	}
	s, from, _, ok := m.endLocked(cs, StateEnded, reason)
	cs.mut.Unlock()
	if ok {
		m.afterEnd(s, from, nil)
	}
}

func (c *coordinator) handleEvent(ev transport.Event) {
	m := c.m

	cs := m.registry.get(ev.CallID)
	if cs == nil {
		return
	}

	switch ev.Type {
	case transport.ICECandidateEvent:
		if ev.Candidate == nil {
			return
		}
		err := m.send(m.context(), signaling.ICECandidateMessage, ev.RemoteUserID, ev.CallID, signaling.Candidate{
			Candidate:     ev.Candidate.Candidate,
			SDPMid:        ev.Candidate.SDPMid,
			SDPMLineIndex: ev.Candidate.SDPMLineIndex,
		})
		if err != nil {
			c.log.Warn("failed to send ice candidate", mlog.String("callID", ev.CallID), mlog.Err(err))
		}
	case transport.ConnectionStateEvent:
		c.onConnectionState(cs, ev)
	case transport.TrackEvent:
		cs.mut.Lock()
		_, ok := cs.Participants[ev.RemoteUserID]
		s := cs.snapshot()
		cs.mut.Unlock()
		if ok && ev.Track != nil {
			m.listeners.remoteStream(s, ev.RemoteUserID, ev.Track)
		}
	}
}

func (c *coordinator) onConnectionState(cs *callSession, ev transport.Event) {
	m := c.m

	switch ev.State {
	case transport.ConnectionStateConnected:
		cs.mut.Lock()
		if cs.State.IsTerminal() {
			cs.mut.Unlock()
			return
		}
		cs.updateParticipant(ev.RemoteUserID, func(p *Participant) {
			p.ConnectionState = ConnectionStateConnected
			if p.JoinedAt.IsZero() {
				p.JoinedAt = m.now()
			}
		})
		var from State
		var changed bool
		if cs.State == StateConnecting {
			from, _ = cs.setState(StateConnected, m.now())
			changed = true
		}
		ids := cs.resolvePending(ev.RemoteUserID)
		s := cs.snapshot()
		cs.mut.Unlock()

		for _, id := range ids {
			if err := m.engine.MarkErrorResolved(id, "connection established"); err != nil {
				c.log.Debug("failed to mark error as resolved", mlog.String("errorID", id), mlog.Err(err))
			}
		}

		if changed {
			c.log.Info("call connected", mlog.String("callID", s.CallID), mlog.String("remoteUserID", ev.RemoteUserID))
			m.listeners.stateChanged(s, from)
		}
	case transport.ConnectionStateDisconnected:
		cs.mut.Lock()
		cs.updateParticipant(ev.RemoteUserID, func(p *Participant) {
			p.ConnectionState = ConnectionStateDisconnected
		})
		cs.mut.Unlock()
	case transport.ConnectionStateFailed:
		cs.mut.Lock()
		if cs.State.IsTerminal() || cs.peers[ev.RemoteUserID] == nil {
			cs.mut.Unlock()
			return
		}
		cs.updateParticipant(ev.RemoteUserID, func(p *Participant) {
			p.ConnectionState = ConnectionStateDisconnected
		})
		offerer := cs.Direction == DirectionOutgoing
		cs.mut.Unlock()

		remoteUserID := ev.RemoteUserID
		step := func(ctx context.Context) error {
			// The side that sent the first offer restarts ICE, the other
			// one waits for the new offer.
			if !offerer {
				return errAwaitingRestart
			}
			return m.sendOffer(ctx, cs, remoteUserID, true)
		}
		m.fail(cs, recovery.NewError(recovery.ICEConnectionFailed, "ice connection failed", nil), "ice_connection", remoteUserID, step)
	}
}
