// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package call implements the call lifecycle on top of a media transport and
// a signaling channel.
package call

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/mattermost/callcore/service/callconfig"
	"github.com/mattermost/callcore/service/random"
	"github.com/mattermost/callcore/service/recovery"
	"github.com/mattermost/callcore/service/signaling"
	"github.com/mattermost/callcore/service/task"
	"github.com/mattermost/callcore/service/transport"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

const (
	component          = "call"
	defaultParkTimeout = 5 * time.Second
)

// Manager drives the calls of a single local user.
type Manager struct {
	transport   transport.Transport
	channel     signaling.Channel
	config      callconfig.Provider
	engine      *recovery.Engine
	log         mlog.LoggerIFace
	metrics     Metrics
	history     *HistoryStore
	now         func() time.Time
	parkTimeout time.Duration

	registry  *registry
	listeners *listenerSet
	stats     statsTracker
	scheduler *task.Scheduler
	coord     *coordinator
	gate      gate

	// lifecycleMut serializes Initialize and Cleanup.
	lifecycleMut sync.Mutex

	mut                  sync.RWMutex
	initialized          bool
	userID               string
	userName             string
	ctx                  context.Context
	cancel               context.CancelFunc
	removeEngineListener func()
}

func NewManager(cfg ManagerConfig, opts ...Option) (*Manager, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}

	m := &Manager{
		transport:   cfg.Transport,
		channel:     cfg.Channel,
		config:      cfg.Config,
		engine:      cfg.Engine,
		log:         cfg.Logger,
		metrics:     noopMetrics{},
		now:         time.Now,
		parkTimeout: defaultParkTimeout,
		registry:    newRegistry(),
		listeners:   newListenerSet(),
		scheduler:   task.NewScheduler(),
	}
	m.coord = newCoordinator(m)

	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	return m, nil
}

// Initialize binds the manager to the local user and starts the transport
// and the signaling channel. Calling it again is a no-op, even with a
// different identity.
func (m *Manager) Initialize(ctx context.Context, userID, userName string) error {
	if userID == "" {
		return fmt.Errorf("invalid userID value: %w", ErrNotInitialized)
	}

	m.lifecycleMut.Lock()
	defer m.lifecycleMut.Unlock()

	m.mut.RLock()
	initialized, currentID := m.initialized, m.userID
	m.mut.RUnlock()
	if initialized {
		if currentID != userID {
			m.log.Warn("call manager already initialized, keeping identity",
				mlog.String("userID", currentID),
				mlog.String("requestedUserID", userID),
			)
		}
		return nil
	}

	ectx := recovery.Context{Component: component, Action: "initialize"}

	if err := m.transport.Start(ctx); err != nil {
		m.engine.HandleError(recovery.NewError(recovery.InitializationFailed, "failed to start transport", err), ectx)
		return fmt.Errorf("%w: failed to start transport: %w", ErrInitializationFailed, err)
	}

	if err := m.channel.Connect(ctx, userID); err != nil {
		if closeErr := m.transport.Close(); closeErr != nil {
			m.log.Error("failed to close transport", mlog.Err(closeErr))
		}
		m.engine.HandleError(recovery.NewError(recovery.InitializationFailed, "failed to connect signaling channel", err), ectx)
		return fmt.Errorf("%w: failed to connect signaling channel: %w", ErrInitializationFailed, err)
	}

	m.mut.Lock()
	m.userID = userID
	m.userName = userName
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.initialized = true
	m.mut.Unlock()

	m.scheduler.Reset()
	m.gate.openUp()
	m.removeEngineListener = m.engine.AddListener(recovery.Listeners{
		OnRecoveryFailed: m.onRecoveryFailed,
	})
	m.coord.start(m.channel.ReceiveCh(), m.transport.EventCh())

	m.log.Info("call manager initialized", mlog.String("userID", userID))

	return nil
}

// Cleanup ends every call, stops the background work and closes the
// transport and the signaling channel. No listener fires for the torn down
// calls once it returns. It must not be called from a listener.
func (m *Manager) Cleanup(_ context.Context) error {
	m.lifecycleMut.Lock()
	defer m.lifecycleMut.Unlock()

	m.mut.Lock()
	if !m.initialized {
		m.mut.Unlock()
		return nil
	}
	m.initialized = false
	m.mut.Unlock()

	m.scheduler.Stop()
	m.gate.shut()
	m.removeEngineListener()

	for _, cs := range m.registry.list() {
		m.terminate(cs, StateEnded, ReasonCleanup, nil, true)
	}

	m.mut.Lock()
	m.cancel()
	m.mut.Unlock()

	m.coord.stop()

	var errs []error
	if err := m.channel.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close signaling channel: %w", err))
	}
	if err := m.transport.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close transport: %w", err))
	}

	m.registry.clear()

	m.mut.Lock()
	userID := m.userID
	m.userID = ""
	m.userName = ""
	m.mut.Unlock()

	m.log.Info("call manager cleaned up", mlog.String("userID", userID))

	return errors.Join(errs...)
}

func (m *Manager) identity() (string, string, bool) {
	m.mut.RLock()
	defer m.mut.RUnlock()
	return m.userID, m.userName, m.initialized
}

// UserID returns the local user the manager is bound to.
func (m *Manager) UserID() string {
	userID, _, _ := m.identity()
	return userID
}

// context returns the context background work runs with. It's cancelled
// by Cleanup.
func (m *Manager) context() context.Context {
	m.mut.RLock()
	defer m.mut.RUnlock()
	if m.ctx == nil {
		return context.Background()
	}
	return m.ctx
}

// gated wraps fn so that it's skipped once Cleanup started and waited for
// by it otherwise.
func (m *Manager) gated(fn func()) func() {
	return func() {
		if !m.gate.enter() {
			return
		}
		defer m.gate.leave()
		fn()
	}
}

// runOnCall runs fn on the queue of the call and returns its result.
func (m *Manager) runOnCall(ctx context.Context, callID string, fn func() error) error {
	resCh := make(chan error, 1)
	ok := m.coord.push(callID, func() {
		if !m.gate.enter() {
			resCh <- errManagerClosed
			return
		}
		defer m.gate.leave()
		resCh <- fn()
	})
	if !ok {
		return ErrCallNotFound
	}

	select {
	case err := <-resCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) AddEventListener(l Listeners) func() {
	return m.listeners.add(l)
}

func checkFeature(cfg callconfig.Config, callType Type, isGroup bool) error {
	switch {
	case callType == TypeAudio && !cfg.EnableVoiceCall:
		return fmt.Errorf("%w: voice calls", ErrFeatureDisabled)
	case callType == TypeVideo && !cfg.EnableVideoCall:
		return fmt.Errorf("%w: video calls", ErrFeatureDisabled)
	case isGroup && !cfg.EnableGroupCall:
		return fmt.Errorf("%w: group calls", ErrFeatureDisabled)
	}
	return nil
}

func (m *Manager) report(err error, callID, action string) *recovery.ErrorDetails {
	return m.engine.HandleError(err, recovery.Context{
		CallID:    callID,
		Component: component,
		Action:    action,
	})
}

// reportUnretried records an error raised before a call session exists.
// There is no step to re-run, so no retry gets scheduled.
func (m *Manager) reportUnretried(err error, action string) *recovery.ErrorDetails {
	return m.engine.HandleError(err, recovery.Context{
		Component:   component,
		Action:      action,
		NoAutoRetry: true,
	})
}

// callTargets returns the remote users of a new call, without duplicates
// nor the local user.
func callTargets(userID, targetUserID string, participants []string) []string {
	var targets []string
	for _, id := range append([]string{targetUserID}, participants...) {
		if id == "" || id == userID || slices.Contains(targets, id) {
			continue
		}
		targets = append(targets, id)
	}
	return targets
}

// StartCall calls targetUserID, or every user in opts.Participants for a
// group call, and returns the id of the new call.
func (m *Manager) StartCall(ctx context.Context, targetUserID string, callType Type, opts *CallOptions) (string, error) {
	userID, userName, ok := m.identity()
	if !ok {
		return "", ErrNotInitialized
	}

	if err := callType.IsValid(); err != nil {
		return "", fmt.Errorf("invalid callType value: %w", err)
	}

	if opts == nil {
		opts = &CallOptions{}
	}
	isGroup := len(opts.Participants) > 0
	targets := callTargets(userID, targetUserID, opts.Participants)
	if len(targets) == 0 {
		return "", fmt.Errorf("invalid targetUserID value: should not be empty")
	}

	cfg := m.config.Get()
	if err := checkFeature(cfg, callType, isGroup); err != nil {
		m.reportUnretried(recovery.NewError(recovery.FeatureDisabled, "failed to start call", err), "start_call")
		return "", fmt.Errorf("failed to start call: %w", err)
	}

	if isGroup && len(targets)+1 > cfg.MaxConferenceParticipants {
		err := fmt.Errorf("%w: at most %d participants are allowed", ErrParticipantLimit, cfg.MaxConferenceParticipants)
		m.reportUnretried(recovery.NewError(recovery.ConferenceFull, "failed to start group call", err), "start_call")
		return "", err
	}

	stream, err := m.transport.GetUserMedia(ctx, transport.MediaConstraints{
		Audio: true,
		Video: callType == TypeVideo,
	})
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrMediaAccess, err)
		m.reportUnretried(err, "start_call")
		return "", err
	}

	now := m.now()
	callID := random.NewID()
	s := Session{
		CallID:    callID,
		CallType:  callType,
		Direction: DirectionOutgoing,
		State:     StateInitiating,
		IsGroup:   isGroup,
		GroupName: opts.GroupName,
		StartTime: now,
	}
	if !isGroup {
		s.RemoteUserID = targets[0]
	}

	cs := newCallSession(s, Participant{
		UserID:   userID,
		UserName: userName,
		MediaState: MediaState{
			AudioEnabled:   true,
			VideoEnabled:   callType == TypeVideo,
			SpeakerEnabled: true,
		},
		ConnectionState: ConnectionStateConnected,
		JoinedAt:        now,
	}, m.log)
	cs.localStream = stream

	for _, target := range targets {
		pc, err := m.transport.CreatePeerConnection(ctx, transport.PeerConfig{
			CallID:       callID,
			RemoteUserID: target,
		}, stream)
		if err != nil {
			cs.release()
			err = recovery.NewError(recovery.ConnectionFailed, "failed to create peer connection", err)
			m.reportUnretried(err, "start_call")
			return "", fmt.Errorf("failed to start call: %w", err)
		}
		cs.peers[target] = &peer{userID: target, pc: pc}
		cs.Participants[target] = Participant{
			UserID:          target,
			ConnectionState: ConnectionStateConnecting,
		}
	}

	if err := m.register(cs, cfg.CallTimeout()); err != nil {
		cs.release()
		return "", fmt.Errorf("failed to start call: %w", err)
	}

	cs.mut.Lock()
	s = cs.snapshot()
	cs.mut.Unlock()

	m.log.Info("call started",
		mlog.String("callID", callID),
		mlog.String("callType", string(callType)),
		mlog.Int("participants", len(targets)),
	)
	m.listeners.callStarted(s)

	for _, target := range targets {
		remoteUserID := target
		request := func(ctx context.Context) error {
			if isGroup {
				return m.send(ctx, signaling.GroupCallRequestMessage, remoteUserID, callID, signaling.GroupCallRequest{
					CallID:        callID,
					CallType:      string(callType),
					GroupName:     opts.GroupName,
					InitiatorName: userName,
					Participants:  targets,
				})
			}
			return m.send(ctx, signaling.CallRequestMessage, remoteUserID, callID, signaling.CallRequest{
				CallID:        callID,
				CallType:      string(callType),
				InitiatorName: userName,
			})
		}
		if err := request(ctx); err != nil {
			if d := m.fail(cs, err, "send_call_request", remoteUserID, request); d.Severity >= recovery.SeverityHigh {
				return callID, fmt.Errorf("failed to send call request: %w", d)
			}
		}
	}

	return callID, nil
}

// register makes a new session visible and arms its establishment timeout.
func (m *Manager) register(cs *callSession, timeout time.Duration) error {
	callID := cs.CallID

	if err := m.registry.add(cs); err != nil {
		return err
	}
	m.coord.open(callID)

	cs.mut.Lock()
	cs.deadline = cs.StartTime.Add(timeout)
	cs.timeout = m.scheduler.Schedule("timeout:"+callID, timeout, func() {
		m.coord.push(callID, m.gated(func() {
			m.onTimeout(cs)
		}))
	})
	callType, direction := cs.CallType, cs.Direction
	cs.mut.Unlock()

	m.stats.recordStart()
	m.metrics.IncCalls(string(callType), string(direction))
	m.metrics.IncActiveCalls()

	return nil
}

func (m *Manager) onTimeout(cs *callSession) {
	cs.mut.Lock()
	if !cs.State.awaitingAnswer() {
		cs.mut.Unlock()
		return
	}
	s, from, remotes, ok := m.endLocked(cs, StateFailed, ReasonTimeout)
	cs.mut.Unlock()
	if !ok {
		return
	}

	m.log.Info("call was not answered in time", mlog.String("callID", s.CallID))

	m.notifyRemotes(s, remotes)
	d := m.report(recovery.NewError(recovery.CallTimeout, "call was not answered in time", nil), s.CallID, "establish")
	m.afterEnd(s, from, d)
}

// HandleIncomingCall registers a call requested by a remote user. The
// request is declined right away if the call type is disabled or the local
// user is already in a one to one call.
func (m *Manager) HandleIncomingCall(ctx context.Context, req IncomingCall) error {
	userID, userName, ok := m.identity()
	if !ok {
		return ErrNotInitialized
	}

	if err := req.IsValid(); err != nil {
		return fmt.Errorf("invalid incoming call: %w", err)
	}

	if req.From == userID {
		return fmt.Errorf("invalid incoming call: caller is the local user")
	}

	if m.registry.get(req.CallID) != nil {
		m.log.Debug("duplicate call request", mlog.String("callID", req.CallID))
		return nil
	}

	cfg := m.config.Get()
	if err := checkFeature(cfg, req.CallType, req.IsGroup); err != nil {
		m.decline(ctx, req, ReasonUnsupported)
		m.report(recovery.NewError(recovery.FeatureDisabled, "failed to handle incoming call", err), req.CallID, "incoming_call")
		return fmt.Errorf("failed to handle incoming call: %w", err)
	}

	if m.busy() {
		m.log.Info("declining call, user is busy", mlog.String("callID", req.CallID), mlog.String("from", req.From))
		m.decline(ctx, req, ReasonBusy)
		return ErrBusy
	}

	now := m.now()
	cs := newCallSession(Session{
		CallID:       req.CallID,
		CallType:     req.CallType,
		Direction:    DirectionIncoming,
		State:        StateRinging,
		IsGroup:      req.IsGroup,
		GroupName:    req.GroupName,
		RemoteUserID: req.From,
		StartTime:    now,
	}, Participant{
		UserID:   userID,
		UserName: userName,
		MediaState: MediaState{
			SpeakerEnabled: true,
		},
		ConnectionState: ConnectionStateConnected,
		JoinedAt:        now,
	}, m.log)
	cs.Participants[req.From] = Participant{
		UserID:          req.From,
		UserName:        req.FromName,
		ConnectionState: ConnectionStateConnecting,
	}

	if err := m.register(cs, cfg.CallTimeout()); err != nil {
		return fmt.Errorf("failed to handle incoming call: %w", err)
	}

	cs.mut.Lock()
	s := cs.snapshot()
	cs.mut.Unlock()

	m.log.Info("incoming call",
		mlog.String("callID", req.CallID),
		mlog.String("from", req.From),
		mlog.String("callType", string(req.CallType)),
	)
	m.listeners.incomingCall(s)

	return nil
}

// busy reports whether the local user is in an active one to one call.
func (m *Manager) busy() bool {
	for _, cs := range m.registry.list() {
		cs.mut.Lock()
		active := !cs.IsGroup && !cs.State.IsTerminal()
		cs.mut.Unlock()
		if active {
			return true
		}
	}
	return false
}

func (m *Manager) decline(ctx context.Context, req IncomingCall, reason string) {
	err := m.send(ctx, signaling.CallResponseMessage, req.From, req.CallID, signaling.CallResponse{
		CallID:   req.CallID,
		Accepted: false,
		Reason:   reason,
	})
	if err != nil {
		m.log.Warn("failed to decline call", mlog.String("callID", req.CallID), mlog.Err(err))
	}
}

// AcceptCall answers a ringing incoming call.
func (m *Manager) AcceptCall(ctx context.Context, callID string) error {
	if _, _, ok := m.identity(); !ok {
		return ErrNotInitialized
	}

	cs := m.registry.get(callID)
	if cs == nil {
		return ErrCallNotFound
	}

	cs.mut.Lock()
	if cs.State.IsTerminal() {
		cs.mut.Unlock()
		return ErrCallNotFound
	}
	if cs.Direction != DirectionIncoming || cs.State != StateRinging || cs.accepting {
		state := cs.State
		cs.mut.Unlock()
		return fmt.Errorf("%w: cannot accept a call in state %s", ErrInvalidCallState, state)
	}
	cs.accepting = true
	remoteUserID := cs.RemoteUserID
	video := cs.CallType == TypeVideo
	cs.mut.Unlock()

	stream, err := m.transport.GetUserMedia(ctx, transport.MediaConstraints{
		Audio: true,
		Video: video,
	})
	if err != nil {
		cs.mut.Lock()
		cs.accepting = false
		cs.mut.Unlock()
		err = fmt.Errorf("%w: %w", ErrMediaAccess, err)
		m.fail(cs, err, "accept_call", remoteUserID, nil)
		return fmt.Errorf("failed to accept call: %w", err)
	}

	pc, err := m.transport.CreatePeerConnection(ctx, transport.PeerConfig{
		CallID:       callID,
		RemoteUserID: remoteUserID,
	}, stream)
	if err != nil {
		stream.Stop()
		cs.mut.Lock()
		cs.accepting = false
		cs.mut.Unlock()
		err = recovery.NewError(recovery.ConnectionFailed, "failed to create peer connection", err)
		m.fail(cs, err, "accept_call", remoteUserID, nil)
		return fmt.Errorf("failed to accept call: %w", err)
	}

	cs.mut.Lock()
	cs.accepting = false
	// The call may have been ended or timed out while media was acquired.
	if cs.State != StateRinging {
		state := cs.State
		cs.mut.Unlock()
		stream.Stop()
		if err := pc.Close(); err != nil {
			m.log.Warn("failed to close peer connection", mlog.String("callID", callID), mlog.Err(err))
		}
		if state.IsTerminal() {
			return ErrCallNotFound
		}
		return fmt.Errorf("%w: cannot accept a call in state %s", ErrInvalidCallState, state)
	}

	cs.localStream = stream
	cs.peers[remoteUserID] = &peer{userID: remoteUserID, pc: pc, answered: true}
	cs.updateLocal(func(p *Participant) {
		p.MediaState.AudioEnabled = true
		p.MediaState.VideoEnabled = video
	})
	from, err := cs.setState(StateConnecting, m.now())
	if err != nil {
		cs.mut.Unlock()
		return err
	}
	s := cs.snapshot()
	cs.mut.Unlock()

	m.log.Info("call accepted", mlog.String("callID", callID))
	m.listeners.stateChanged(s, from)
	m.listeners.callStarted(s)

	respond := func(ctx context.Context) error {
		return m.send(ctx, signaling.CallResponseMessage, remoteUserID, callID, signaling.CallResponse{
			CallID:   callID,
			Accepted: true,
		})
	}
	if err := respond(ctx); err != nil {
		if d := m.fail(cs, err, "accept_call", remoteUserID, respond); d.Severity >= recovery.SeverityHigh {
			return fmt.Errorf("failed to accept call: %w", d)
		}
	}

	return nil
}

// RejectCall declines an incoming call.
func (m *Manager) RejectCall(_ context.Context, callID, reason string) error {
	cs := m.registry.get(callID)
	if cs == nil {
		return ErrCallNotFound
	}

	if reason == "" {
		reason = ReasonRejected
	}

	cs.mut.Lock()
	if cs.State.IsTerminal() {
		cs.mut.Unlock()
		return ErrCallNotFound
	}
	if cs.Direction != DirectionIncoming {
		cs.mut.Unlock()
		return fmt.Errorf("%w: only incoming calls can be rejected", ErrInvalidCallState)
	}
	s, from, remotes, ok := m.endLocked(cs, StateRejected, reason)
	cs.mut.Unlock()
	if !ok {
		return ErrCallNotFound
	}

	m.notifyRemotes(s, remotes)
	m.afterEnd(s, from, nil)

	return nil
}

// EndCall hangs up a call in any non terminal state.
func (m *Manager) EndCall(_ context.Context, callID string) error {
	cs := m.registry.get(callID)
	if cs == nil {
		return ErrCallNotFound
	}
	if !m.terminate(cs, StateEnded, ReasonLocalHangup, nil, true) {
		return ErrCallNotFound
	}
	return nil
}

// terminate moves the session to a terminal state. It returns false if the
// session already was in one.
func (m *Manager) terminate(cs *callSession, to State, reason string, d *recovery.ErrorDetails, notify bool) bool {
	cs.mut.Lock()
	s, from, remotes, ok := m.endLocked(cs, to, reason)
	cs.mut.Unlock()
	if !ok {
		return false
	}

	if notify {
		m.notifyRemotes(s, remotes)
	}
	m.afterEnd(s, from, d)

	return true
}

// endLocked transitions the session to a terminal state and releases its
// resources. It must be called with cs.mut held.
func (m *Manager) endLocked(cs *callSession, to State, reason string) (Session, State, []string, bool) {
	from, err := cs.setState(to, m.now())
	if err != nil {
		return Session{}, from, nil, false
	}
	cs.Reason = reason
	remotes := cs.remotes()
	cs.release()
	return cs.snapshot(), from, remotes, true
}

// afterEnd runs the bookkeeping of a session that reached a terminal state,
// notifies listeners and finally drops the session.
func (m *Manager) afterEnd(s Session, from State, d *recovery.ErrorDetails) {
	m.engine.CancelRetriesForCall(s.CallID)

	m.stats.recordEnd(s.State, s.Duration)
	m.metrics.DecActiveCalls()
	m.metrics.IncCallTerminations(string(s.State), s.Reason)
	if s.State == StateEnded {
		m.metrics.ObserveCallDuration(string(s.CallType), s.Duration.Seconds())
	}

	if m.history != nil {
		if err := m.history.Save(newRecord(s)); err != nil {
			m.log.Error("failed to save call record", mlog.String("callID", s.CallID), mlog.Err(err))
		}
	}

	m.log.Info("call finished",
		mlog.String("callID", s.CallID),
		mlog.String("state", string(s.State)),
		mlog.String("reason", s.Reason),
		mlog.Any("duration", s.Duration),
	)

	m.listeners.stateChanged(s, from)
	if s.State == StateFailed {
		m.listeners.callFailed(s, d)
	} else {
		m.listeners.callEnded(s)
	}

	if cs := m.registry.get(s.CallID); cs != nil {
		m.registry.remove(cs)
	}
	m.coord.close(s.CallID)
}

// notifyRemotes tells the remote participants a call is over. A rejection
// is sent as a negative call response, anything else as a hangup.
func (m *Manager) notifyRemotes(s Session, remotes []string) {
	ctx := m.context()
	for _, remoteUserID := range remotes {
		var err error
		if s.State == StateRejected {
			err = m.send(ctx, signaling.CallResponseMessage, remoteUserID, s.CallID, signaling.CallResponse{
				CallID:   s.CallID,
				Accepted: false,
				Reason:   s.Reason,
			})
		} else {
			err = m.send(ctx, signaling.HangupMessage, remoteUserID, s.CallID, signaling.Hangup{
				CallID: s.CallID,
				Reason: s.Reason,
			})
		}
		if err != nil {
			m.log.Debug("failed to notify participant", mlog.String("callID", s.CallID), mlog.String("userID", remoteUserID), mlog.Err(err))
		}
	}
}

func (m *Manager) send(ctx context.Context, msgType signaling.MessageType, to, callID string, payload any) error {
	userID, _, _ := m.identity()

	msg, err := signaling.NewMessage(msgType, userID, to, callID, payload)
	if err != nil {
		return fmt.Errorf("failed to create %s message: %w", msgType, err)
	}

	if err := m.channel.Send(ctx, msg); err != nil {
		return recovery.NewError(recovery.SignalingError, fmt.Sprintf("failed to send %s message", msgType), err)
	}
	m.metrics.IncSignalingMessages(string(msgType), "out")

	return nil
}

func (m *Manager) sendOffer(ctx context.Context, cs *callSession, remoteUserID string, iceRestart bool) error {
	cs.mut.Lock()
	p := cs.peers[remoteUserID]
	if p == nil || cs.State.IsTerminal() {
		cs.mut.Unlock()
		return fmt.Errorf("%w: no connection to %s", ErrInvalidCallState, remoteUserID)
	}
	offer, err := p.pc.CreateOffer(ctx, iceRestart)
	cs.mut.Unlock()
	if err != nil {
		return recovery.NewError(recovery.SignalingError, "failed to create offer", err)
	}

	return m.send(ctx, signaling.OfferMessage, remoteUserID, cs.CallID, signaling.SessionDescription{SDP: offer.SDP})
}

func (m *Manager) answerOffer(ctx context.Context, cs *callSession, remoteUserID, sdp string) error {
	cs.mut.Lock()
	p := cs.peers[remoteUserID]
	if p == nil || cs.State.IsTerminal() {
		cs.mut.Unlock()
		return fmt.Errorf("%w: no connection to %s", ErrInvalidCallState, remoteUserID)
	}

	if err := p.pc.SetRemoteDescription(ctx, transport.SessionDescription{
		Type: transport.SDPTypeOffer,
		SDP:  sdp,
	}); err != nil {
		cs.mut.Unlock()
		return recovery.NewError(recovery.SignalingError, "failed to set remote description", err)
	}
	m.flushCandidates(cs, p)

	answer, err := p.pc.CreateAnswer(ctx)
	cs.mut.Unlock()
	if err != nil {
		return recovery.NewError(recovery.SignalingError, "failed to create answer", err)
	}

	return m.send(ctx, signaling.AnswerMessage, remoteUserID, cs.CallID, signaling.SessionDescription{SDP: answer.SDP})
}

// flushCandidates must be called with cs.mut held.
func (m *Manager) flushCandidates(cs *callSession, p *peer) {
	for _, c := range p.candidates {
		if err := p.pc.AddICECandidate(c); err != nil {
			m.log.Warn("failed to add queued ice candidate",
				mlog.String("callID", cs.CallID),
				mlog.String("remoteUserID", p.userID),
				mlog.Err(err),
			)
		}
	}
	p.candidates = nil
}

// fail reports an error that happened on an existing session. If the error
// is retried and step is given, the session keeps its state while step gets
// re-run, until it succeeds or the recovery deadline passes. Anything else
// fails the call.
func (m *Manager) fail(cs *callSession, err error, action, remoteUserID string, step func(ctx context.Context) error) *recovery.ErrorDetails {
	callID := cs.CallID

	// Retries wait for the failure to be recorded on the session.
	var errorID string
	readyCh := make(chan struct{})
	defer close(readyCh)

	var retryFn recovery.RetryFunc
	if step != nil {
		retryFn = func(ctx context.Context, _ int) error {
			<-readyCh
			return m.runOnCall(ctx, callID, func() error {
				return m.retryStep(ctx, cs, errorID, step)
			})
		}
	}

	d := m.engine.HandleError(err, recovery.Context{
		CallID:    callID,
		Component: component,
		Action:    action,
		Extra:     map[string]any{"remoteUserId": remoteUserID},
		RetryFunc: retryFn,
	})
	errorID = d.ID

	if step == nil || !d.Retryable || !m.engine.AutoRetryEnabled() || d.MaxRetries == 0 {
		m.terminate(cs, StateFailed, ReasonFailed, d, true)
		return d
	}

	now := m.now()
	cs.mut.Lock()
	if cs.State.IsTerminal() {
		cs.mut.Unlock()
		m.engine.CancelRetry(d.ID)
		return d
	}

	recoverBy := cs.deadline
	if cs.State == StateConnected || recoverBy.IsZero() {
		recoverBy = now.Add(m.config.Get().CallTimeout())
	}
	pf := &pendingFailure{
		remoteUserID: remoteUserID,
		recoverBy:    recoverBy,
	}
	pf.handle = m.scheduler.Schedule("recover:"+d.ID, recoverBy.Sub(now), func() {
		m.coord.push(callID, m.gated(func() {
			m.abandon(cs, d)
		}))
	})
	cs.pending[d.ID] = pf
	cs.mut.Unlock()

	m.log.Debug("waiting for recovery",
		mlog.String("callID", callID),
		mlog.String("errorID", d.ID),
		mlog.Any("recoverBy", recoverBy),
	)

	return d
}

// retryStep runs on the call queue.
func (m *Manager) retryStep(ctx context.Context, cs *callSession, errorID string, step func(ctx context.Context) error) error {
	cs.mut.Lock()
	pf, pending := cs.pending[errorID]
	terminal := cs.State.IsTerminal()
	cs.mut.Unlock()

	if terminal {
		return ErrCallNotFound
	}
	if !pending {
		return nil
	}
	if !m.now().Before(pf.recoverBy) {
		return errDeadlinePassed
	}

	if err := step(ctx); err != nil {
		return err
	}

	cs.mut.Lock()
	if pf, ok := cs.pending[errorID]; ok {
		pf.handle.Cancel()
		delete(cs.pending, errorID)
	}
	cs.mut.Unlock()

	return nil
}

// abandon gives up on a pending failure. In a group call only the
// participant it concerns is dropped, as long as others remain.
func (m *Manager) abandon(cs *callSession, d *recovery.ErrorDetails) {
	cs.mut.Lock()
	pf, ok := cs.pending[d.ID]
	if !ok || cs.State.IsTerminal() {
		cs.mut.Unlock()
		return
	}
	pf.handle.Cancel()
	delete(cs.pending, d.ID)

	if cs.IsGroup && pf.remoteUserID != "" && cs.remoteCount() > 1 {
		cs.removeRemote(pf.remoteUserID)
		ids := cs.resolvePending(pf.remoteUserID)
		cs.mut.Unlock()
		m.engine.CancelRetry(d.ID)
		for _, id := range ids {
			m.engine.CancelRetry(id)
		}
		m.log.Info("dropped participant after failed recovery",
			mlog.String("callID", cs.CallID),
			mlog.String("userID", pf.remoteUserID),
		)
		return
	}

	s, from, remotes, ok := m.endLocked(cs, StateFailed, ReasonFailed)
	cs.mut.Unlock()
	if !ok {
		return
	}

	m.notifyRemotes(s, remotes)
	m.afterEnd(s, from, d)
}

func (m *Manager) onRecoveryFailed(d *recovery.ErrorDetails) {
	if d.CallID == "" {
		return
	}
	cs := m.registry.get(d.CallID)
	if cs == nil {
		return
	}
	m.coord.push(d.CallID, m.gated(func() {
		m.abandon(cs, d)
	}))
}

// GetCallSession returns a snapshot of the call.
func (m *Manager) GetCallSession(callID string) (Session, error) {
	cs := m.registry.get(callID)
	if cs == nil {
		return Session{}, ErrCallNotFound
	}
	cs.mut.Lock()
	defer cs.mut.Unlock()
	return cs.snapshot(), nil
}

// GetActiveSessions returns the calls that haven't reached a terminal state,
// oldest first.
func (m *Manager) GetActiveSessions() []Session {
	var sessions []Session
	for _, cs := range m.registry.list() {
		cs.mut.Lock()
		if !cs.State.IsTerminal() {
			sessions = append(sessions, cs.snapshot())
		}
		cs.mut.Unlock()
	}
	slices.SortFunc(sessions, func(a, b Session) int {
		return a.StartTime.Compare(b.StartTime)
	})
	return sessions
}

func (m *Manager) GetCallStats() Statistics {
	return m.stats.get()
}

// GetCallHistory returns up to limit finished calls, most recent first. It
// returns nothing when no history store is configured.
func (m *Manager) GetCallHistory(limit int) ([]Record, error) {
	if m.history == nil {
		return nil, nil
	}
	records, err := m.history.List(limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get call history: %w", err)
	}
	return records, nil
}
