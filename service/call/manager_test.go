// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package call

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mattermost/callcore/service/callconfig"
	"github.com/mattermost/callcore/service/recovery"
	"github.com/mattermost/callcore/service/signaling"
	"github.com/mattermost/callcore/service/store"
	"github.com/mattermost/callcore/service/transport"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
	"github.com/stretchr/testify/require"
)

func lastError(t *testing.T, e *recovery.Engine) *recovery.ErrorDetails {
	t.Helper()
	history := e.History()
	require.NotEmpty(t, history)
	return history[len(history)-1]
}

func TestNewManager(t *testing.T) {
	log, err := mlog.NewLogger()
	require.NoError(t, err)
	defer func() {
		require.NoError(t, log.Shutdown())
	}()

	var engineCfg recovery.Config
	engineCfg.SetDefaults()
	engine, err := recovery.NewEngine(engineCfg, log)
	require.NoError(t, err)
	defer engine.Stop()

	var cfg callconfig.Config
	cfg.SetDefaults()

	valid := ManagerConfig{
		Transport: &fakeTransport{},
		Channel:   &fakeChannel{},
		Config:    &testProvider{cfg: cfg},
		Engine:    engine,
		Logger:    log,
	}

	t.Run("missing collaborators", func(t *testing.T) {
		cfg := valid
		cfg.Transport = nil
		m, err := NewManager(cfg)
		require.EqualError(t, err, "failed to validate config: invalid Transport value: should not be nil")
		require.Nil(t, m)

		cfg = valid
		cfg.Engine = nil
		m, err = NewManager(cfg)
		require.EqualError(t, err, "failed to validate config: invalid Engine value: should not be nil")
		require.Nil(t, m)

		cfg = valid
		cfg.Logger = nil
		m, err = NewManager(cfg)
		require.EqualError(t, err, "failed to validate config: invalid Logger value: should not be nil")
		require.Nil(t, m)
	})

	t.Run("invalid option", func(t *testing.T) {
		m, err := NewManager(valid, WithMetrics(nil))
		require.EqualError(t, err, "failed to apply option: invalid metrics value: should not be nil")
		require.Nil(t, m)

		m, err = NewManager(valid, WithParkTimeout(0))
		require.EqualError(t, err, "failed to apply option: invalid park timeout value: should be greater than zero")
		require.Nil(t, m)
	})

	t.Run("valid", func(t *testing.T) {
		m, err := NewManager(valid)
		require.NoError(t, err)
		require.NotNil(t, m)
		require.Empty(t, m.UserID())
	})
}

func TestInitialize(t *testing.T) {
	t.Run("empty user id", func(t *testing.T) {
		env := setupManager(t)
		err := env.m.Initialize(context.Background(), "", "")
		require.ErrorIs(t, err, ErrNotInitialized)
	})

	t.Run("transport failure", func(t *testing.T) {
		env := setupManager(t)
		env.tr.startErr = errors.New("no network")
		err := env.m.Initialize(context.Background(), "alice", "Alice")
		require.ErrorIs(t, err, ErrInitializationFailed)
		require.Equal(t, recovery.InitializationFailed, lastError(t, env.engine).Type)

		_, err = env.m.StartCall(context.Background(), "bob", TypeAudio, nil)
		require.ErrorIs(t, err, ErrNotInitialized)
	})

	t.Run("signaling failure", func(t *testing.T) {
		env := setupManager(t)
		env.ch.connectErr = errors.New("relay unreachable")
		err := env.m.Initialize(context.Background(), "alice", "Alice")
		require.ErrorIs(t, err, ErrInitializationFailed)
		require.False(t, env.tr.started)
	})

	t.Run("idempotent", func(t *testing.T) {
		env := setupManager(t)
		env.initialize(t, "alice")
		require.NoError(t, env.m.Initialize(context.Background(), "carol", "Carol"))
		require.Equal(t, "alice", env.m.UserID())
	})
}

func TestStartCall(t *testing.T) {
	t.Run("not initialized", func(t *testing.T) {
		env := setupManager(t)
		callID, err := env.m.StartCall(context.Background(), "bob", TypeAudio, nil)
		require.ErrorIs(t, err, ErrNotInitialized)
		require.Empty(t, callID)
	})

	t.Run("invalid arguments", func(t *testing.T) {
		env := setupManager(t)
		env.initialize(t, "alice")

		_, err := env.m.StartCall(context.Background(), "bob", Type("hologram"), nil)
		require.Error(t, err)

		_, err = env.m.StartCall(context.Background(), "", TypeAudio, nil)
		require.EqualError(t, err, "invalid targetUserID value: should not be empty")

		_, err = env.m.StartCall(context.Background(), "alice", TypeAudio, nil)
		require.EqualError(t, err, "invalid targetUserID value: should not be empty")
	})

	t.Run("audio call", func(t *testing.T) {
		env := setupManager(t)
		env.initialize(t, "alice")

		callID, err := env.m.StartCall(context.Background(), "bob", TypeAudio, nil)
		require.NoError(t, err)
		require.NotEmpty(t, callID)

		s, err := env.m.GetCallSession(callID)
		require.NoError(t, err)
		require.Equal(t, StateInitiating, s.State)
		require.Equal(t, DirectionOutgoing, s.Direction)
		require.Equal(t, "bob", s.RemoteUserID)
		require.False(t, s.IsGroup)

		var locals int
		for _, p := range s.Participants {
			if p.IsLocal {
				locals++
				require.Equal(t, "alice", p.UserID)
				require.True(t, p.MediaState.AudioEnabled)
				require.False(t, p.MediaState.VideoEnabled)
			}
		}
		require.Equal(t, 1, locals)
		require.Equal(t, []string{"bob"}, s.RemoteParticipants())

		require.Equal(t, []transport.MediaConstraints{{Audio: true}}, env.tr.getConstraints())

		reqs := env.ch.sentOfType(signaling.CallRequestMessage)
		require.Len(t, reqs, 1)
		require.Equal(t, "bob", reqs[0].To)
		require.Equal(t, "alice", reqs[0].From)
		var payload signaling.CallRequest
		require.NoError(t, reqs[0].Decode(&payload))
		require.Equal(t, callID, payload.CallID)
		require.Equal(t, "audio", payload.CallType)
		require.Equal(t, "alice-name", payload.InitiatorName)

		_, started, _, _ := env.rec.counts()
		require.Equal(t, 1, started)
		require.Len(t, env.m.GetActiveSessions(), 1)
		require.Equal(t, 1, env.m.GetCallStats().TotalCalls)
	})

	t.Run("video call", func(t *testing.T) {
		env := setupManager(t)
		env.initialize(t, "alice")

		callID, err := env.m.StartCall(context.Background(), "bob", TypeVideo, nil)
		require.NoError(t, err)
		require.Equal(t, []transport.MediaConstraints{{Audio: true, Video: true}}, env.tr.getConstraints())

		s, err := env.m.GetCallSession(callID)
		require.NoError(t, err)
		local, ok := s.LocalParticipant()
		require.True(t, ok)
		require.True(t, local.MediaState.VideoEnabled)
	})

	t.Run("feature disabled", func(t *testing.T) {
		env := setupManager(t)
		env.initialize(t, "alice")
		env.provider.update(func(cfg *callconfig.Config) {
			cfg.EnableVideoCall = false
		})

		callID, err := env.m.StartCall(context.Background(), "bob", TypeVideo, nil)
		require.ErrorIs(t, err, ErrFeatureDisabled)
		require.Empty(t, callID)
		require.Empty(t, env.tr.getConstraints())
		require.Empty(t, env.m.GetActiveSessions())
		require.Equal(t, recovery.FeatureDisabled, lastError(t, env.engine).Type)

		_, err = env.m.StartCall(context.Background(), "bob", TypeAudio, nil)
		require.NoError(t, err)
	})

	t.Run("media access denied", func(t *testing.T) {
		env := setupManager(t)
		env.initialize(t, "alice")
		env.tr.mediaErr = transport.ErrPermissionDenied

		callID, err := env.m.StartCall(context.Background(), "bob", TypeAudio, nil)
		require.ErrorIs(t, err, ErrMediaAccess)
		require.ErrorIs(t, err, transport.ErrPermissionDenied)
		require.Empty(t, callID)
		require.Empty(t, env.m.GetActiveSessions())

		d := lastError(t, env.engine)
		require.Equal(t, recovery.MediaAccessDenied, d.Type)
		require.Equal(t, recovery.StrategyUserAction, d.Strategy)
		require.False(t, d.Retryable)
	})

	t.Run("peer connection failure", func(t *testing.T) {
		env := setupManager(t)
		env.initialize(t, "alice")
		env.tr.peerErr = errors.New("boom")

		_, err := env.m.StartCall(context.Background(), "bob", TypeVideo, nil)
		require.Error(t, err)
		require.Empty(t, env.m.GetActiveSessions())
		for _, track := range env.tr.getTracks() {
			require.True(t, track.isStopped())
		}
	})

	t.Run("failures before the call exists are not retried", func(t *testing.T) {
		env := setupManager(t)
		env.initialize(t, "alice")

		var attempts, failed int32
		env.engine.AddListener(recovery.Listeners{
			OnRetryAttempt: func(_ *recovery.ErrorDetails, _ int) {
				atomic.AddInt32(&attempts, 1)
			},
			OnRecoveryFailed: func(_ *recovery.ErrorDetails) {
				atomic.AddInt32(&failed, 1)
			},
		})

		env.tr.peerErr = errors.New("boom")
		_, err := env.m.StartCall(context.Background(), "bob", TypeAudio, nil)
		require.Error(t, err)
		require.Equal(t, recovery.ConnectionFailed, lastError(t, env.engine).Type)

		env.tr.peerErr = nil
		env.tr.mediaErr = transport.ErrDeviceBusy
		_, err = env.m.StartCall(context.Background(), "bob", TypeAudio, nil)
		require.ErrorIs(t, err, ErrMediaAccess)
		require.Equal(t, recovery.MediaDeviceBusy, lastError(t, env.engine).Type)

		require.Zero(t, env.engine.PendingRetries())
		require.Never(t, func() bool {
			return atomic.LoadInt32(&attempts) > 0 || atomic.LoadInt32(&failed) > 0
		}, 200*time.Millisecond, tick)
	})

	t.Run("group call", func(t *testing.T) {
		env := setupManager(t)
		env.initialize(t, "alice")

		callID, err := env.m.StartCall(context.Background(), "", TypeAudio, &CallOptions{
			GroupName:    "standup",
			Participants: []string{"bob", "carol", "bob"},
		})
		require.NoError(t, err)

		s, err := env.m.GetCallSession(callID)
		require.NoError(t, err)
		require.True(t, s.IsGroup)
		require.Equal(t, "standup", s.GroupName)
		require.Equal(t, []string{"bob", "carol"}, s.RemoteParticipants())

		reqs := env.ch.sentOfType(signaling.GroupCallRequestMessage)
		require.Len(t, reqs, 2)
		var payload signaling.GroupCallRequest
		require.NoError(t, reqs[0].Decode(&payload))
		require.Equal(t, "standup", payload.GroupName)
		require.ElementsMatch(t, []string{"bob", "carol"}, payload.Participants)
	})

	t.Run("participant limit", func(t *testing.T) {
		env := setupManager(t)
		env.initialize(t, "alice")
		env.provider.update(func(cfg *callconfig.Config) {
			cfg.MaxConferenceParticipants = 3
		})

		_, err := env.m.StartCall(context.Background(), "", TypeAudio, &CallOptions{
			Participants: []string{"bob", "carol", "dave"},
		})
		require.ErrorIs(t, err, ErrParticipantLimit)
		require.Equal(t, recovery.ConferenceFull, lastError(t, env.engine).Type)
		require.Empty(t, env.m.GetActiveSessions())
	})

	t.Run("group calls disabled", func(t *testing.T) {
		env := setupManager(t)
		env.initialize(t, "alice")
		env.provider.update(func(cfg *callconfig.Config) {
			cfg.EnableGroupCall = false
		})

		_, err := env.m.StartCall(context.Background(), "", TypeAudio, &CallOptions{
			Participants: []string{"bob", "carol"},
		})
		require.ErrorIs(t, err, ErrFeatureDisabled)
	})
}

func TestOutgoingCallFlow(t *testing.T) {
	env := setupManager(t)
	env.initialize(t, "alice")

	callID, err := env.m.StartCall(context.Background(), "bob", TypeAudio, nil)
	require.NoError(t, err)

	env.ch.deliver(t, signaling.CallResponseMessage, "bob", callID, signaling.CallResponse{CallID: callID, Accepted: true})
	env.waitState(t, callID, StateConnecting)

	require.Eventually(t, func() bool {
		return len(env.ch.sentOfType(signaling.OfferMessage)) == 1
	}, waitFor, tick)

	pc := env.tr.peer(callID, "bob")
	require.NotNil(t, pc)

	// Candidates arriving before the answer are held back.
	env.ch.deliver(t, signaling.ICECandidateMessage, "bob", callID, signaling.Candidate{Candidate: "candidate:1"})
	env.ch.deliver(t, signaling.AnswerMessage, "bob", callID, signaling.SessionDescription{SDP: "answer"})
	require.Eventually(t, func() bool {
		_, _, candidates, _ := pc.counts()
		return pc.HasRemoteDescription() && candidates == 1
	}, waitFor, tick)

	env.ch.deliver(t, signaling.ICECandidateMessage, "bob", callID, signaling.Candidate{Candidate: "candidate:2"})
	require.Eventually(t, func() bool {
		_, _, candidates, _ := pc.counts()
		return candidates == 2
	}, waitFor, tick)

	cand := "candidate:local"
	env.tr.emit(transport.Event{
		Type:         transport.ICECandidateEvent,
		CallID:       callID,
		RemoteUserID: "bob",
		Candidate:    &transport.ICECandidate{Candidate: cand},
	})
	require.Eventually(t, func() bool {
		return len(env.ch.sentOfType(signaling.ICECandidateMessage)) == 1
	}, waitFor, tick)

	env.tr.emit(transport.Event{
		Type:         transport.ConnectionStateEvent,
		CallID:       callID,
		RemoteUserID: "bob",
		State:        transport.ConnectionStateConnected,
	})
	env.waitState(t, callID, StateConnected)

	s, err := env.m.GetCallSession(callID)
	require.NoError(t, err)
	require.Equal(t, ConnectionStateConnected, s.Participants["bob"].ConnectionState)
	require.Equal(t, []State{StateConnecting, StateConnected}, env.rec.states())

	env.tr.emit(transport.Event{
		Type:         transport.TrackEvent,
		CallID:       callID,
		RemoteUserID: "bob",
		Track:        fakeRemoteTrack{},
	})
	require.Eventually(t, func() bool {
		env.rec.mut.Lock()
		defer env.rec.mut.Unlock()
		return len(env.rec.streams) == 1
	}, waitFor, tick)

	require.NoError(t, env.m.EndCall(context.Background(), callID))
	require.True(t, pc.isClosed())
	require.Len(t, env.ch.sentOfType(signaling.HangupMessage), 1)
	require.ErrorIs(t, env.m.EndCall(context.Background(), callID), ErrCallNotFound)

	stats := env.m.GetCallStats()
	require.Equal(t, 1, stats.TotalCalls)
	require.Equal(t, 1, stats.CompletedCalls)
	require.Equal(t, 1.0, stats.SuccessRate)
}

type fakeRemoteTrack struct{}

func (fakeRemoteTrack) ID() string                { return "remote" }
func (fakeRemoteTrack) StreamID() string          { return "stream" }
func (fakeRemoteTrack) Kind() transport.TrackKind { return transport.AudioTrack }

func TestIncomingCallFlow(t *testing.T) {
	env := setupManager(t)
	env.initialize(t, "bob")

	callID := "call1"
	env.ch.deliver(t, signaling.CallRequestMessage, "alice", callID, signaling.CallRequest{
		CallID:        callID,
		CallType:      "video",
		InitiatorName: "Alice",
	})
	env.waitState(t, callID, StateRinging)

	incoming, started, _, _ := env.rec.counts()
	require.Equal(t, 1, incoming)
	require.Zero(t, started)

	s, err := env.m.GetCallSession(callID)
	require.NoError(t, err)
	require.Equal(t, DirectionIncoming, s.Direction)
	require.Equal(t, "Alice", s.Participants["alice"].UserName)

	_, err = env.m.ToggleMicrophone(context.Background(), "unknown")
	require.ErrorIs(t, err, ErrCallNotFound)

	require.NoError(t, env.m.AcceptCall(context.Background(), callID))
	env.waitState(t, callID, StateConnecting)
	require.Equal(t, []transport.MediaConstraints{{Audio: true, Video: true}}, env.tr.getConstraints())

	err = env.m.AcceptCall(context.Background(), callID)
	require.ErrorIs(t, err, ErrInvalidCallState)

	resps := env.ch.sentOfType(signaling.CallResponseMessage)
	require.Len(t, resps, 1)
	var resp signaling.CallResponse
	require.NoError(t, resps[0].Decode(&resp))
	require.True(t, resp.Accepted)

	env.ch.deliver(t, signaling.OfferMessage, "alice", callID, signaling.SessionDescription{SDP: "offer"})
	require.Eventually(t, func() bool {
		return len(env.ch.sentOfType(signaling.AnswerMessage)) == 1
	}, waitFor, tick)

	env.tr.emit(transport.Event{
		Type:         transport.ConnectionStateEvent,
		CallID:       callID,
		RemoteUserID: "alice",
		State:        transport.ConnectionStateConnected,
	})
	env.waitState(t, callID, StateConnected)

	_, started, _, _ = env.rec.counts()
	require.Equal(t, 1, started)

	env.ch.deliver(t, signaling.HangupMessage, "alice", callID, signaling.Hangup{CallID: callID})
	env.waitGone(t, callID)

	env.rec.mut.Lock()
	require.Len(t, env.rec.ended, 1)
	require.Equal(t, StateEnded, env.rec.ended[0].State)
	require.Equal(t, ReasonRemoteHangup, env.rec.ended[0].Reason)
	env.rec.mut.Unlock()

	// No hangup is echoed back.
	require.Empty(t, env.ch.sentOfType(signaling.HangupMessage))
}

func TestAcceptCall(t *testing.T) {
	t.Run("unknown call", func(t *testing.T) {
		env := setupManager(t)
		env.initialize(t, "bob")
		require.ErrorIs(t, env.m.AcceptCall(context.Background(), "nope"), ErrCallNotFound)
	})

	t.Run("outgoing call", func(t *testing.T) {
		env := setupManager(t)
		env.initialize(t, "alice")
		callID, err := env.m.StartCall(context.Background(), "bob", TypeAudio, nil)
		require.NoError(t, err)
		require.ErrorIs(t, env.m.AcceptCall(context.Background(), callID), ErrInvalidCallState)
	})

	t.Run("media failure", func(t *testing.T) {
		env := setupManager(t)
		env.initialize(t, "bob")
		require.NoError(t, env.m.HandleIncomingCall(context.Background(), IncomingCall{
			CallID:   "call1",
			From:     "alice",
			CallType: TypeAudio,
		}))

		env.tr.mediaErr = transport.ErrDeviceNotFound
		err := env.m.AcceptCall(context.Background(), "call1")
		require.ErrorIs(t, err, ErrMediaAccess)
		env.waitGone(t, "call1")

		s, d := env.rec.lastFailure()
		require.Equal(t, StateFailed, s.State)
		require.NotNil(t, d)
		require.Equal(t, recovery.MediaDeviceNotFound, d.Type)
		require.Len(t, env.ch.sentOfType(signaling.HangupMessage), 1)
	})

	t.Run("call ended while accepting", func(t *testing.T) {
		env := setupManager(t)
		env.initialize(t, "bob")
		require.NoError(t, env.m.HandleIncomingCall(context.Background(), IncomingCall{
			CallID:   "call1",
			From:     "alice",
			CallType: TypeVideo,
		}))

		var secondErr, endErr error
		env.tr.beforePeer = func() {
			secondErr = env.m.AcceptCall(context.Background(), "call1")
			endErr = env.m.EndCall(context.Background(), "call1")
		}

		err := env.m.AcceptCall(context.Background(), "call1")
		require.ErrorIs(t, err, ErrCallNotFound)
		require.ErrorIs(t, secondErr, ErrInvalidCallState)
		require.NoError(t, endErr)
		env.waitGone(t, "call1")

		peers := env.tr.getPeers()
		require.Len(t, peers, 1)
		require.True(t, peers[0].isClosed())
		tracks := env.tr.getTracks()
		require.Len(t, tracks, 2)
		for _, track := range tracks {
			require.True(t, track.isStopped())
		}
		require.Empty(t, env.ch.sentOfType(signaling.CallResponseMessage))
	})
}

func TestRejectCall(t *testing.T) {
	t.Run("local rejection", func(t *testing.T) {
		env := setupManager(t)
		env.initialize(t, "bob")
		require.NoError(t, env.m.HandleIncomingCall(context.Background(), IncomingCall{
			CallID:   "call1",
			From:     "alice",
			CallType: TypeAudio,
		}))

		require.NoError(t, env.m.RejectCall(context.Background(), "call1", ""))
		_, err := env.m.GetCallSession("call1")
		require.ErrorIs(t, err, ErrCallNotFound)

		resps := env.ch.sentOfType(signaling.CallResponseMessage)
		require.Len(t, resps, 1)
		var resp signaling.CallResponse
		require.NoError(t, resps[0].Decode(&resp))
		require.False(t, resp.Accepted)
		require.Equal(t, ReasonRejected, resp.Reason)

		require.Equal(t, 1, env.m.GetCallStats().RejectedCalls)
		require.ErrorIs(t, env.m.RejectCall(context.Background(), "call1", ""), ErrCallNotFound)
	})

	t.Run("outgoing call", func(t *testing.T) {
		env := setupManager(t)
		env.initialize(t, "alice")
		callID, err := env.m.StartCall(context.Background(), "bob", TypeAudio, nil)
		require.NoError(t, err)
		require.ErrorIs(t, env.m.RejectCall(context.Background(), callID, "nope"), ErrInvalidCallState)
	})

	t.Run("remote rejection", func(t *testing.T) {
		env := setupManager(t)
		env.initialize(t, "alice")
		callID, err := env.m.StartCall(context.Background(), "bob", TypeAudio, nil)
		require.NoError(t, err)

		env.ch.deliver(t, signaling.CallResponseMessage, "bob", callID, signaling.CallResponse{
			CallID:   callID,
			Accepted: false,
			Reason:   signaling.OfflineReason,
		})
		env.waitGone(t, callID)

		env.rec.mut.Lock()
		require.Len(t, env.rec.ended, 1)
		require.Equal(t, StateRejected, env.rec.ended[0].State)
		require.Equal(t, signaling.OfflineReason, env.rec.ended[0].Reason)
		env.rec.mut.Unlock()
		require.True(t, env.tr.peer(callID, "bob").isClosed())
	})

	t.Run("group member declines", func(t *testing.T) {
		env := setupManager(t)
		env.initialize(t, "alice")
		callID, err := env.m.StartCall(context.Background(), "", TypeAudio, &CallOptions{
			Participants: []string{"bob", "carol"},
		})
		require.NoError(t, err)

		env.ch.deliver(t, signaling.CallResponseMessage, "bob", callID, signaling.CallResponse{CallID: callID, Accepted: false})
		require.Eventually(t, func() bool {
			s, err := env.m.GetCallSession(callID)
			return err == nil && len(s.RemoteParticipants()) == 1
		}, waitFor, tick)

		env.ch.deliver(t, signaling.CallResponseMessage, "carol", callID, signaling.CallResponse{CallID: callID, Accepted: true})
		env.waitState(t, callID, StateConnecting)

		s, err := env.m.GetCallSession(callID)
		require.NoError(t, err)
		require.Equal(t, []string{"carol"}, s.RemoteParticipants())
	})
}

func TestBusy(t *testing.T) {
	env := setupManager(t)
	env.initialize(t, "bob")

	require.NoError(t, env.m.HandleIncomingCall(context.Background(), IncomingCall{
		CallID:   "call1",
		From:     "alice",
		CallType: TypeAudio,
	}))

	env.ch.deliver(t, signaling.CallRequestMessage, "carol", "call2", signaling.CallRequest{
		CallID:   "call2",
		CallType: "audio",
	})

	require.Eventually(t, func() bool {
		return len(env.ch.sentOfType(signaling.CallResponseMessage)) == 1
	}, waitFor, tick)

	msg := env.ch.sentOfType(signaling.CallResponseMessage)[0]
	require.Equal(t, "carol", msg.To)
	var resp signaling.CallResponse
	require.NoError(t, msg.Decode(&resp))
	require.False(t, resp.Accepted)
	require.Equal(t, ReasonBusy, resp.Reason)

	_, err := env.m.GetCallSession("call2")
	require.ErrorIs(t, err, ErrCallNotFound)
	incoming, _, _, _ := env.rec.counts()
	require.Equal(t, 1, incoming)
}

func TestIncomingFeatureDisabled(t *testing.T) {
	env := setupManager(t)
	env.initialize(t, "bob")
	env.provider.update(func(cfg *callconfig.Config) {
		cfg.EnableVoiceCall = false
	})

	err := env.m.HandleIncomingCall(context.Background(), IncomingCall{
		CallID:   "call1",
		From:     "alice",
		CallType: TypeAudio,
	})
	require.ErrorIs(t, err, ErrFeatureDisabled)

	resps := env.ch.sentOfType(signaling.CallResponseMessage)
	require.Len(t, resps, 1)
	var resp signaling.CallResponse
	require.NoError(t, resps[0].Decode(&resp))
	require.Equal(t, ReasonUnsupported, resp.Reason)
}

func TestCallTimeout(t *testing.T) {
	env := setupManager(t)
	env.initialize(t, "alice")
	env.provider.update(func(cfg *callconfig.Config) {
		cfg.CallTimeoutMs = 1000
	})

	callID, err := env.m.StartCall(context.Background(), "bob", TypeAudio, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, _, _, failed := env.rec.counts()
		return failed == 1
	}, 3*time.Second, tick)

	s, d := env.rec.lastFailure()
	require.Equal(t, callID, s.CallID)
	require.Equal(t, StateFailed, s.State)
	require.Equal(t, ReasonTimeout, s.Reason)
	require.NotNil(t, d)
	require.Equal(t, recovery.CallTimeout, d.Type)

	env.waitGone(t, callID)
	require.Equal(t, 1, env.m.GetCallStats().FailedCalls)
	require.Len(t, env.ch.sentOfType(signaling.HangupMessage), 1)
}

func TestTimeoutCancelledOnAnswer(t *testing.T) {
	env := setupManager(t)
	env.initialize(t, "alice")
	env.provider.update(func(cfg *callconfig.Config) {
		cfg.CallTimeoutMs = 1000
	})

	callID, err := env.m.StartCall(context.Background(), "bob", TypeAudio, nil)
	require.NoError(t, err)

	env.ch.deliver(t, signaling.CallResponseMessage, "bob", callID, signaling.CallResponse{CallID: callID, Accepted: true})
	env.waitState(t, callID, StateConnecting)

	time.Sleep(1500 * time.Millisecond)

	s, err := env.m.GetCallSession(callID)
	require.NoError(t, err)
	require.Equal(t, StateConnecting, s.State)
}

func TestCleanup(t *testing.T) {
	env := setupManager(t)
	env.initialize(t, "alice")
	env.provider.update(func(cfg *callconfig.Config) {
		cfg.CallTimeoutMs = 1000
	})

	callID, err := env.m.StartCall(context.Background(), "", TypeAudio, &CallOptions{
		Participants: []string{"bob", "carol"},
	})
	require.NoError(t, err)
	require.NoError(t, env.m.HandleIncomingCall(context.Background(), IncomingCall{
		CallID:   "call2",
		From:     "dave",
		CallType: TypeAudio,
	}))
	require.Len(t, env.m.GetActiveSessions(), 2)

	require.NoError(t, env.m.Cleanup(context.Background()))
	require.Zero(t, env.m.scheduler.Pending())
	require.Empty(t, env.m.GetActiveSessions())
	require.Empty(t, env.m.UserID())
	require.True(t, env.tr.peer(callID, "bob").isClosed())

	_, _, ended, _ := env.rec.counts()
	require.Equal(t, 2, ended)

	total := env.rec.total()
	time.Sleep(1500 * time.Millisecond)
	require.Equal(t, total, env.rec.total())

	_, err = env.m.StartCall(context.Background(), "bob", TypeAudio, nil)
	require.ErrorIs(t, err, ErrNotInitialized)

	// The manager can be initialized again.
	env.initialize(t, "alice")
	_, err = env.m.StartCall(context.Background(), "bob", TypeAudio, nil)
	require.NoError(t, err)
}

func TestMediaControls(t *testing.T) {
	env := setupManager(t)
	env.initialize(t, "alice")

	callID, err := env.m.StartCall(context.Background(), "bob", TypeVideo, nil)
	require.NoError(t, err)

	tracks := env.tr.getTracks()
	require.Len(t, tracks, 2)
	audio, video := tracks[0], tracks[1]

	t.Run("microphone", func(t *testing.T) {
		enabled, err := env.m.ToggleMicrophone(context.Background(), callID)
		require.NoError(t, err)
		require.False(t, enabled)
		require.False(t, audio.Enabled())

		s, err := env.m.GetCallSession(callID)
		require.NoError(t, err)
		local, _ := s.LocalParticipant()
		require.True(t, local.MediaState.MicMuted)

		enabled, err = env.m.ToggleMicrophone(context.Background(), callID)
		require.NoError(t, err)
		require.True(t, enabled)
		require.True(t, audio.Enabled())

		s, err = env.m.GetCallSession(callID)
		require.NoError(t, err)
		local, _ = s.LocalParticipant()
		require.False(t, local.MediaState.MicMuted)
	})

	t.Run("camera", func(t *testing.T) {
		enabled, err := env.m.ToggleCamera(context.Background(), callID)
		require.NoError(t, err)
		require.False(t, enabled)
		require.False(t, video.Enabled())
		require.True(t, audio.Enabled())

		enabled, err = env.m.ToggleCamera(context.Background(), callID)
		require.NoError(t, err)
		require.True(t, enabled)
		require.True(t, video.Enabled())
	})

	t.Run("speaker", func(t *testing.T) {
		enabled, err := env.m.ToggleSpeaker(context.Background(), callID)
		require.NoError(t, err)
		require.False(t, enabled)

		enabled, err = env.m.ToggleSpeaker(context.Background(), callID)
		require.NoError(t, err)
		require.True(t, enabled)
	})

	t.Run("unknown call", func(t *testing.T) {
		_, err := env.m.ToggleCamera(context.Background(), "nope")
		require.ErrorIs(t, err, ErrCallNotFound)
		_, err = env.m.ToggleSpeaker(context.Background(), "nope")
		require.ErrorIs(t, err, ErrCallNotFound)
	})

	t.Run("media released on end", func(t *testing.T) {
		require.NoError(t, env.m.EndCall(context.Background(), callID))
		require.True(t, audio.isStopped())
		require.True(t, video.isStopped())
	})
}

func TestScreenShare(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		env := setupManager(t)
		env.initialize(t, "alice")
		callID, err := env.m.StartCall(context.Background(), "bob", TypeAudio, nil)
		require.NoError(t, err)

		env.provider.update(func(cfg *callconfig.Config) {
			cfg.EnableScreenShare = false
		})
		require.ErrorIs(t, env.m.StartScreenShare(context.Background(), callID), ErrFeatureDisabled)
	})

	t.Run("capture rejected", func(t *testing.T) {
		env := setupManager(t)
		env.initialize(t, "alice")
		callID, err := env.m.StartCall(context.Background(), "bob", TypeAudio, nil)
		require.NoError(t, err)

		env.tr.displayErr = transport.ErrPermissionDenied
		err = env.m.StartScreenShare(context.Background(), callID)
		require.ErrorIs(t, err, ErrScreenShareFailed)
		require.Equal(t, recovery.ScreenShareError, lastError(t, env.engine).Type)

		s, err := env.m.GetCallSession(callID)
		require.NoError(t, err)
		local, _ := s.LocalParticipant()
		require.False(t, local.MediaState.ScreenSharing)
		require.Equal(t, StateInitiating, s.State)
	})

	t.Run("start and stop", func(t *testing.T) {
		env := setupManager(t)
		env.initialize(t, "alice")
		callID, err := env.m.StartCall(context.Background(), "bob", TypeAudio, nil)
		require.NoError(t, err)
		pc := env.tr.peer(callID, "bob")

		require.ErrorIs(t, env.m.StartScreenShare(context.Background(), "nope"), ErrCallNotFound)

		require.NoError(t, env.m.StartScreenShare(context.Background(), callID))
		_, _, _, streams := pc.counts()
		require.Equal(t, 2, streams)

		s, err := env.m.GetCallSession(callID)
		require.NoError(t, err)
		local, _ := s.LocalParticipant()
		require.True(t, local.MediaState.ScreenSharing)

		// Sharing twice is a no-op.
		require.NoError(t, env.m.StartScreenShare(context.Background(), callID))
		_, _, _, streams = pc.counts()
		require.Equal(t, 2, streams)

		require.NoError(t, env.m.StopScreenShare(context.Background(), callID))
		_, _, _, streams = pc.counts()
		require.Equal(t, 1, streams)

		s, err = env.m.GetCallSession(callID)
		require.NoError(t, err)
		local, _ = s.LocalParticipant()
		require.False(t, local.MediaState.ScreenSharing)
	})
}

func TestRecovery(t *testing.T) {
	t.Run("ice restart", func(t *testing.T) {
		env := setupManager(t)
		env.initialize(t, "alice")

		callID, err := env.m.StartCall(context.Background(), "bob", TypeAudio, nil)
		require.NoError(t, err)
		env.ch.deliver(t, signaling.CallResponseMessage, "bob", callID, signaling.CallResponse{CallID: callID, Accepted: true})
		env.ch.deliver(t, signaling.AnswerMessage, "bob", callID, signaling.SessionDescription{SDP: "answer"})
		env.tr.emit(transport.Event{
			Type:         transport.ConnectionStateEvent,
			CallID:       callID,
			RemoteUserID: "bob",
			State:        transport.ConnectionStateConnected,
		})
		env.waitState(t, callID, StateConnected)

		env.tr.emit(transport.Event{
			Type:         transport.ConnectionStateEvent,
			CallID:       callID,
			RemoteUserID: "bob",
			State:        transport.ConnectionStateFailed,
		})

		pc := env.tr.peer(callID, "bob")
		require.Eventually(t, func() bool {
			_, restarts, _, _ := pc.counts()
			return restarts >= 1
		}, waitFor, tick)

		d := lastError(t, env.engine)
		require.Equal(t, recovery.ICEConnectionFailed, d.Type)

		env.tr.emit(transport.Event{
			Type:         transport.ConnectionStateEvent,
			CallID:       callID,
			RemoteUserID: "bob",
			State:        transport.ConnectionStateConnected,
		})
		require.Eventually(t, func() bool {
			return env.engine.Stats().ResolvedErrors >= 1 && env.engine.PendingRetries() == 0
		}, waitFor, tick)

		s, err := env.m.GetCallSession(callID)
		require.NoError(t, err)
		require.Equal(t, StateConnected, s.State)
		_, _, _, failed := env.rec.counts()
		require.Zero(t, failed)
	})

	t.Run("signaling retries exhausted", func(t *testing.T) {
		env := setupManager(t)
		env.initialize(t, "alice")
		env.ch.setSendErr(errors.New("socket closed"))

		callID, err := env.m.StartCall(context.Background(), "bob", TypeAudio, nil)
		require.NoError(t, err)

		s, err := env.m.GetCallSession(callID)
		require.NoError(t, err)
		require.Equal(t, StateInitiating, s.State)

		require.Eventually(t, func() bool {
			_, _, _, failed := env.rec.counts()
			return failed == 1
		}, waitFor, tick)

		s, d := env.rec.lastFailure()
		require.Equal(t, callID, s.CallID)
		require.Equal(t, recovery.SignalingError, d.Type)
		env.waitGone(t, callID)
	})

	t.Run("signaling recovers", func(t *testing.T) {
		env := setupManager(t)
		env.initialize(t, "alice")
		env.ch.setSendErr(errors.New("socket closed"))

		callID, err := env.m.StartCall(context.Background(), "bob", TypeAudio, nil)
		require.NoError(t, err)
		env.ch.setSendErr(nil)

		require.Eventually(t, func() bool {
			return len(env.ch.sentOfType(signaling.CallRequestMessage)) == 1
		}, waitFor, tick)
		require.Eventually(t, func() bool {
			return env.engine.PendingRetries() == 0
		}, waitFor, tick)

		s, err := env.m.GetCallSession(callID)
		require.NoError(t, err)
		require.Equal(t, StateInitiating, s.State)
	})
}

func TestParkedEvents(t *testing.T) {
	t.Run("delivered once the call exists", func(t *testing.T) {
		env := setupManager(t)
		env.initialize(t, "bob")

		env.ch.deliver(t, signaling.HangupMessage, "alice", "call1", signaling.Hangup{CallID: "call1"})
		require.Eventually(t, func() bool {
			return env.m.coord.parkedCount("call1") == 1
		}, waitFor, tick)

		require.NoError(t, env.m.HandleIncomingCall(context.Background(), IncomingCall{
			CallID:   "call1",
			From:     "alice",
			CallType: TypeAudio,
		}))
		require.Zero(t, env.m.coord.parkedCount("call1"))
		env.waitGone(t, "call1")
	})

	t.Run("dropped after a while", func(t *testing.T) {
		env := setupManager(t, WithParkTimeout(50*time.Millisecond))
		env.initialize(t, "bob")

		env.ch.deliver(t, signaling.HangupMessage, "alice", "call1", signaling.Hangup{CallID: "call1"})
		require.Eventually(t, func() bool {
			return env.m.coord.parkedCount("call1") == 1
		}, waitFor, tick)
		require.Eventually(t, func() bool {
			return env.m.coord.parkedCount("call1") == 0
		}, waitFor, tick)

		require.NoError(t, env.m.HandleIncomingCall(context.Background(), IncomingCall{
			CallID:   "call1",
			From:     "alice",
			CallType: TypeAudio,
		}))
		time.Sleep(100 * time.Millisecond)
		env.waitState(t, "call1", StateRinging)
	})
}

func TestCallHistory(t *testing.T) {
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	defer st.Close()

	history, err := NewHistoryStore(st)
	require.NoError(t, err)

	env := setupManager(t, WithHistoryStore(history))
	env.initialize(t, "alice")

	records, err := env.m.GetCallHistory(10)
	require.NoError(t, err)
	require.Empty(t, records)

	first, err := env.m.StartCall(context.Background(), "bob", TypeAudio, nil)
	require.NoError(t, err)
	require.NoError(t, env.m.EndCall(context.Background(), first))

	second, err := env.m.StartCall(context.Background(), "carol", TypeVideo, nil)
	require.NoError(t, err)
	require.NoError(t, env.m.EndCall(context.Background(), second))

	records, err = env.m.GetCallHistory(10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, second, records[0].CallID)
	require.Equal(t, TypeVideo, records[0].CallType)
	require.Equal(t, StateEnded, records[0].State)
	require.Equal(t, ReasonLocalHangup, records[0].Reason)
	require.Equal(t, []string{"alice", "carol"}, records[0].Participants)
	require.Equal(t, first, records[1].CallID)

	records, err = env.m.GetCallHistory(1)
	require.NoError(t, err)
	require.Len(t, records, 1)
}
