// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package call

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mattermost/callcore/service/callconfig"
	"github.com/mattermost/callcore/service/recovery"
	"github.com/mattermost/callcore/service/signaling"
	"github.com/mattermost/callcore/service/transport"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

type fakeTrack struct {
	id      string
	kind    transport.TrackKind
	mut     sync.Mutex
	enabled bool
	stopped bool
}

func (t *fakeTrack) ID() string                { return t.id }
func (t *fakeTrack) Kind() transport.TrackKind { return t.kind }

func (t *fakeTrack) Enabled() bool {
	t.mut.Lock()
	defer t.mut.Unlock()
	return t.enabled && !t.stopped
}

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mut.Lock()
	defer t.mut.Unlock()
	t.enabled = enabled
}

func (t *fakeTrack) Stop() {
	t.mut.Lock()
	defer t.mut.Unlock()
	t.stopped = true
}

func (t *fakeTrack) isStopped() bool {
	t.mut.Lock()
	defer t.mut.Unlock()
	return t.stopped
}

type fakePeer struct {
	cfg transport.PeerConfig

	mut         sync.Mutex
	remote      *transport.SessionDescription
	candidates  []transport.ICECandidate
	streams     []*transport.Stream
	offers      int
	iceRestarts int
	closed      bool
	offerErr    error
	addErr      error
}

func (p *fakePeer) CreateOffer(_ context.Context, iceRestart bool) (transport.SessionDescription, error) {
	p.mut.Lock()
	defer p.mut.Unlock()
	if p.offerErr != nil {
		return transport.SessionDescription{}, p.offerErr
	}
	p.offers++
	if iceRestart {
		p.iceRestarts++
	}
	return transport.SessionDescription{Type: transport.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", p.offers)}, nil
}

func (p *fakePeer) CreateAnswer(_ context.Context) (transport.SessionDescription, error) {
	return transport.SessionDescription{Type: transport.SDPTypeAnswer, SDP: "answer"}, nil
}

func (p *fakePeer) SetRemoteDescription(_ context.Context, desc transport.SessionDescription) error {
	p.mut.Lock()
	defer p.mut.Unlock()
	p.remote = &desc
	return nil
}

func (p *fakePeer) HasRemoteDescription() bool {
	p.mut.Lock()
	defer p.mut.Unlock()
	return p.remote != nil
}

func (p *fakePeer) AddICECandidate(c transport.ICECandidate) error {
	p.mut.Lock()
	defer p.mut.Unlock()
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) AddStream(s *transport.Stream) error {
	p.mut.Lock()
	defer p.mut.Unlock()
	if p.addErr != nil {
		return p.addErr
	}
	p.streams = append(p.streams, s)
	return nil
}

func (p *fakePeer) RemoveStream(s *transport.Stream) error {
	p.mut.Lock()
	defer p.mut.Unlock()
	for i, st := range p.streams {
		if st == s {
			p.streams = append(p.streams[:i], p.streams[i+1:]...)
			break
		}
	}
	return nil
}

func (p *fakePeer) Close() error {
	p.mut.Lock()
	defer p.mut.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) isClosed() bool {
	p.mut.Lock()
	defer p.mut.Unlock()
	return p.closed
}

func (p *fakePeer) counts() (offers, iceRestarts, candidates, streams int) {
	p.mut.Lock()
	defer p.mut.Unlock()
	return p.offers, p.iceRestarts, len(p.candidates), len(p.streams)
}

type fakeTransport struct {
	mut         sync.Mutex
	started     bool
	startErr    error
	mediaErr    error
	displayErr  error
	peerErr     error
	beforePeer  func()
	constraints []transport.MediaConstraints
	tracks      []*fakeTrack
	peers       []*fakePeer
	eventCh     chan transport.Event
}

func (t *fakeTransport) Start(_ context.Context) error {
	t.mut.Lock()
	defer t.mut.Unlock()
	if t.startErr != nil {
		return t.startErr
	}
	t.started = true
	t.eventCh = make(chan transport.Event, 64)
	return nil
}

func (t *fakeTransport) newTrack(kind transport.TrackKind) *fakeTrack {
	tr := &fakeTrack{id: fmt.Sprintf("%s-%d", kind, len(t.tracks)), kind: kind, enabled: true}
	t.tracks = append(t.tracks, tr)
	return tr
}

func (t *fakeTransport) GetUserMedia(_ context.Context, c transport.MediaConstraints) (*transport.Stream, error) {
	t.mut.Lock()
	defer t.mut.Unlock()
	t.constraints = append(t.constraints, c)
	if t.mediaErr != nil {
		return nil, t.mediaErr
	}
	var tracks []transport.Track
	if c.Audio {
		tracks = append(tracks, t.newTrack(transport.AudioTrack))
	}
	if c.Video {
		tracks = append(tracks, t.newTrack(transport.VideoTrack))
	}
	return transport.NewStream("local", tracks...), nil
}

func (t *fakeTransport) GetDisplayMedia(_ context.Context) (*transport.Stream, error) {
	t.mut.Lock()
	defer t.mut.Unlock()
	if t.displayErr != nil {
		return nil, t.displayErr
	}
	return transport.NewStream("screen", t.newTrack(transport.VideoTrack)), nil
}

func (t *fakeTransport) CreatePeerConnection(_ context.Context, cfg transport.PeerConfig, s *transport.Stream) (transport.PeerConnection, error) {
	t.mut.Lock()
	hook := t.beforePeer
	t.mut.Unlock()
	if hook != nil {
		hook()
	}

	t.mut.Lock()
	defer t.mut.Unlock()
	if t.peerErr != nil {
		return nil, t.peerErr
	}
	p := &fakePeer{cfg: cfg, streams: []*transport.Stream{s}}
	t.peers = append(t.peers, p)
	return p, nil
}

func (t *fakeTransport) EventCh() <-chan transport.Event {
	t.mut.Lock()
	defer t.mut.Unlock()
	return t.eventCh
}

func (t *fakeTransport) Close() error {
	t.mut.Lock()
	defer t.mut.Unlock()
	if t.started {
		t.started = false
		close(t.eventCh)
	}
	return nil
}

func (t *fakeTransport) emit(ev transport.Event) {
	t.mut.Lock()
	ch := t.eventCh
	t.mut.Unlock()
	ch <- ev
}

func (t *fakeTransport) peer(callID, remoteUserID string) *fakePeer {
	t.mut.Lock()
	defer t.mut.Unlock()
	for _, p := range t.peers {
		if p.cfg.CallID == callID && p.cfg.RemoteUserID == remoteUserID {
			return p
		}
	}
	return nil
}

func (t *fakeTransport) getConstraints() []transport.MediaConstraints {
	t.mut.Lock()
	defer t.mut.Unlock()
	return append([]transport.MediaConstraints(nil), t.constraints...)
}

func (t *fakeTransport) getTracks() []*fakeTrack {
	t.mut.Lock()
	defer t.mut.Unlock()
	return append([]*fakeTrack(nil), t.tracks...)
}

func (t *fakeTransport) getPeers() []*fakePeer {
	t.mut.Lock()
	defer t.mut.Unlock()
	return append([]*fakePeer(nil), t.peers...)
}

type fakeChannel struct {
	mut        sync.Mutex
	userID     string
	connectErr error
	sendErr    error
	sent       []signaling.Message
	receiveCh  chan signaling.Message
	closed     bool
}

func (c *fakeChannel) Connect(_ context.Context, userID string) error {
	c.mut.Lock()
	defer c.mut.Unlock()
	if c.connectErr != nil {
		return c.connectErr
	}
	c.userID = userID
	c.closed = false
	c.receiveCh = make(chan signaling.Message, 64)
	return nil
}

func (c *fakeChannel) Send(_ context.Context, msg signaling.Message) error {
	c.mut.Lock()
	defer c.mut.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeChannel) ReceiveCh() <-chan signaling.Message {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.receiveCh
}

func (c *fakeChannel) Close() error {
	c.mut.Lock()
	defer c.mut.Unlock()
	if !c.closed && c.receiveCh != nil {
		c.closed = true
		close(c.receiveCh)
	}
	return nil
}

func (c *fakeChannel) setSendErr(err error) {
	c.mut.Lock()
	defer c.mut.Unlock()
	c.sendErr = err
}

func (c *fakeChannel) deliver(t *testing.T, msgType signaling.MessageType, from, callID string, payload any) {
	t.Helper()
	c.mut.Lock()
	to := c.userID
	ch := c.receiveCh
	c.mut.Unlock()

	msg, err := signaling.NewMessage(msgType, from, to, callID, payload)
	require.NoError(t, err)
	ch <- msg
}

func (c *fakeChannel) sentOfType(msgType signaling.MessageType) []signaling.Message {
	c.mut.Lock()
	defer c.mut.Unlock()
	var msgs []signaling.Message
	for _, msg := range c.sent {
		if msg.Type == msgType {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

type testProvider struct {
	mut sync.Mutex
	cfg callconfig.Config
}

func (p *testProvider) Get() callconfig.Config {
	p.mut.Lock()
	defer p.mut.Unlock()
	return p.cfg
}

func (p *testProvider) update(fn func(cfg *callconfig.Config)) {
	p.mut.Lock()
	defer p.mut.Unlock()
	fn(&p.cfg)
}

type eventRecorder struct {
	mut      sync.Mutex
	incoming []Session
	changes  []State
	started  []Session
	ended    []Session
	failed   []Session
	errors   []*recovery.ErrorDetails
	streams  []string
}

func (r *eventRecorder) listeners() Listeners {
	return Listeners{
		OnIncomingCall: func(s Session) {
			r.mut.Lock()
			defer r.mut.Unlock()
			r.incoming = append(r.incoming, s)
		},
		OnCallStateChanged: func(s Session, _ State) {
			r.mut.Lock()
			defer r.mut.Unlock()
			r.changes = append(r.changes, s.State)
		},
		OnCallStarted: func(s Session) {
			r.mut.Lock()
			defer r.mut.Unlock()
			r.started = append(r.started, s)
		},
		OnCallEnded: func(s Session) {
			r.mut.Lock()
			defer r.mut.Unlock()
			r.ended = append(r.ended, s)
		},
		OnCallFailed: func(s Session, d *recovery.ErrorDetails) {
			r.mut.Lock()
			defer r.mut.Unlock()
			r.failed = append(r.failed, s)
			r.errors = append(r.errors, d)
		},
		OnRemoteStream: func(_ Session, userID string, _ transport.RemoteTrack) {
			r.mut.Lock()
			defer r.mut.Unlock()
			r.streams = append(r.streams, userID)
		},
	}
}

func (r *eventRecorder) counts() (incoming, started, ended, failed int) {
	r.mut.Lock()
	defer r.mut.Unlock()
	return len(r.incoming), len(r.started), len(r.ended), len(r.failed)
}

func (r *eventRecorder) total() int {
	r.mut.Lock()
	defer r.mut.Unlock()
	return len(r.incoming) + len(r.changes) + len(r.started) + len(r.ended) + len(r.failed) + len(r.streams)
}

func (r *eventRecorder) lastFailure() (Session, *recovery.ErrorDetails) {
	r.mut.Lock()
	defer r.mut.Unlock()
	if len(r.failed) == 0 {
		return Session{}, nil
	}
	return r.failed[len(r.failed)-1], r.errors[len(r.errors)-1]
}

func (r *eventRecorder) states() []State {
	r.mut.Lock()
	defer r.mut.Unlock()
	return append([]State(nil), r.changes...)
}

type testEnv struct {
	m        *Manager
	tr       *fakeTransport
	ch       *fakeChannel
	provider *testProvider
	engine   *recovery.Engine
	rec      *eventRecorder
}

func setupManager(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	log, err := mlog.NewLogger()
	require.NoError(t, err)

	var cfg callconfig.Config
	cfg.SetDefaults()
	provider := &testProvider{cfg: cfg}

	var engineCfg recovery.Config
	engineCfg.SetDefaults()
	engine, err := recovery.NewEngine(engineCfg, log, recovery.WithRetryDelay(20*time.Millisecond))
	require.NoError(t, err)

	env := &testEnv{
		tr:       &fakeTransport{},
		ch:       &fakeChannel{},
		provider: provider,
		engine:   engine,
		rec:      &eventRecorder{},
	}

	env.m, err = NewManager(ManagerConfig{
		Transport: env.tr,
		Channel:   env.ch,
		Config:    provider,
		Engine:    engine,
		Logger:    log,
	}, opts...)
	require.NoError(t, err)
	env.m.AddEventListener(env.rec.listeners())

	t.Cleanup(func() {
		require.NoError(t, env.m.Cleanup(context.Background()))
		engine.Stop()
		require.NoError(t, log.Shutdown())
	})

	return env
}

func (env *testEnv) initialize(t *testing.T, userID string) {
	t.Helper()
	require.NoError(t, env.m.Initialize(context.Background(), userID, userID+"-name"))
}

func (env *testEnv) waitState(t *testing.T, callID string, state State) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, err := env.m.GetCallSession(callID)
		return err == nil && s.State == state
	}, waitFor, tick)
}

func (env *testEnv) waitGone(t *testing.T, callID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, err := env.m.GetCallSession(callID)
		return err != nil
	}, waitFor, tick)
}
