// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/mattermost/callcore/service/random"

	"github.com/mattermost/mattermost/server/public/shared/mlog"

	"github.com/pion/ice/v4"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

const eventChSize = 256

type Option func(t *PionTransport) error

func WithMetrics(metrics Metrics) Option {
	return func(t *PionTransport) error {
		if metrics == nil {
			return fmt.Errorf("invalid metrics value: should not be nil")
		}
		t.metrics = metrics
		return nil
	}
}

// PionTransport implements Transport on top of pion/webrtc. All the peer
// connections it creates share a single UDP socket when ICEPortUDP is set.
type PionTransport struct {
	cfg     Config
	log     mlog.LoggerIFace
	metrics Metrics

	mut      sync.RWMutex
	started  bool
	api      *webrtc.API
	udpConn  *net.UDPConn
	udpMux   ice.UDPMux
	publicIP string
	eventCh  chan Event
	peers    map[*pionPeer]struct{}
}

func NewPionTransport(cfg Config, log mlog.LoggerIFace, opts ...Option) (*PionTransport, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}

	if log == nil {
		return nil, fmt.Errorf("invalid log value: should not be nil")
	}

	t := &PionTransport{
		cfg:     cfg,
		log:     log,
		metrics: noopMetrics{},
		eventCh: make(chan Event),
		peers:   map[*pionPeer]struct{}{},
	}
	close(t.eventCh)

	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	return t, nil
}

func (t *PionTransport) Start(ctx context.Context) error {
	t.mut.Lock()
	defer t.mut.Unlock()

	if t.started {
		return fmt.Errorf("transport is already started")
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	ips, err := localAddrs(t.log, t.cfg.EnableIPv6)
	if err != nil {
		t.log.Warn("transport: failed to list local addresses", mlog.Err(err))
	} else {
		t.log.Debug("transport: local addresses", mlog.Any("ips", ips))
		if err := checkListenAddr(t.cfg.ICEAddressUDP, ips); err != nil {
			return fmt.Errorf("invalid ICEAddressUDP: %w", err)
		}
	}

	if t.cfg.ICEPortUDP > 0 {
		addr := net.JoinHostPort(t.cfg.ICEAddressUDP, strconv.Itoa(t.cfg.ICEPortUDP))
		conn, err := listenUDP(ctx, t.log, addr)
		if err != nil {
			return fmt.Errorf("failed to create udp socket: %w", err)
		}
		t.udpConn = conn
	}

	t.publicIP = t.cfg.ICEHostOverride
	if t.publicIP == "" && t.cfg.DiscoverPublicIP {
		ip, err := t.discoverPublicIP()
		if err != nil {
			t.log.Warn("transport: failed to discover public address", mlog.Err(err))
		} else {
			t.log.Info("transport: discovered public address", mlog.String("addr", ip))
			t.publicIP = ip
		}
	}

	if t.udpConn != nil {
		t.udpMux = webrtc.NewICEUDPMux(t.NewLogger("udpmux"), t.udpConn)
	}

	api, err := t.newAPI()
	if err != nil {
		t.closeSocket()
		return fmt.Errorf("failed to create webrtc api: %w", err)
	}
	t.api = api

	t.eventCh = make(chan Event, eventChSize)
	t.started = true

	return nil
}

// discoverPublicIP runs the STUN binding request on the shared socket so the
// mapping matches the one peers will see.
func (t *PionTransport) discoverPublicIP() (string, error) {
	conn := t.udpConn
	if conn == nil {
		var err error
		conn, err = net.ListenUDP("udp4", nil)
		if err != nil {
			return "", fmt.Errorf("failed to listen on udp: %w", err)
		}
		defer conn.Close()
	}
	return getPublicIP(conn, t.cfg.ICEServers.stunURLs())
}

func (t *PionTransport) newAPI() (*webrtc.API, error) {
	var m webrtc.MediaEngine
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	var i interceptor.Registry
	if err := webrtc.RegisterDefaultInterceptors(&m, &i); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	sEngine := webrtc.SettingEngine{
		LoggerFactory: t,
	}
	sEngine.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	networkTypes := []webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
	}
	if t.cfg.EnableIPv6 {
		networkTypes = append(networkTypes, webrtc.NetworkTypeUDP6)
	}
	sEngine.SetNetworkTypes(networkTypes)
	sEngine.SetIncludeLoopbackCandidate(true)
	if t.udpMux != nil {
		sEngine.SetICEUDPMux(t.udpMux)
	}
	if t.publicIP != "" {
		sEngine.SetNAT1To1IPs([]string{t.publicIP}, webrtc.ICECandidateTypeHost)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(&m),
		webrtc.WithSettingEngine(sEngine),
		webrtc.WithInterceptorRegistry(&i),
	), nil
}

func (t *PionTransport) closeSocket() {
	if t.udpMux != nil {
		if err := t.udpMux.Close(); err != nil {
			t.log.Warn("transport: failed to close udp mux", mlog.Err(err))
		}
		t.udpMux = nil
	}
	if t.udpConn != nil {
		if err := t.udpConn.Close(); err != nil {
			t.log.Warn("transport: failed to close udp socket", mlog.Err(err))
		}
		t.udpConn = nil
	}
}

func (t *PionTransport) GetUserMedia(ctx context.Context, c MediaConstraints) (*Stream, error) {
	if !t.isStarted() {
		return nil, ErrInvalidState
	}

	if !c.Audio && !c.Video {
		return nil, fmt.Errorf("at least one of audio or video should be requested: %w", ErrNotSupported)
	}

	if ctx.Err() != nil {
		return nil, ErrCaptureAborted
	}

	if c.Video && !t.cfg.EnableVideoSource {
		return nil, ErrDeviceNotFound
	}

	streamID := random.NewID()
	var tracks []Track
	if c.Audio {
		track, err := newLocalTrack(AudioTrack, random.NewID(), streamID, t.metrics)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, track)
	}
	if c.Video {
		track, err := newLocalTrack(VideoTrack, random.NewID(), streamID, t.metrics)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, track)
	}

	return NewStream(streamID, tracks...), nil
}

func (t *PionTransport) GetDisplayMedia(ctx context.Context) (*Stream, error) {
	if !t.isStarted() {
		return nil, ErrInvalidState
	}

	if ctx.Err() != nil {
		return nil, ErrCaptureAborted
	}

	if !t.cfg.EnableScreenSource {
		return nil, ErrNotSupported
	}

	streamID := random.NewID()
	track, err := newLocalTrack(VideoTrack, random.NewID(), streamID, t.metrics)
	if err != nil {
		return nil, err
	}

	return NewStream(streamID, track), nil
}

func (t *PionTransport) CreatePeerConnection(ctx context.Context, cfg PeerConfig, s *Stream) (PeerConnection, error) {
	if cfg.CallID == "" {
		return nil, fmt.Errorf("invalid CallID value: should not be empty")
	}

	if cfg.RemoteUserID == "" {
		return nil, fmt.Errorf("invalid RemoteUserID value: should not be empty")
	}

	t.mut.Lock()
	defer t.mut.Unlock()

	if !t.started {
		return nil, ErrInvalidState
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	servers, err := t.cfg.iceServersFor(cfg.RemoteUserID)
	if err != nil {
		return nil, err
	}
	iceServers := make([]webrtc.ICEServer, 0, len(servers))
	for _, srv := range servers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       srv.URLs,
			Username:   srv.Username,
			Credential: srv.Credential,
		})
	}

	pc, err := t.api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   iceServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	p := newPionPeer(t, cfg, pc)
	if s != nil {
		if err := p.AddStream(s); err != nil {
			_ = pc.Close()
			return nil, err
		}
	}
	t.peers[p] = struct{}{}

	return p, nil
}

func (t *PionTransport) EventCh() <-chan Event {
	t.mut.RLock()
	defer t.mut.RUnlock()
	return t.eventCh
}

// Close closes every peer connection and the events channel. The transport
// can be started again afterwards.
func (t *PionTransport) Close() error {
	t.mut.Lock()
	if !t.started {
		t.mut.Unlock()
		return nil
	}
	t.started = false
	peers := make([]*pionPeer, 0, len(t.peers))
	for p := range t.peers {
		peers = append(peers, p)
	}
	t.mut.Unlock()

	for _, p := range peers {
		if err := p.Close(); err != nil {
			t.log.Warn("transport: failed to close peer connection", mlog.Err(err), mlog.String("callID", p.cfg.CallID))
		}
	}

	t.mut.Lock()
	defer t.mut.Unlock()
	t.closeSocket()
	t.api = nil
	close(t.eventCh)

	return nil
}

func (t *PionTransport) isStarted() bool {
	t.mut.RLock()
	defer t.mut.RUnlock()
	return t.started
}

func (t *PionTransport) removePeer(p *pionPeer) {
	t.mut.Lock()
	defer t.mut.Unlock()
	delete(t.peers, p)
}

func (t *PionTransport) emit(ev Event) {
	t.mut.RLock()
	defer t.mut.RUnlock()

	if !t.started {
		return
	}

	select {
	case t.eventCh <- ev:
	default:
		t.log.Error("transport: failed to send event: channel is full",
			mlog.String("callID", ev.CallID), mlog.Int("type", int(ev.Type)))
	}
}
