// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/mattermost/mattermost/server/public/shared/mlog"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

const receiveMTU = 1460

type pionPeer struct {
	t   *PionTransport
	cfg PeerConfig
	pc  *webrtc.PeerConnection
	log mlog.LoggerIFace

	mut     sync.Mutex
	senders map[string][]*webrtc.RTPSender
	closed  bool
}

func newPionPeer(t *PionTransport, cfg PeerConfig, pc *webrtc.PeerConnection) *pionPeer {
	p := &pionPeer{
		t:       t,
		cfg:     cfg,
		pc:      pc,
		log:     t.log,
		senders: map[string][]*webrtc.RTPSender{},
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			p.log.Debug("ice gathering complete", mlog.String("callID", cfg.CallID))
			return
		}
		cand := c.ToJSON()
		t.emit(Event{
			Type:         ICECandidateEvent,
			CallID:       cfg.CallID,
			RemoteUserID: cfg.RemoteUserID,
			Candidate: &ICECandidate{
				Candidate:     cand.Candidate,
				SDPMid:        cand.SDPMid,
				SDPMLineIndex: cand.SDPMLineIndex,
			},
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s := connStateFromPion(state)
		t.metrics.IncRTCConnState(s.String())
		p.log.Debug("peer connection state change",
			mlog.String("callID", cfg.CallID),
			mlog.String("remoteUserID", cfg.RemoteUserID),
			mlog.String("state", s.String()))
		t.emit(Event{
			Type:         ConnectionStateEvent,
			CallID:       cfg.CallID,
			RemoteUserID: cfg.RemoteUserID,
			State:        s,
		})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.log.Debug("received remote track",
			mlog.String("callID", cfg.CallID),
			mlog.String("trackID", track.ID()),
			mlog.String("kind", track.Kind().String()))

		if track.Kind() == webrtc.RTPCodecTypeVideo {
			if err := pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}}); err != nil {
				p.log.Warn("failed to request keyframe", mlog.Err(err), mlog.String("callID", cfg.CallID))
			}
		}

		t.emit(Event{
			Type:         TrackEvent,
			CallID:       cfg.CallID,
			RemoteUserID: cfg.RemoteUserID,
			Track:        &remoteTrack{track: track},
		})

		go p.readTrack(track)
	})

	return p
}

// readTrack drains the remote track, accounting for every received packet.
func (p *pionPeer) readTrack(track *webrtc.TrackRemote) {
	kind := track.Kind().String()
	buf := make([]byte, receiveMTU)
	var pkt rtp.Packet
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.log.Debug("failed to read from remote track", mlog.Err(err), mlog.String("callID", p.cfg.CallID))
			}
			return
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			p.log.Debug("failed to unmarshal rtp packet", mlog.Err(err))
			continue
		}
		p.t.metrics.IncRTPPackets("in", kind)
		p.t.metrics.AddRTPPacketBytes("in", kind, len(pkt.Payload))
	}
}

// readRTCP drains sender feedback so interceptors keep working. Keyframe
// requests are only logged since samples come from the application.
func (p *pionPeer) readRTCP(sender *webrtc.RTPSender, trackID string) {
	buf := make([]byte, receiveMTU)
	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}
		pkts, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		for _, pkt := range pkts {
			if _, ok := pkt.(*rtcp.PictureLossIndication); ok {
				p.log.Trace("received PLI", mlog.String("callID", p.cfg.CallID), mlog.String("trackID", trackID))
			}
		}
	}
}

func (p *pionPeer) CreateOffer(_ context.Context, iceRestart bool) (SessionDescription, error) {
	offer, err := p.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: iceRestart})
	if err != nil {
		return SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}
	return SessionDescription{Type: SDPTypeOffer, SDP: offer.SDP}, nil
}

func (p *pionPeer) CreateAnswer(_ context.Context) (SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}
	return SessionDescription{Type: SDPTypeAnswer, SDP: answer.SDP}, nil
}

func (p *pionPeer) SetRemoteDescription(_ context.Context, desc SessionDescription) error {
	var sdpType webrtc.SDPType
	switch desc.Type {
	case SDPTypeOffer:
		sdpType = webrtc.SDPTypeOffer
	case SDPTypeAnswer:
		sdpType = webrtc.SDPTypeAnswer
	default:
		return fmt.Errorf("invalid sdp type %q", desc.Type)
	}

	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: desc.SDP}); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	return nil
}

func (p *pionPeer) HasRemoteDescription() bool {
	return p.pc.RemoteDescription() != nil
}

func (p *pionPeer) AddICECandidate(c ICECandidate) error {
	if err := p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}); err != nil {
		return fmt.Errorf("failed to add ice candidate: %w", err)
	}
	return nil
}

func (p *pionPeer) AddStream(s *Stream) error {
	p.mut.Lock()
	defer p.mut.Unlock()

	if p.closed {
		return fmt.Errorf("peer connection is closed")
	}

	if _, ok := p.senders[s.ID()]; ok {
		return nil
	}

	var senders []*webrtc.RTPSender
	for _, track := range s.Tracks() {
		lt, ok := track.(*LocalTrack)
		if !ok {
			return fmt.Errorf("unsupported track type %T", track)
		}
		sender, err := p.pc.AddTrack(lt.track)
		if err != nil {
			return fmt.Errorf("failed to add track: %w", err)
		}
		senders = append(senders, sender)
		go p.readRTCP(sender, lt.ID())
	}
	p.senders[s.ID()] = senders

	return nil
}

func (p *pionPeer) RemoveStream(s *Stream) error {
	p.mut.Lock()
	defer p.mut.Unlock()

	senders, ok := p.senders[s.ID()]
	if !ok {
		return nil
	}
	delete(p.senders, s.ID())

	if p.closed {
		return nil
	}

	for _, sender := range senders {
		if err := p.pc.RemoveTrack(sender); err != nil {
			return fmt.Errorf("failed to remove track: %w", err)
		}
	}

	return nil
}

func (p *pionPeer) Close() error {
	p.mut.Lock()
	if p.closed {
		p.mut.Unlock()
		return nil
	}
	p.closed = true
	p.mut.Unlock()

	p.t.removePeer(p)

	if err := p.pc.Close(); err != nil {
		return fmt.Errorf("failed to close peer connection: %w", err)
	}

	return nil
}

func connStateFromPion(state webrtc.PeerConnectionState) ConnectionState {
	switch state {
	case webrtc.PeerConnectionStateConnecting:
		return ConnectionStateConnecting
	case webrtc.PeerConnectionStateConnected:
		return ConnectionStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return ConnectionStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return ConnectionStateFailed
	case webrtc.PeerConnectionStateClosed:
		return ConnectionStateClosed
	default:
		return ConnectionStateNew
	}
}
