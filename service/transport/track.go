// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package transport

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

var (
	audioCodec = webrtc.RTPCodecCapability{
		MimeType:    webrtc.MimeTypeOpus,
		ClockRate:   48000,
		Channels:    2,
		SDPFmtpLine: "minptime=10;useinbandfec=1",
	}
	videoCodec = webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: 90000,
	}
)

// LocalTrack is a local track backed by a pion sample track. Samples written
// while the track is disabled or stopped are dropped.
type LocalTrack struct {
	kind    TrackKind
	track   *webrtc.TrackLocalStaticSample
	metrics Metrics

	mut     sync.RWMutex
	enabled bool
	stopped bool
}

func newLocalTrack(kind TrackKind, id, streamID string, metrics Metrics) (*LocalTrack, error) {
	codec := audioCodec
	if kind == VideoTrack {
		codec = videoCodec
	}

	track, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s track: %w", kind, err)
	}

	return &LocalTrack{
		kind:    kind,
		track:   track,
		metrics: metrics,
		enabled: true,
	}, nil
}

func (t *LocalTrack) ID() string {
	return t.track.ID()
}

func (t *LocalTrack) Kind() TrackKind {
	return t.kind
}

func (t *LocalTrack) Enabled() bool {
	t.mut.RLock()
	defer t.mut.RUnlock()
	return t.enabled && !t.stopped
}

func (t *LocalTrack) SetEnabled(enabled bool) {
	t.mut.Lock()
	defer t.mut.Unlock()
	t.enabled = enabled
}

func (t *LocalTrack) Stop() {
	t.mut.Lock()
	defer t.mut.Unlock()
	t.stopped = true
}

func (t *LocalTrack) Stopped() bool {
	t.mut.RLock()
	defer t.mut.RUnlock()
	return t.stopped
}

// WriteSample pushes a media sample to every peer the track was added to.
func (t *LocalTrack) WriteSample(s media.Sample) error {
	if !t.Enabled() {
		return nil
	}

	if err := t.track.WriteSample(s); err != nil {
		return fmt.Errorf("failed to write sample: %w", err)
	}

	t.metrics.IncRTPPackets("out", string(t.kind))
	t.metrics.AddRTPPacketBytes("out", string(t.kind), len(s.Data))

	return nil
}

type remoteTrack struct {
	track *webrtc.TrackRemote
}

func (t *remoteTrack) ID() string {
	return t.track.ID()
}

func (t *remoteTrack) StreamID() string {
	return t.track.StreamID()
}

func (t *remoteTrack) Kind() TrackKind {
	if t.track.Kind() == webrtc.RTPCodecTypeVideo {
		return VideoTrack
	}
	return AudioTrack
}
