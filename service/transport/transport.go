// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package transport abstracts local media capture and peer connections.
package transport

import (
	"context"
	"sync"
)

type TrackKind string

const (
	AudioTrack TrackKind = "audio"
	VideoTrack TrackKind = "video"
)

// MediaConstraints selects the tracks GetUserMedia captures.
type MediaConstraints struct {
	Audio bool
	Video bool
}

// Track is a local media track.
type Track interface {
	ID() string
	Kind() TrackKind
	Enabled() bool
	// SetEnabled mutes or unmutes the track without releasing the source.
	SetEnabled(enabled bool)
	// Stop releases the source. A stopped track can't be restarted.
	Stop()
}

// RemoteTrack is a track received from a peer.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() TrackKind
}

// Stream groups local tracks captured together.
type Stream struct {
	id     string
	mut    sync.RWMutex
	tracks []Track
}

func NewStream(id string, tracks ...Track) *Stream {
	return &Stream{
		id:     id,
		tracks: tracks,
	}
}

func (s *Stream) ID() string {
	return s.id
}

func (s *Stream) Tracks() []Track {
	s.mut.RLock()
	defer s.mut.RUnlock()
	tracks := make([]Track, len(s.tracks))
	copy(tracks, s.tracks)
	return tracks
}

func (s *Stream) tracksOfKind(kind TrackKind) []Track {
	s.mut.RLock()
	defer s.mut.RUnlock()
	var tracks []Track
	for _, t := range s.tracks {
		if t.Kind() == kind {
			tracks = append(tracks, t)
		}
	}
	return tracks
}

func (s *Stream) AudioTracks() []Track {
	return s.tracksOfKind(AudioTrack)
}

func (s *Stream) VideoTracks() []Track {
	return s.tracksOfKind(VideoTrack)
}

// Stop stops every track of the stream.
func (s *Stream) Stop() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

type SDPType string

const (
	SDPTypeOffer  SDPType = "offer"
	SDPTypeAnswer SDPType = "answer"
)

type SessionDescription struct {
	Type SDPType
	SDP  string
}

type ICECandidate struct {
	Candidate     string
	SDPMid        *string
	SDPMLineIndex *uint16
}

type ConnectionState int

const (
	ConnectionStateNew ConnectionState = iota
	ConnectionStateConnecting
	ConnectionStateConnected
	ConnectionStateDisconnected
	ConnectionStateFailed
	ConnectionStateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionStateNew:
		return "new"
	case ConnectionStateConnecting:
		return "connecting"
	case ConnectionStateConnected:
		return "connected"
	case ConnectionStateDisconnected:
		return "disconnected"
	case ConnectionStateFailed:
		return "failed"
	case ConnectionStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type EventType int

const (
	ICECandidateEvent EventType = iota + 1
	ConnectionStateEvent
	TrackEvent
)

// Event is emitted by a transport about one of its peer connections.
type Event struct {
	Type         EventType
	CallID       string
	RemoteUserID string
	Candidate    *ICECandidate
	State        ConnectionState
	Track        RemoteTrack
}

// PeerConfig identifies the call and remote party a peer connection is for.
type PeerConfig struct {
	CallID       string
	RemoteUserID string
}

// PeerConnection is a single connection to one remote party.
type PeerConnection interface {
	// CreateOffer creates an offer and sets it as the local description.
	CreateOffer(ctx context.Context, iceRestart bool) (SessionDescription, error)
	// CreateAnswer creates an answer and sets it as the local description.
	CreateAnswer(ctx context.Context) (SessionDescription, error)
	SetRemoteDescription(ctx context.Context, desc SessionDescription) error
	HasRemoteDescription() bool
	AddICECandidate(c ICECandidate) error
	AddStream(s *Stream) error
	RemoveStream(s *Stream) error
	Close() error
}

// Transport captures local media and creates peer connections. Events for
// every connection it created are delivered on EventCh.
type Transport interface {
	Start(ctx context.Context) error
	GetUserMedia(ctx context.Context, c MediaConstraints) (*Stream, error)
	GetDisplayMedia(ctx context.Context) (*Stream, error)
	CreatePeerConnection(ctx context.Context, cfg PeerConfig, s *Stream) (PeerConnection, error)
	// EventCh returns the events channel of the current run. It gets
	// closed by Close.
	EventCh() <-chan Event
	Close() error
}
