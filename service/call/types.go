// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package call

import (
	"fmt"
	"slices"
	"time"
)

type Type string

const (
	TypeAudio Type = "audio"
	TypeVideo Type = "video"
)

func (t Type) IsValid() error {
	switch t {
	case TypeAudio, TypeVideo:
		return nil
	}
	return fmt.Errorf("%w: %q", errUnknownCallType, t)
}

type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

type ConnectionState string

const (
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateDisconnected ConnectionState = "disconnected"
)

// MediaState holds the independent media switches of a participant.
type MediaState struct {
	AudioEnabled   bool `json:"audio_enabled"`
	VideoEnabled   bool `json:"video_enabled"`
	MicMuted       bool `json:"mic_muted"`
	CameraOff      bool `json:"camera_off"`
	ScreenSharing  bool `json:"screen_sharing"`
	SpeakerEnabled bool `json:"speaker_enabled"`
}

type Participant struct {
	UserID          string          `json:"user_id"`
	UserName        string          `json:"user_name,omitempty"`
	IsLocal         bool            `json:"is_local"`
	MediaState      MediaState      `json:"media_state"`
	ConnectionState ConnectionState `json:"connection_state"`
	JoinedAt        time.Time       `json:"joined_at"`
}

// Session is a point in time copy of a call. Mutating it has no effect on
// the call it was taken from.
type Session struct {
	CallID       string                 `json:"call_id"`
	CallType     Type                   `json:"call_type"`
	Direction    Direction              `json:"direction"`
	State        State                  `json:"state"`
	IsGroup      bool                   `json:"is_group"`
	GroupName    string                 `json:"group_name,omitempty"`
	RemoteUserID string                 `json:"remote_user_id,omitempty"`
	Participants map[string]Participant `json:"participants"`
	StartTime    time.Time              `json:"start_time"`
	EndTime      time.Time              `json:"end_time,omitempty"`
	// Duration is only meaningful once EndTime is set.
	Duration time.Duration `json:"duration"`
	Reason   string        `json:"reason,omitempty"`
}

// LocalParticipant returns the participant representing the local user.
func (s Session) LocalParticipant() (Participant, bool) {
	for _, p := range s.Participants {
		if p.IsLocal {
			return p, true
		}
	}
	return Participant{}, false
}

// RemoteParticipants returns the ids of every non local participant, sorted.
func (s Session) RemoteParticipants() []string {
	ids := make([]string, 0, len(s.Participants))
	for id, p := range s.Participants {
		if !p.IsLocal {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// CallOptions tunes StartCall. A non empty Participants list makes the call a
// group call.
type CallOptions struct {
	GroupName    string
	Participants []string
}

// IncomingCall describes a call request received from a remote user.
type IncomingCall struct {
	CallID       string
	From         string
	FromName     string
	CallType     Type
	IsGroup      bool
	GroupName    string
	Participants []string
}

func (c IncomingCall) IsValid() error {
	if c.CallID == "" {
		return fmt.Errorf("invalid CallID value: should not be empty")
	}
	if c.From == "" {
		return fmt.Errorf("invalid From value: should not be empty")
	}
	if err := c.CallType.IsValid(); err != nil {
		return fmt.Errorf("invalid CallType value: %w", err)
	}
	return nil
}

// Reasons attached to sessions reaching a terminal state.
const (
	ReasonLocalHangup  = "local_hangup"
	ReasonRemoteHangup = "remote_hangup"
	ReasonRejected     = "rejected"
	ReasonBusy         = "busy"
	ReasonTimeout      = "timeout"
	ReasonFailed       = "failed"
	ReasonCleanup      = "cleanup"
	ReasonUnsupported  = "unsupported"
	ReasonAllLeft      = "all_participants_left"
)
