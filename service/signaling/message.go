// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package signaling

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

type MessageType string

const (
	CallRequestMessage      MessageType = "call-request"
	CallResponseMessage     MessageType = "call-response"
	OfferMessage            MessageType = "offer"
	AnswerMessage           MessageType = "answer"
	ICECandidateMessage     MessageType = "ice-candidate"
	GroupCallRequestMessage MessageType = "group-call-request"
	HangupMessage           MessageType = "hangup"
)

func (t MessageType) IsValid() bool {
	switch t {
	case CallRequestMessage, CallResponseMessage, OfferMessage, AnswerMessage,
		ICECandidateMessage, GroupCallRequestMessage, HangupMessage:
		return true
	default:
		return false
	}
}

// Message is the envelope exchanged through the relay. Data holds the
// msgpack encoded payload matching Type.
type Message struct {
	Type   MessageType `msgpack:"type"`
	From   string      `msgpack:"from"`
	To     string      `msgpack:"to"`
	CallID string      `msgpack:"call_id"`
	Data   []byte      `msgpack:"data,omitempty"`
}

type CallRequest struct {
	CallID        string `msgpack:"call_id"`
	CallType      string `msgpack:"call_type"`
	InitiatorName string `msgpack:"initiator_name"`
}

type CallResponse struct {
	CallID   string `msgpack:"call_id"`
	Accepted bool   `msgpack:"accepted"`
	Reason   string `msgpack:"reason,omitempty"`
}

type SessionDescription struct {
	SDP string `msgpack:"sdp"`
}

type Candidate struct {
	Candidate     string  `msgpack:"candidate"`
	SDPMid        *string `msgpack:"sdp_mid,omitempty"`
	SDPMLineIndex *uint16 `msgpack:"sdp_mline_index,omitempty"`
}

type GroupCallRequest struct {
	CallID        string   `msgpack:"call_id"`
	CallType      string   `msgpack:"call_type"`
	GroupName     string   `msgpack:"group_name"`
	InitiatorName string   `msgpack:"initiator_name"`
	Participants  []string `msgpack:"participants"`
}

type Hangup struct {
	CallID string `msgpack:"call_id"`
	Reason string `msgpack:"reason,omitempty"`
}

// NewMessage builds a message carrying payload encoded with msgpack.
func NewMessage(msgType MessageType, from, to, callID string, payload any) (Message, error) {
	msg := Message{
		Type:   msgType,
		From:   from,
		To:     to,
		CallID: callID,
	}

	if payload != nil {
		data, err := msgpack.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("failed to marshal payload: %w", err)
		}
		msg.Data = data
	}

	if err := msg.IsValid(); err != nil {
		return Message{}, err
	}

	return msg, nil
}

func (m Message) IsValid() error {
	if !m.Type.IsValid() {
		return fmt.Errorf("invalid Type value: %q", m.Type)
	}

	if m.To == "" {
		return fmt.Errorf("invalid To value: should not be empty")
	}

	if m.CallID == "" {
		return fmt.Errorf("invalid CallID value: should not be empty")
	}

	return nil
}

// Decode unmarshals the message payload into v.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("failed to decode payload: empty data")
	}
	if err := msgpack.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}

func (m Message) Pack() ([]byte, error) {
	return msgpack.Marshal(&m)
}

func (m *Message) Unpack(data []byte) error {
	if err := msgpack.Unmarshal(data, m); err != nil {
		return fmt.Errorf("failed to unpack message: %w", err)
	}
	return m.IsValid()
}
