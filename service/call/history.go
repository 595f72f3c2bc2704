// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package call

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/mattermost/callcore/service/store"

	"github.com/vmihailenco/msgpack/v5"
)

const historyPrefix = "history/"

// Record is the persisted summary of a finished call.
type Record struct {
	CallID       string    `msgpack:"call_id" json:"call_id"`
	CallType     Type      `msgpack:"call_type" json:"call_type"`
	Direction    Direction `msgpack:"direction" json:"direction"`
	State        State     `msgpack:"state" json:"state"`
	Reason       string    `msgpack:"reason,omitempty" json:"reason,omitempty"`
	IsGroup      bool      `msgpack:"is_group" json:"is_group"`
	GroupName    string    `msgpack:"group_name,omitempty" json:"group_name,omitempty"`
	RemoteUserID string    `msgpack:"remote_user_id,omitempty" json:"remote_user_id,omitempty"`
	Participants []string  `msgpack:"participants" json:"participants"`
	StartTime    time.Time `msgpack:"start_time" json:"start_time"`
	EndTime      time.Time `msgpack:"end_time" json:"end_time"`
	// DurationMs is the call duration in milliseconds.
	DurationMs int64 `msgpack:"duration_ms" json:"duration_ms"`
}

func newRecord(s Session) Record {
	participants := make([]string, 0, len(s.Participants))
	for id := range s.Participants {
		participants = append(participants, id)
	}
	slices.Sort(participants)

	return Record{
		CallID:       s.CallID,
		CallType:     s.CallType,
		Direction:    s.Direction,
		State:        s.State,
		Reason:       s.Reason,
		IsGroup:      s.IsGroup,
		GroupName:    s.GroupName,
		RemoteUserID: s.RemoteUserID,
		Participants: participants,
		StartTime:    s.StartTime,
		EndTime:      s.EndTime,
		DurationMs:   s.Duration.Milliseconds(),
	}
}

// HistoryStore persists call records. Keys sort from the most recent call to
// the oldest one.
type HistoryStore struct {
	store store.Store
}

func NewHistoryStore(st store.Store) (*HistoryStore, error) {
	if st == nil {
		return nil, fmt.Errorf("invalid store value: should not be nil")
	}
	return &HistoryStore{store: st}, nil
}

func historyKey(r Record) string {
	// Inverting the timestamp makes lexicographic order newest first.
	return fmt.Sprintf("%s%019d/%s", historyPrefix, math.MaxInt64-r.EndTime.UnixNano(), r.CallID)
}

func (h *HistoryStore) Save(r Record) error {
	if r.CallID == "" {
		return fmt.Errorf("invalid CallID value: should not be empty")
	}

	data, err := msgpack.Marshal(&r)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if err := h.store.Set(historyKey(r), string(data)); err != nil {
		return fmt.Errorf("failed to store record: %w", err)
	}

	return nil
}

// List returns up to limit records, most recent first. A non positive limit
// returns all of them.
func (h *HistoryStore) List(limit int) ([]Record, error) {
	keys, err := h.store.Keys(historyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	records := make([]Record, 0, len(keys))
	for _, key := range keys {
		data, err := h.store.Get(key)
		if err != nil {
			return nil, fmt.Errorf("failed to get record %s: %w", strings.TrimPrefix(key, historyPrefix), err)
		}
		var r Record
		if err := msgpack.Unmarshal([]byte(data), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record: %w", err)
		}
		records = append(records, r)
	}

	return records, nil
}
