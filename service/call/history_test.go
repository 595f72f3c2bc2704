// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package call

import (
	"testing"
	"time"

	"github.com/mattermost/callcore/service/store"

	"github.com/stretchr/testify/require"
)

func setupHistoryStore(t *testing.T) *HistoryStore {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, st.Close())
	})
	h, err := NewHistoryStore(st)
	require.NoError(t, err)
	return h
}

func TestHistoryStore(t *testing.T) {
	t.Run("nil store", func(t *testing.T) {
		h, err := NewHistoryStore(nil)
		require.EqualError(t, err, "invalid store value: should not be nil")
		require.Nil(t, h)
	})

	t.Run("missing call id", func(t *testing.T) {
		h := setupHistoryStore(t)
		require.EqualError(t, h.Save(Record{}), "invalid CallID value: should not be empty")
	})

	t.Run("most recent first", func(t *testing.T) {
		h := setupHistoryStore(t)
		now := time.Now()

		for i, id := range []string{"a", "b", "c"} {
			start := now.Add(time.Duration(i) * time.Minute)
			require.NoError(t, h.Save(Record{
				CallID:       id,
				CallType:     TypeAudio,
				Direction:    DirectionOutgoing,
				State:        StateEnded,
				Reason:       ReasonLocalHangup,
				Participants: []string{"alice", "bob"},
				StartTime:    start,
				EndTime:      start.Add(30 * time.Second),
				DurationMs:   30000,
			}))
		}

		records, err := h.List(0)
		require.NoError(t, err)
		require.Len(t, records, 3)
		require.Equal(t, "c", records[0].CallID)
		require.Equal(t, "b", records[1].CallID)
		require.Equal(t, "a", records[2].CallID)

		require.Equal(t, StateEnded, records[0].State)
		require.Equal(t, []string{"alice", "bob"}, records[0].Participants)
		require.Equal(t, int64(30000), records[0].DurationMs)
		require.True(t, records[0].EndTime.Equal(now.Add(2*time.Minute+30*time.Second)))

		records, err = h.List(2)
		require.NoError(t, err)
		require.Len(t, records, 2)
		require.Equal(t, "c", records[0].CallID)
	})

	t.Run("from session", func(t *testing.T) {
		start := time.Now().Add(-time.Minute)
		s := Session{
			CallID:    "call1",
			CallType:  TypeVideo,
			Direction: DirectionIncoming,
			State:     StateFailed,
			Reason:    ReasonTimeout,
			Participants: map[string]Participant{
				"bob":   {UserID: "bob", IsLocal: true},
				"alice": {UserID: "alice"},
			},
			StartTime: start,
			EndTime:   start.Add(time.Minute),
			Duration:  time.Minute,
		}

		r := newRecord(s)
		require.Equal(t, "call1", r.CallID)
		require.Equal(t, StateFailed, r.State)
		require.Equal(t, ReasonTimeout, r.Reason)
		require.Equal(t, []string{"alice", "bob"}, r.Participants)
		require.Equal(t, int64(60000), r.DurationMs)
	})
}
