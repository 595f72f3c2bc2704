// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package call

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEventQueue(t *testing.T) {
	t.Run("order", func(t *testing.T) {
		var wg sync.WaitGroup
		q := newEventQueue(16, &wg)

		var out []int
		for i := range 10 {
			require.True(t, q.push(func() {
				out = append(out, i)
			}))
		}
		q.close()
		wg.Wait()

		require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, out)
	})

	t.Run("closed", func(t *testing.T) {
		var wg sync.WaitGroup
		q := newEventQueue(1, &wg)
		q.close()
		q.close()
		require.False(t, q.push(func() {}))
		wg.Wait()
	})

	t.Run("full", func(t *testing.T) {
		var wg sync.WaitGroup
		q := newEventQueue(1, &wg)

		blockCh := make(chan struct{})
		startedCh := make(chan struct{})
		require.True(t, q.push(func() {
			close(startedCh)
			<-blockCh
		}))
		<-startedCh

		require.True(t, q.push(func() {}))
		require.False(t, q.push(func() {}))

		close(blockCh)
		q.close()
		wg.Wait()
	})

	t.Run("close from queued function", func(t *testing.T) {
		var wg sync.WaitGroup
		q := newEventQueue(4, &wg)
		require.True(t, q.push(func() {
			q.close()
		}))
		wg.Wait()
	})
}

func TestGate(t *testing.T) {
	var g gate
	require.False(t, g.enter())

	g.openUp()
	require.True(t, g.enter())

	shutCh := make(chan struct{})
	go func() {
		g.shut()
		close(shutCh)
	}()

	select {
	case <-shutCh:
		require.Fail(t, "shut should wait for running work")
	case <-time.After(50 * time.Millisecond):
	}

	g.leave()
	select {
	case <-shutCh:
	case <-time.After(time.Second):
		require.Fail(t, "timed out waiting for shut")
	}

	require.False(t, g.enter())
}
