// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package perf

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mattermost/callcore/service/call"
	"github.com/mattermost/callcore/service/recovery"
	"github.com/mattermost/callcore/service/signaling"
	"github.com/mattermost/callcore/service/transport"

	"github.com/mattermost/logr/v2"
	"github.com/prometheus/client_golang/prometheus"
	model "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

var (
	_ call.Metrics      = (*Metrics)(nil)
	_ recovery.Metrics  = (*Metrics)(nil)
	_ transport.Metrics = (*Metrics)(nil)
	_ signaling.Metrics = (*Metrics)(nil)

	_ logr.MetricsCollector = (*Metrics)(nil)
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	var m model.Metric
	require.NoError(t, (<-ch).Write(&m))
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	return m.Gauge.GetValue()
}

func TestMetrics(t *testing.T) {
	m := NewMetrics("callcored", nil)

	t.Run("calls", func(t *testing.T) {
		m.IncCalls("audio", "outgoing")
		m.IncCalls("audio", "outgoing")
		m.IncActiveCalls()
		m.IncActiveCalls()
		m.DecActiveCalls()
		m.IncCallTerminations("ended", "local_hangup")
		m.ObserveCallDuration("audio", 42)

		require.Equal(t, 2.0, counterValue(t, m.CallCounters.With(prometheus.Labels{"type": "audio", "direction": "outgoing"})))
		require.Equal(t, 1.0, counterValue(t, m.ActiveCalls))
		require.Equal(t, 1.0, counterValue(t, m.CallTerminationCounters.With(prometheus.Labels{"state": "ended", "reason": "local_hangup"})))
	})

	t.Run("errors", func(t *testing.T) {
		m.IncErrors("signaling_error", "medium")
		m.IncRetryAttempts("signaling_error")
		m.IncRetryAttempts("signaling_error")
		m.IncRecoveryFailures("signaling_error")
		m.IncErrorsResolved("ice_connection_failed")

		require.Equal(t, 1.0, counterValue(t, m.ErrorCounters.With(prometheus.Labels{"type": "signaling_error", "severity": "medium"})))
		require.Equal(t, 2.0, counterValue(t, m.RetryAttemptCounters.With(prometheus.Labels{"type": "signaling_error"})))
		require.Equal(t, 1.0, counterValue(t, m.RecoveryFailureCounters.With(prometheus.Labels{"type": "signaling_error"})))
		require.Equal(t, 1.0, counterValue(t, m.ResolvedErrorCounters.With(prometheus.Labels{"type": "ice_connection_failed"})))
	})

	t.Run("signaling", func(t *testing.T) {
		m.IncWSConnections()
		m.IncWSMessages("offer", "in")
		m.IncSignalingMessages("offer", "out")

		require.Equal(t, 1.0, counterValue(t, m.WSConnections))
		require.Equal(t, 1.0, counterValue(t, m.WSMessageCounters.With(prometheus.Labels{"type": "offer", "direction": "in"})))
		require.Equal(t, 1.0, counterValue(t, m.SignalingMessages.With(prometheus.Labels{"type": "offer", "direction": "out"})))

		m.DecWSConnections()
		require.Zero(t, counterValue(t, m.WSConnections))
	})

	t.Run("rtc", func(t *testing.T) {
		m.IncRTCConnState("connected")
		m.IncRTPPackets("in", "audio")
		m.AddRTPPacketBytes("in", "audio", 160)

		require.Equal(t, 1.0, counterValue(t, m.RTCConnStateCounters.With(prometheus.Labels{"type": "connected"})))
		require.Equal(t, 160.0, counterValue(t, m.RTPPacketBytesCounters.With(prometheus.Labels{"direction": "in", "type": "audio"})))
	})

	t.Run("logger", func(t *testing.T) {
		g, err := m.QueueSizeGauge("_defConsole")
		require.NoError(t, err)
		g.Set(10)
		g.Sub(4)

		c, err := m.DroppedCounter("_defConsole")
		require.NoError(t, err)
		c.Inc()
		c.Add(2)

		require.Equal(t, 6.0, counterValue(t, m.logger.queueSize.With(prometheus.Labels{"target": "_defConsole"})))
		require.Equal(t, 3.0, counterValue(t, m.logger.dropped.With(prometheus.Labels{"target": "_defConsole"})))
	})

	t.Run("handler", func(t *testing.T) {
		srv := httptest.NewServer(m.Handler())
		defer srv.Close()

		resp, err := http.Get(srv.URL)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.True(t, strings.Contains(string(body), "callcored_calls_started_total"))
		require.True(t, strings.Contains(string(body), "callcored_errors_total"))
	})
}
