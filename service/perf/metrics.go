// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package perf

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricsSubSystemRTC    = "rtc"
	metricsSubSystemWS     = "ws"
	metricsSubSystemCalls  = "calls"
	metricsSubSystemErrors = "errors"
)

type Metrics struct {
	registry *prometheus.Registry

	RTPPacketCounters      *prometheus.CounterVec
	RTPPacketBytesCounters *prometheus.CounterVec
	RTCConnStateCounters   *prometheus.CounterVec

	WSConnections     prometheus.Gauge
	WSMessageCounters *prometheus.CounterVec

	CallCounters            *prometheus.CounterVec
	ActiveCalls             prometheus.Gauge
	CallTerminationCounters *prometheus.CounterVec
	CallDurations           *prometheus.HistogramVec
	SignalingMessages       *prometheus.CounterVec

	ErrorCounters           *prometheus.CounterVec
	RetryAttemptCounters    *prometheus.CounterVec
	RecoveryFailureCounters *prometheus.CounterVec
	ResolvedErrorCounters   *prometheus.CounterVec

	logger *loggerMetrics
}

func NewMetrics(namespace string, registry *prometheus.Registry) *Metrics {
	var m Metrics

	if registry != nil {
		m.registry = registry
	} else {
		m.registry = prometheus.NewRegistry()
		m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{
			Namespace: namespace,
		}))
		m.registry.MustRegister(collectors.NewGoCollector())
	}

	m.RTPPacketCounters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemRTC,
			Name:      "rtp_packets_total",
			Help:      "Total number of sent/received RTP packets",
		},
		[]string{"direction", "type"},
	)
	m.registry.MustRegister(m.RTPPacketCounters)

	m.RTPPacketBytesCounters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemRTC,
			Name:      "rtp_bytes_total",
			Help:      "Total number of sent/received RTP packet bytes",
		},
		[]string{"direction", "type"},
	)
	m.registry.MustRegister(m.RTPPacketBytesCounters)

	m.RTCConnStateCounters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemRTC,
			Name:      "conn_states_total",
			Help:      "Total number of peer connection state changes",
		},
		[]string{"type"},
	)
	m.registry.MustRegister(m.RTCConnStateCounters)

	m.WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemWS,
			Name:      "connections_total",
			Help:      "Total number of active signaling connections",
		},
	)
	m.registry.MustRegister(m.WSConnections)

	m.WSMessageCounters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemWS,
			Name:      "messages_total",
			Help:      "Total number of sent/received signaling messages on the relay",
		},
		[]string{"type", "direction"},
	)
	m.registry.MustRegister(m.WSMessageCounters)

	m.CallCounters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemCalls,
			Name:      "started_total",
			Help:      "Total number of registered calls",
		},
		[]string{"type", "direction"},
	)
	m.registry.MustRegister(m.CallCounters)

	m.ActiveCalls = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemCalls,
			Name:      "active",
			Help:      "Number of calls that haven't finished yet",
		},
	)
	m.registry.MustRegister(m.ActiveCalls)

	m.CallTerminationCounters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemCalls,
			Name:      "terminations_total",
			Help:      "Total number of finished calls by final state and reason",
		},
		[]string{"state", "reason"},
	)
	m.registry.MustRegister(m.CallTerminationCounters)

	m.CallDurations = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemCalls,
			Name:      "duration_seconds",
			Help:      "Duration of completed calls",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"type"},
	)
	m.registry.MustRegister(m.CallDurations)

	m.SignalingMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemCalls,
			Name:      "signaling_messages_total",
			Help:      "Total number of signaling messages sent/received by the call agent",
		},
		[]string{"type", "direction"},
	)
	m.registry.MustRegister(m.SignalingMessages)

	m.ErrorCounters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemErrors,
			Name:      "total",
			Help:      "Total number of handled errors",
		},
		[]string{"type", "severity"},
	)
	m.registry.MustRegister(m.ErrorCounters)

	m.RetryAttemptCounters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemErrors,
			Name:      "retry_attempts_total",
			Help:      "Total number of automatic retry attempts",
		},
		[]string{"type"},
	)
	m.registry.MustRegister(m.RetryAttemptCounters)

	m.RecoveryFailureCounters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemErrors,
			Name:      "recovery_failures_total",
			Help:      "Total number of errors that exhausted their retries",
		},
		[]string{"type"},
	)
	m.registry.MustRegister(m.RecoveryFailureCounters)

	m.ResolvedErrorCounters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemErrors,
			Name:      "resolved_total",
			Help:      "Total number of errors marked as resolved",
		},
		[]string{"type"},
	)
	m.registry.MustRegister(m.ResolvedErrorCounters)

	m.logger = newLoggerMetrics(namespace, m.registry)

	return &m
}

func (m *Metrics) IncRTCConnState(state string) {
	m.RTCConnStateCounters.With(prometheus.Labels{"type": state}).Inc()
}

func (m *Metrics) IncRTPPackets(direction, trackType string) {
	m.RTPPacketCounters.With(prometheus.Labels{"direction": direction, "type": trackType}).Inc()
}

func (m *Metrics) AddRTPPacketBytes(direction, trackType string, value int) {
	m.RTPPacketBytesCounters.With(prometheus.Labels{"direction": direction, "type": trackType}).Add(float64(value))
}

func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}

func (m *Metrics) IncWSMessages(msgType, direction string) {
	m.WSMessageCounters.With(prometheus.Labels{"type": msgType, "direction": direction}).Inc()
}

func (m *Metrics) IncCalls(callType, direction string) {
	m.CallCounters.With(prometheus.Labels{"type": callType, "direction": direction}).Inc()
}

func (m *Metrics) IncActiveCalls() {
	m.ActiveCalls.Inc()
}

func (m *Metrics) DecActiveCalls() {
	m.ActiveCalls.Dec()
}

func (m *Metrics) IncCallTerminations(state, reason string) {
	m.CallTerminationCounters.With(prometheus.Labels{"state": state, "reason": reason}).Inc()
}

func (m *Metrics) ObserveCallDuration(callType string, seconds float64) {
	m.CallDurations.With(prometheus.Labels{"type": callType}).Observe(seconds)
}

func (m *Metrics) IncSignalingMessages(msgType, direction string) {
	m.SignalingMessages.With(prometheus.Labels{"type": msgType, "direction": direction}).Inc()
}

func (m *Metrics) IncErrors(errType, severity string) {
	m.ErrorCounters.With(prometheus.Labels{"type": errType, "severity": severity}).Inc()
}

func (m *Metrics) IncRetryAttempts(errType string) {
	m.RetryAttemptCounters.With(prometheus.Labels{"type": errType}).Inc()
}

func (m *Metrics) IncRecoveryFailures(errType string) {
	m.RecoveryFailureCounters.With(prometheus.Labels{"type": errType}).Inc()
}

func (m *Metrics) IncErrorsResolved(errType string) {
	m.ResolvedErrorCounters.With(prometheus.Labels{"type": errType}).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
