// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package perf

import (
	"github.com/mattermost/logr/v2"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsSubSystemLogger = "logger"

// loggerMetrics implements logr.MetricsCollector so that the health of every
// logging target (queue size, dropped and blocked records) gets exported
// alongside the service metrics.
type loggerMetrics struct {
	queueSize *prometheus.GaugeVec
	logged    *prometheus.CounterVec
	errors    *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	blocked   *prometheus.CounterVec
}

func newLoggerMetrics(namespace string, registry *prometheus.Registry) *loggerMetrics {
	newCounter := func(name, help string) *prometheus.CounterVec {
		c := prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: metricsSubSystemLogger,
				Name:      name,
				Help:      help,
			},
			[]string{"target"},
		)
		registry.MustRegister(c)
		return c
	}

	m := &loggerMetrics{
		queueSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: metricsSubSystemLogger,
				Name:      "queue_size",
				Help:      "Number of records waiting to be written by a logging target",
			},
			[]string{"target"},
		),
		logged:  newCounter("logged_total", "Total number of records written by a logging target"),
		errors:  newCounter("errors_total", "Total number of errors of a logging target"),
		dropped: newCounter("dropped_total", "Total number of records dropped by a logging target"),
		blocked: newCounter("blocked_total", "Total number of times a logging target blocked"),
	}
	registry.MustRegister(m.queueSize)

	return m
}

func (m *Metrics) QueueSizeGauge(target string) (logr.Gauge, error) {
	return m.logger.queueSize.With(prometheus.Labels{"target": target}), nil
}

func (m *Metrics) LoggedCounter(target string) (logr.Counter, error) {
	return m.logger.logged.With(prometheus.Labels{"target": target}), nil
}

func (m *Metrics) ErrorCounter(target string) (logr.Counter, error) {
	return m.logger.errors.With(prometheus.Labels{"target": target}), nil
}

func (m *Metrics) DroppedCounter(target string) (logr.Counter, error) {
	return m.logger.dropped.With(prometheus.Labels{"target": target}), nil
}

func (m *Metrics) BlockedCounter(target string) (logr.Counter, error) {
	return m.logger.blocked.With(prometheus.Labels{"target": target}), nil
}
