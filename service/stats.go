// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	model "github.com/prometheus/client_model/go"
)

func gaugeValue(g prometheus.Gauge) (float64, error) {
	var m model.Metric
	if err := g.Write(&m); err != nil {
		return 0, err
	}
	return m.GetGauge().GetValue(), nil
}

func (s *Service) getStats(w http.ResponseWriter, r *http.Request) {
	data := newHTTPData()
	defer s.httpAudit("getStats", data, w, r)

	if code, err := s.adminAuthHandler(r); err != nil {
		data.fail(code, err)
		return
	}

	activeCalls, err := gaugeValue(s.metrics.ActiveCalls)
	if err != nil {
		data.fail(http.StatusInternalServerError, err)
		return
	}
	data.resData["activeCalls"] = activeCalls

	wsConns, err := gaugeValue(s.metrics.WSConnections)
	if err != nil {
		data.fail(http.StatusInternalServerError, err)
		return
	}
	data.resData["wsConnections"] = wsConns
	data.resData["onlineUsers"] = len(s.relay.OnlineUsers())

	if agent := s.agent.Load(); agent != nil {
		data.resData["calls"] = agent.GetCallStats()
	}

	data.code = http.StatusOK
}

func (s *Service) getErrors(w http.ResponseWriter, r *http.Request) {
	data := newHTTPData()
	defer s.httpAudit("getErrors", data, w, r)

	if code, err := s.adminAuthHandler(r); err != nil {
		data.fail(code, err)
		return
	}

	data.resData["stats"] = s.engine.Stats()
	data.code = http.StatusOK
}

func (s *Service) clearErrors(w http.ResponseWriter, r *http.Request) {
	data := newHTTPData()
	defer s.httpAudit("clearErrors", data, w, r)

	if code, err := s.adminAuthHandler(r); err != nil {
		data.fail(code, err)
		return
	}

	s.engine.ClearHistory()
	data.code = http.StatusOK
}
