// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

const (
	defaultSampleWindow = time.Second
	minSampleWindow     = 100 * time.Millisecond
	maxSampleWindow     = 5 * time.Second
)

type SystemInfo struct {
	// CPULoad is the share of the machine's CPU time that was busy over the
	// sample window, in [0, 1].
	CPULoad float64 `json:"cpu_load"`
	// ActiveCalls is the number of unfinished calls of the local agent.
	ActiveCalls int `json:"active_calls"`
	// OnlineUsers is the number of users connected to the relay.
	OnlineUsers int `json:"online_users"`
	// UptimeSec is the number of seconds since the service was created.
	UptimeSec int64 `json:"uptime_sec"`
}

func parseSampleWindow(val string) (time.Duration, error) {
	if val == "" {
		return defaultSampleWindow, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid window value: %w", err)
	}
	if d < minSampleWindow || d > maxSampleWindow {
		return 0, fmt.Errorf("invalid window value: should be between %s and %s", minSampleWindow, maxSampleWindow)
	}
	return d, nil
}

// sampleCPULoad measures the busy share of all CPUs over window. It returns
// early with an error if the request goes away.
func (s *Service) sampleCPULoad(r *http.Request, window time.Duration) (float64, error) {
	st1, err := s.proc.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to get cpu stat: %w", err)
	}
	t0 := time.Now()

	timer := time.NewTimer(window)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-r.Context().Done():
		return 0, r.Context().Err()
	}

	st2, err := s.proc.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to get cpu stat: %w", err)
	}

	idle := st2.CPUTotal.Idle - st1.CPUTotal.Idle
	total := time.Since(t0).Seconds() * float64(runtime.NumCPU())
	return min(max(1-idle/total, 0), 1), nil
}

func (s *Service) getSystemInfo(w http.ResponseWriter, r *http.Request) {
	data := newHTTPData()
	defer s.httpAudit("getSystemInfo", data, w, r)

	if code, err := s.adminAuthHandler(r); err != nil {
		data.fail(code, err)
		return
	}

	window, err := parseSampleWindow(r.URL.Query().Get("window"))
	if err != nil {
		data.fail(http.StatusBadRequest, err)
		return
	}
	data.reqData["window"] = window.String()

	var info SystemInfo
	if load, err := s.sampleCPULoad(r, window); err != nil {
		s.log.Error("failed to sample cpu load", mlog.Err(err))
	} else {
		info.CPULoad = load
	}

	if agent := s.agent.Load(); agent != nil {
		info.ActiveCalls = len(agent.GetActiveSessions())
	}
	info.OnlineUsers = len(s.relay.OnlineUsers())
	info.UptimeSec = int64(time.Since(s.startAt).Seconds())

	data.code = http.StatusOK
	data.resData["system"] = info
}
