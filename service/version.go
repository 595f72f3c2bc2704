// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

const serviceName = "callcored"

// Set at link time.
var (
	buildVersion string
	buildHash    string
	buildDate    string
)

type VersionInfo struct {
	Name         string `json:"name"`
	BuildVersion string `json:"buildVersion"`
	BuildHash    string `json:"buildHash"`
	BuildDate    string `json:"buildDate"`
	GoVersion    string `json:"goVersion"`
	GoOS         string `json:"goOS"`
	GoArch       string `json:"goArch"`
	// StartAt is the Unix time in milliseconds at which the service was
	// created. It is only set in responses of a running service.
	StartAt int64 `json:"startAt,omitempty"`
}

func getVersionInfo() VersionInfo {
	return VersionInfo{
		Name:         serviceName,
		BuildVersion: buildVersion,
		BuildHash:    buildHash,
		BuildDate:    buildDate,
		GoVersion:    runtime.Version(),
		GoOS:         runtime.GOOS,
		GoArch:       runtime.GOARCH,
	}
}

func (v VersionInfo) logFields() []mlog.Field {
	fields := []mlog.Field{
		mlog.String("buildVersion", v.BuildVersion),
		mlog.String("buildHash", v.BuildHash),
		mlog.String("buildDate", v.BuildDate),
		mlog.String("goVersion", v.GoVersion),
		mlog.String("goOS", v.GoOS),
		mlog.String("goArch", v.GoArch),
	}
	if v.StartAt > 0 {
		fields = append(fields, mlog.String("startAt", time.UnixMilli(v.StartAt).UTC().Format(time.RFC3339)))
	}
	return fields
}

func (s *Service) getVersion(w http.ResponseWriter, _ *http.Request) {
	info := getVersionInfo()
	info.StartAt = s.startAt.UnixMilli()

	w.Header().Add("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(info); err != nil {
		s.log.Error("failed to encode data", mlog.Err(err))
	}
}
