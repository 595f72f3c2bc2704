// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"encoding/json"
	"maps"
	"net/http"
	"slices"
	"strconv"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

// httpData carries the outcome of an API request until it gets audited.
type httpData struct {
	err     string
	code    int
	reqData map[string]string
	resData map[string]any
}

func newHTTPData() *httpData {
	return &httpData{
		reqData: map[string]string{},
		resData: map[string]any{},
	}
}

// fail records err as the outcome of the request.
func (d *httpData) fail(code int, err error) {
	d.code = code
	d.err = err.Error()
}

// httpAudit logs the outcome of handler and writes data as the JSON
// response.
func (s *Service) httpAudit(handler string, data *httpData, w http.ResponseWriter, r *http.Request) {
	fields := []mlog.Field{
		mlog.String("handler", handler),
		mlog.String("remoteAddr", r.RemoteAddr),
		mlog.Int("code", data.code),
	}
	for _, k := range slices.Sorted(maps.Keys(data.reqData)) {
		fields = append(fields, mlog.String(k, data.reqData[k]))
	}

	switch {
	case data.err == "":
		s.log.Debug("api: request succeeded", fields...)
	case data.code >= http.StatusInternalServerError:
		data.resData["error"] = data.err
		s.log.Error("api: request failed", append(fields, mlog.String("error", data.err))...)
	default:
		data.resData["error"] = data.err
		s.log.Debug("api: request rejected", append(fields, mlog.String("error", data.err))...)
	}

	if w == nil {
		return
	}

	data.resData["code"] = strconv.Itoa(data.code)
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(data.code)
	if err := json.NewEncoder(w).Encode(data.resData); err != nil {
		s.log.Error("failed to encode data", mlog.Err(err))
	}
}
