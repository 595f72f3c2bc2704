// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mattermost/callcore/service/callconfig"
)

func (s *Service) getCallsConfig(w http.ResponseWriter, r *http.Request) {
	data := newHTTPData()
	defer s.httpAudit("getCallsConfig", data, w, r)

	if code, err := s.adminAuthHandler(r); err != nil {
		data.fail(code, err)
		return
	}

	data.resData["config"] = s.calls.Get()
	data.code = http.StatusOK
}

func configErrorCode(err error) int {
	if errors.Is(err, callconfig.ErrUnknownKey) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

// setCallsConfig persists an override for a single setting, addressed by its
// toml name. Overrides survive restarts.
func (s *Service) setCallsConfig(w http.ResponseWriter, r *http.Request) {
	data := newHTTPData()
	defer s.httpAudit("setCallsConfig", data, w, r)

	if code, err := s.adminAuthHandler(r); err != nil {
		data.fail(code, err)
		return
	}

	if err := json.NewDecoder(r.Body).Decode(&data.reqData); err != nil {
		data.fail(http.StatusBadRequest, err)
		return
	}

	key := r.PathValue("key")
	value, ok := data.reqData["value"]
	if !ok {
		data.fail(http.StatusBadRequest, errors.New("invalid value: should not be empty"))
		return
	}

	if err := s.calls.SetOverride(key, value); err != nil {
		data.fail(configErrorCode(err), err)
		return
	}

	data.resData["config"] = s.calls.Get()
	data.code = http.StatusOK
}

func (s *Service) clearCallsConfig(w http.ResponseWriter, r *http.Request) {
	data := newHTTPData()
	defer s.httpAudit("clearCallsConfig", data, w, r)

	if code, err := s.adminAuthHandler(r); err != nil {
		data.fail(code, err)
		return
	}

	if err := s.calls.ClearOverride(r.PathValue("key")); err != nil {
		data.fail(configErrorCode(err), err)
		return
	}

	data.resData["config"] = s.calls.Get()
	data.code = http.StatusOK
}
