// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/mattermost/callcore/service/call"
)

const defaultHistoryLimit = 20

var errAgentDisabled = errors.New("call agent is not enabled")

type startCallRequest struct {
	UserID       string    `json:"userID"`
	CallType     call.Type `json:"callType"`
	GroupName    string    `json:"groupName,omitempty"`
	Participants []string  `json:"participants,omitempty"`
}

type rejectCallRequest struct {
	Reason string `json:"reason"`
}

func callErrorCode(err error) int {
	switch {
	case errors.Is(err, call.ErrCallNotFound):
		return http.StatusNotFound
	case errors.Is(err, call.ErrInvalidCallState):
		return http.StatusConflict
	case errors.Is(err, call.ErrFeatureDisabled):
		return http.StatusForbidden
	case errors.Is(err, call.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, call.ErrParticipantLimit):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// checkAgent authenticates an admin request targeting the call agent and
// returns the agent, or nil if the request has already failed.
func (s *Service) checkAgent(data *httpData, r *http.Request) *call.Manager {
	if code, err := s.adminAuthHandler(r); err != nil {
		data.fail(code, err)
		return nil
	}

	agent := s.agent.Load()
	if agent == nil {
		data.fail(http.StatusServiceUnavailable, errAgentDisabled)
		return nil
	}

	if callID := r.PathValue("id"); callID != "" {
		data.reqData["callID"] = callID
	}

	return agent
}

func (s *Service) startCall(w http.ResponseWriter, r *http.Request) {
	data := newHTTPData()
	defer s.httpAudit("startCall", data, w, r)

	agent := s.checkAgent(data, r)
	if agent == nil {
		return
	}

	var req startCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		data.fail(http.StatusBadRequest, err)
		return
	}
	data.reqData["userID"] = req.UserID

	if err := req.CallType.IsValid(); err != nil {
		data.fail(http.StatusBadRequest, fmt.Errorf("invalid callType value: %w", err))
		return
	}

	if req.UserID == "" && len(req.Participants) == 0 {
		data.fail(http.StatusBadRequest, errors.New("invalid userID value: should not be empty"))
		return
	}

	callID, err := agent.StartCall(r.Context(), req.UserID, req.CallType, &call.CallOptions{
		GroupName:    req.GroupName,
		Participants: req.Participants,
	})
	if callID != "" {
		data.resData["callID"] = callID
	}
	if err != nil {
		data.fail(callErrorCode(err), err)
		return
	}

	data.code = http.StatusCreated
}

func (s *Service) listCalls(w http.ResponseWriter, r *http.Request) {
	data := newHTTPData()
	defer s.httpAudit("listCalls", data, w, r)

	agent := s.checkAgent(data, r)
	if agent == nil {
		return
	}

	calls := agent.GetActiveSessions()
	if calls == nil {
		calls = []call.Session{}
	}
	data.resData["calls"] = calls
	data.code = http.StatusOK
}

func (s *Service) getCall(w http.ResponseWriter, r *http.Request) {
	data := newHTTPData()
	defer s.httpAudit("getCall", data, w, r)

	agent := s.checkAgent(data, r)
	if agent == nil {
		return
	}

	session, err := agent.GetCallSession(r.PathValue("id"))
	if err != nil {
		data.fail(callErrorCode(err), err)
		return
	}

	data.resData["call"] = session
	data.code = http.StatusOK
}

func (s *Service) endCall(w http.ResponseWriter, r *http.Request) {
	data := newHTTPData()
	defer s.httpAudit("endCall", data, w, r)

	agent := s.checkAgent(data, r)
	if agent == nil {
		return
	}

	if err := agent.EndCall(r.Context(), r.PathValue("id")); err != nil {
		data.fail(callErrorCode(err), err)
		return
	}

	data.code = http.StatusOK
}

func (s *Service) acceptCall(w http.ResponseWriter, r *http.Request) {
	data := newHTTPData()
	defer s.httpAudit("acceptCall", data, w, r)

	agent := s.checkAgent(data, r)
	if agent == nil {
		return
	}

	if err := agent.AcceptCall(r.Context(), r.PathValue("id")); err != nil {
		data.fail(callErrorCode(err), err)
		return
	}

	data.code = http.StatusOK
}

func (s *Service) rejectCall(w http.ResponseWriter, r *http.Request) {
	data := newHTTPData()
	defer s.httpAudit("rejectCall", data, w, r)

	agent := s.checkAgent(data, r)
	if agent == nil {
		return
	}

	// The body is optional.
	var req rejectCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		data.fail(http.StatusBadRequest, err)
		return
	}

	if err := agent.RejectCall(r.Context(), r.PathValue("id"), req.Reason); err != nil {
		data.fail(callErrorCode(err), err)
		return
	}

	data.code = http.StatusOK
}

func (s *Service) toggleMedia(kind string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		data := newHTTPData()
		defer s.httpAudit("toggleMedia", data, w, r)

		agent := s.checkAgent(data, r)
		if agent == nil {
			return
		}

		callID := r.PathValue("id")
		var enabled bool
		var err error
		switch kind {
		case "mic":
			enabled, err = agent.ToggleMicrophone(r.Context(), callID)
		case "camera":
			enabled, err = agent.ToggleCamera(r.Context(), callID)
		case "speaker":
			enabled, err = agent.ToggleSpeaker(r.Context(), callID)
		default:
			err = fmt.Errorf("unknown media kind %q", kind)
		}
		if err != nil {
			data.fail(callErrorCode(err), err)
			return
		}

		data.resData["enabled"] = enabled
		data.code = http.StatusOK
	}
}

func (s *Service) startScreenShare(w http.ResponseWriter, r *http.Request) {
	data := newHTTPData()
	defer s.httpAudit("startScreenShare", data, w, r)

	agent := s.checkAgent(data, r)
	if agent == nil {
		return
	}

	if err := agent.StartScreenShare(r.Context(), r.PathValue("id")); err != nil {
		data.fail(callErrorCode(err), err)
		return
	}

	data.code = http.StatusOK
}

func (s *Service) stopScreenShare(w http.ResponseWriter, r *http.Request) {
	data := newHTTPData()
	defer s.httpAudit("stopScreenShare", data, w, r)

	agent := s.checkAgent(data, r)
	if agent == nil {
		return
	}

	if err := agent.StopScreenShare(r.Context(), r.PathValue("id")); err != nil {
		data.fail(callErrorCode(err), err)
		return
	}

	data.code = http.StatusOK
}

// getCallHistory serves the persisted records. It doesn't need a running
// agent since the history outlives it.
func (s *Service) getCallHistory(w http.ResponseWriter, r *http.Request) {
	data := newHTTPData()
	defer s.httpAudit("getCallHistory", data, w, r)

	if code, err := s.adminAuthHandler(r); err != nil {
		data.fail(code, err)
		return
	}

	limit := defaultHistoryLimit
	if val := r.URL.Query().Get("limit"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil || n <= 0 {
			data.fail(http.StatusBadRequest, fmt.Errorf("invalid limit value: should be a positive number"))
			return
		}
		limit = n
	}

	records, err := s.history.List(limit)
	if err != nil {
		data.fail(http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []call.Record{}
	}

	data.resData["calls"] = records
	data.code = http.StatusOK
}
