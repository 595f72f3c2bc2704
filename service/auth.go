// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

var (
	errInvalidAuthHeader = errors.New("authentication failed: invalid auth header")
	errUnauthorized      = errors.New("authentication failed: unauthorized")
	errAuthFailed        = errors.New("authentication failed")
)

func keyMatches(a, b string) bool {
	return a != "" && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Service) isAdminKey(key string) bool {
	return s.cfg.API.Security.EnableAdmin && keyMatches(key, s.cfg.API.Security.AdminSecretKey)
}

// adminAuthHandler checks the request carries the admin key. The user part
// of the credentials is ignored.
func (s *Service) adminAuthHandler(r *http.Request) (int, error) {
	_, authKey, ok := r.BasicAuth()
	if !ok {
		return http.StatusUnauthorized, errInvalidAuthHeader
	}

	if !s.isAdminKey(authKey) {
		return http.StatusUnauthorized, errUnauthorized
	}

	return http.StatusOK, nil
}

// relayAuthHandler authenticates a signaling connection and returns the user
// it belongs to.
func (s *Service) relayAuthHandler(w http.ResponseWriter, r *http.Request) (string, error) {
	userID, authKey, ok := r.BasicAuth()
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return "", errInvalidAuthHeader
	}

	if userID == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return "", errUnauthorized
	}

	if s.isAdminKey(authKey) {
		return userID, nil
	}

	if s.agentKey != "" && userID == s.cfg.Agent.UserID && keyMatches(authKey, s.agentKey) {
		return userID, nil
	}

	if err := s.auth.Authenticate(userID, authKey); err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		s.log.Error("authentication failed", mlog.String("userID", userID), mlog.Err(err))
		return "", errAuthFailed
	}

	return userID, nil
}

func (s *Service) registerClient(w http.ResponseWriter, req *http.Request) {
	data := newHTTPData()
	defer s.httpAudit("registerClient", data, w, req)

	if !s.cfg.API.Security.AllowSelfRegistration {
		if code, err := s.adminAuthHandler(req); err != nil {
			data.err = err.Error()
			data.code = code
			return
		}
	}

	if err := json.NewDecoder(req.Body).Decode(&data.reqData); err != nil {
		data.err = err.Error()
		data.code = http.StatusBadRequest
		return
	}

	userID := data.reqData["userID"]
	authKey, err := s.auth.Register(userID)
	if err != nil {
		data.err = err.Error()
		data.code = http.StatusBadRequest
		return
	}

	data.code = http.StatusCreated
	data.resData["userID"] = userID
	data.resData["authKey"] = authKey
}

func (s *Service) unregisterClient(w http.ResponseWriter, req *http.Request) {
	data := newHTTPData()
	defer s.httpAudit("unregisterClient", data, w, req)

	if code, err := s.adminAuthHandler(req); err != nil {
		data.err = err.Error()
		data.code = code
		return
	}

	if err := json.NewDecoder(req.Body).Decode(&data.reqData); err != nil {
		data.err = err.Error()
		data.code = http.StatusBadRequest
		return
	}

	userID := data.reqData["userID"]
	if userID == "" {
		data.err = "user id should not be empty"
		data.code = http.StatusBadRequest
		return
	}

	if err := s.auth.Unregister(userID); err != nil {
		data.err = err.Error()
		data.code = http.StatusBadRequest
		return
	}

	data.code = http.StatusOK
}
