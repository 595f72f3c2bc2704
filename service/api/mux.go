// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package api

import (
	"net/http"
	"time"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

type HandleFunc func(http.ResponseWriter, *http.Request)

// statusWriter remembers the status code written by a handler.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(data []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(data)
}

func (s *Server) logRequests(pattern string, hf HandleFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		hf(sw, r)
		if sw.status == 0 {
			sw.status = http.StatusOK
		}

		fields := []mlog.Field{
			mlog.String("pattern", pattern),
			mlog.String("remoteAddr", r.RemoteAddr),
			mlog.Int("status", sw.status),
			mlog.Int("elapsedMs", int(time.Since(start).Milliseconds())),
		}
		if sw.status >= http.StatusInternalServerError {
			s.log.Warn("api: request failed", fields...)
			return
		}
		s.log.Debug("api: request served", fields...)
	}
}

// RegisterHandleFunc routes requests matching pattern to hf. Every request
// is logged along with the resulting status code.
func (s *Server) RegisterHandleFunc(pattern string, hf HandleFunc) {
	s.mux.HandleFunc(pattern, s.logRequests(pattern, hf))
}

// RegisterHandler routes requests matching pattern to handler as is. It
// suits handlers that need the raw connection, such as websocket upgrades.
func (s *Server) RegisterHandler(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}
