// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package api

import (
	"io"
	"net/http"
	"net/http/pprof"

	"github.com/grafana/pyroscope-go/godeltaprof"
	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

type deltaProfiler interface {
	Profile(w io.Writer) error
}

func (s *Server) deltaHandler(name string, p deltaProfiler) HandleFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
		if err := p.Profile(w); err != nil {
			s.log.Error("api: failed to write profile", mlog.String("profile", name), mlog.Err(err))
		}
	}
}

// registerDebugHandlers exposes the standard profiles along with delta
// heap, block and mutex profiles suited to continuous profiling.
func (s *Server) registerDebugHandlers() {
	s.mux.HandleFunc("GET /debug/pprof/", pprof.Index)
	s.mux.HandleFunc("GET /debug/pprof/cmdline", pprof.Cmdline)
	s.mux.HandleFunc("GET /debug/pprof/profile", pprof.Profile)
	s.mux.HandleFunc("GET /debug/pprof/symbol", pprof.Symbol)
	s.mux.HandleFunc("GET /debug/pprof/trace", pprof.Trace)

	s.mux.HandleFunc("GET /debug/pprof/delta_heap", s.deltaHandler("delta_heap", godeltaprof.NewHeapProfiler()))
	s.mux.HandleFunc("GET /debug/pprof/delta_block", s.deltaHandler("delta_block", godeltaprof.NewBlockProfiler()))
	s.mux.HandleFunc("GET /debug/pprof/delta_mutex", s.deltaHandler("delta_mutex", godeltaprof.NewMutexProfiler()))
}
