// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

const (
	readTimeout     = 30 * time.Second
	writeTimeout    = 60 * time.Second
	idleTimeout     = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

type Server struct {
	cfg      Config
	log      mlog.LoggerIFace
	mux      *http.ServeMux
	srv      *http.Server
	tlsCfg   *tls.Config
	listener net.Listener
}

// newTLSConfig loads the configured key pair. Only HTTP/1.1 is offered so
// that websocket upgrades keep working over TLS.
func newTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.CertKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load key pair: %w", err)
	}
	return &tls.Config{
		MinVersion:       tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{tls.X25519, tls.CurveP256},
		Certificates:     []tls.Certificate{cert},
		NextProtos:       []string{"http/1.1"},
	}, nil
}

func NewServer(cfg Config, log mlog.LoggerIFace) (*Server, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, err
	}
	if log == nil {
		return nil, fmt.Errorf("invalid log value: should not be nil")
	}

	s := &Server{
		cfg: cfg,
		log: log,
		mux: http.NewServeMux(),
	}

	if cfg.TLS.Enable {
		tlsCfg, err := newTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("invalid TLS config: %w", err)
		}
		s.tlsCfg = tlsCfg
	}

	s.srv = &http.Server{
		Handler:      s.mux,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	if cfg.EnableDebug {
		s.registerDebugHandlers()
	}

	return s, nil
}

// Start binds the listen address and serves requests in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	if s.tlsCfg != nil {
		ln = tls.NewListener(ln, s.tlsCfg)
	}
	s.listener = ln

	s.log.Info("api: server is listening",
		mlog.String("addr", ln.Addr().String()),
		mlog.Bool("tls", s.tlsCfg != nil),
	)

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Critical("api: failed to serve", mlog.Err(err))
		}
	}()

	return nil
}

// Stop gracefully shuts the server down, waiting for in-flight requests.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	s.log.Info("api: server was shutdown")
	return nil
}

// Addr returns the bound address, or an empty string before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
