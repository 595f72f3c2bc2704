// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mattermost/callcore/logger"
	"github.com/mattermost/callcore/service/api"
	"github.com/mattermost/callcore/service/auth"
	"github.com/mattermost/callcore/service/call"
	"github.com/mattermost/callcore/service/callconfig"
	"github.com/mattermost/callcore/service/perf"
	"github.com/mattermost/callcore/service/random"
	"github.com/mattermost/callcore/service/recovery"
	"github.com/mattermost/callcore/service/signaling"
	"github.com/mattermost/callcore/service/store"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
	"github.com/prometheus/procfs"
)

const (
	metricsNamespace = serviceName
	agentKeyLen      = 32
	agentStartupTime = 10 * time.Second
)

type Service struct {
	cfg       Config
	apiServer *api.Server
	relay     *signaling.Relay
	store     store.Store
	auth      *auth.Service
	metrics   *perf.Metrics
	proc      procfs.FS
	calls     *callconfig.StoreProvider
	engine    *recovery.Engine
	history   *call.HistoryStore
	log       *mlog.Logger
	startAt   time.Time

	// agentKey authenticates the call agent against the local relay when no
	// key is configured for it.
	agentKey string
	agent    atomic.Pointer[call.Manager]
}

func New(cfg Config) (*Service, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	s := &Service{
		cfg:     cfg,
		log:     log,
		metrics: perf.NewMetrics(metricsNamespace, nil),
		startAt: time.Now(),
	}

	logger.EnableMetrics(s.log, s.metrics)

	info := getVersionInfo()
	info.StartAt = s.startAt.UnixMilli()
	s.log.Info(serviceName+": starting up", info.logFields()...)

	s.proc, err = procfs.NewDefaultFS()
	if err != nil {
		s.log.Warn("callcored: failed to access procfs", mlog.Err(err))
	}

	s.store, err = store.New(cfg.Store.DataSource)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	s.log.Info("initiated data store", mlog.String("DataSource", cfg.Store.DataSource))

	s.auth, err = auth.NewService(s.store, cfg.API.Security.KeyCache)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth service: %w", err)
	}

	s.calls, err = callconfig.NewStoreProvider(cfg.Calls, s.store)
	if err != nil {
		return nil, fmt.Errorf("failed to create calls config provider: %w", err)
	}

	s.history, err = call.NewHistoryStore(s.store)
	if err != nil {
		return nil, fmt.Errorf("failed to create call history store: %w", err)
	}

	s.engine, err = recovery.NewEngine(cfg.recoveryConfig(), logger.WithComponent(log, "recovery"),
		recovery.WithMetrics(s.metrics))
	if err != nil {
		return nil, fmt.Errorf("failed to create recovery engine: %w", err)
	}

	s.relay, err = signaling.NewRelay(cfg.Signaling, logger.WithComponent(log, "signaling"),
		signaling.WithAuthCb(s.relayAuthHandler),
		signaling.WithRelayMetrics(s.metrics))
	if err != nil {
		return nil, fmt.Errorf("failed to create signaling relay: %w", err)
	}

	if cfg.Agent.Enable && cfg.Agent.Signaling.AuthKey == "" {
		s.agentKey, err = random.NewSecureString(agentKeyLen)
		if err != nil {
			return nil, fmt.Errorf("failed to generate agent key: %w", err)
		}
	}

	s.apiServer, err = api.NewServer(cfg.API.HTTP, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create api server: %w", err)
	}

	s.registerHandlers()

	return s, nil
}

func (s *Service) registerHandlers() {
	s.apiServer.RegisterHandleFunc("GET /version", s.getVersion)
	s.apiServer.RegisterHandleFunc("GET /system", s.getSystemInfo)
	s.apiServer.RegisterHandleFunc("GET /stats", s.getStats)
	s.apiServer.RegisterHandleFunc("GET /errors", s.getErrors)
	s.apiServer.RegisterHandleFunc("DELETE /errors", s.clearErrors)
	s.apiServer.RegisterHandler("GET /metrics", s.metrics.Handler())
	s.apiServer.RegisterHandleFunc("POST /register", s.registerClient)
	s.apiServer.RegisterHandleFunc("POST /unregister", s.unregisterClient)

	s.apiServer.RegisterHandleFunc("GET /config", s.getCallsConfig)
	s.apiServer.RegisterHandleFunc("PUT /config/{key}", s.setCallsConfig)
	s.apiServer.RegisterHandleFunc("DELETE /config/{key}", s.clearCallsConfig)

	s.apiServer.RegisterHandleFunc("POST /calls", s.startCall)
	s.apiServer.RegisterHandleFunc("GET /calls", s.listCalls)
	s.apiServer.RegisterHandleFunc("GET /calls/history", s.getCallHistory)
	s.apiServer.RegisterHandleFunc("GET /calls/{id}", s.getCall)
	s.apiServer.RegisterHandleFunc("DELETE /calls/{id}", s.endCall)
	s.apiServer.RegisterHandleFunc("POST /calls/{id}/accept", s.acceptCall)
	s.apiServer.RegisterHandleFunc("POST /calls/{id}/reject", s.rejectCall)
	s.apiServer.RegisterHandleFunc("POST /calls/{id}/mic", s.toggleMedia("mic"))
	s.apiServer.RegisterHandleFunc("POST /calls/{id}/camera", s.toggleMedia("camera"))
	s.apiServer.RegisterHandleFunc("POST /calls/{id}/speaker", s.toggleMedia("speaker"))
	s.apiServer.RegisterHandleFunc("POST /calls/{id}/screen", s.startScreenShare)
	s.apiServer.RegisterHandleFunc("DELETE /calls/{id}/screen", s.stopScreenShare)

	s.apiServer.RegisterHandler("/ws", s.relay)
}

func (s *Service) Start() error {
	if err := s.apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	if s.cfg.Agent.Enable {
		ctx, cancel := context.WithTimeout(context.Background(), agentStartupTime)
		defer cancel()
		if err := s.startAgent(ctx); err != nil {
			return fmt.Errorf("failed to start call agent: %w", err)
		}
	}

	return nil
}

func (s *Service) Stop() error {
	var errs []error

	if agent := s.agent.Swap(nil); agent != nil {
		if err := agent.Cleanup(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("failed to cleanup call agent: %w", err))
		}
	}

	s.engine.Stop()
	s.relay.Close()

	if err := s.apiServer.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop API server: %w", err))
	}

	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close store: %w", err))
	}

	s.log.Info("callcored: shutdown completed")

	if err := s.log.Shutdown(); err != nil {
		errs = append(errs, fmt.Errorf("failed to shutdown logger: %w", err))
	}

	return errors.Join(errs...)
}
