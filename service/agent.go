// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"context"
	"fmt"
	"net"

	"github.com/mattermost/callcore/logger"
	"github.com/mattermost/callcore/service/call"
	"github.com/mattermost/callcore/service/recovery"
	"github.com/mattermost/callcore/service/signaling"
	"github.com/mattermost/callcore/service/transport"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

// localRelayURL returns the address of the relay served by this process.
func (s *Service) localRelayURL() (string, error) {
	_, port, err := net.SplitHostPort(s.apiServer.Addr())
	if err != nil {
		return "", fmt.Errorf("failed to parse api address: %w", err)
	}
	scheme := "ws"
	if s.cfg.API.HTTP.TLS.Enable {
		scheme = "wss"
	}
	return scheme + "://localhost:" + port + "/ws", nil
}

// startAgent creates the call manager of the configured agent user and
// connects it to the signaling relay. It must run after the API server
// started listening.
func (s *Service) startAgent(ctx context.Context) error {
	cfg := s.cfg.Agent

	if cfg.Signaling.URL == "" {
		u, err := s.localRelayURL()
		if err != nil {
			return err
		}
		cfg.Signaling.URL = u
	}
	if cfg.Signaling.AuthKey == "" {
		cfg.Signaling.AuthKey = s.agentKey
	}

	log := logger.WithComponent(s.log, "agent")

	tr, err := transport.NewPionTransport(cfg.Transport, log, transport.WithMetrics(s.metrics))
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}

	// Connections and messages are already counted by the relay side.
	ch, err := signaling.NewWSChannel(cfg.Signaling, log)
	if err != nil {
		return fmt.Errorf("failed to create signaling channel: %w", err)
	}

	m, err := call.NewManager(call.ManagerConfig{
		Transport: tr,
		Channel:   ch,
		Config:    s.calls,
		Engine:    s.engine,
		Logger:    log,
	}, call.WithMetrics(s.metrics), call.WithHistoryStore(s.history))
	if err != nil {
		return fmt.Errorf("failed to create call manager: %w", err)
	}

	m.AddEventListener(call.Listeners{
		OnIncomingCall: func(sess call.Session) {
			s.log.Info("agent: incoming call",
				mlog.String("callID", sess.CallID),
				mlog.String("from", sess.RemoteUserID),
				mlog.String("callType", string(sess.CallType)),
			)
		},
		OnCallStateChanged: func(sess call.Session, from call.State) {
			s.log.Debug("agent: call state changed",
				mlog.String("callID", sess.CallID),
				mlog.String("from", string(from)),
				mlog.String("to", string(sess.State)),
			)
		},
		OnCallFailed: func(sess call.Session, d *recovery.ErrorDetails) {
			fields := []mlog.Field{mlog.String("callID", sess.CallID)}
			if d != nil {
				fields = append(fields, mlog.String("errType", d.Type.String()), mlog.String("userMessage", d.UserMessage))
			}
			s.log.Warn("agent: call failed", fields...)
		},
	})

	if err := m.Initialize(ctx, cfg.UserID, cfg.UserName); err != nil {
		return fmt.Errorf("failed to initialize call manager: %w", err)
	}
	s.agent.Store(m)

	return nil
}
