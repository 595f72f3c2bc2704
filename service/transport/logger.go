// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package transport

import (
	"fmt"

	"github.com/mattermost/callcore/logger"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
	"github.com/pion/logging"
)

// pionLogger forwards pion logs onto mlog. Pion debug output is very chatty
// so it's demoted to trace.
type pionLogger struct {
	log mlog.LoggerIFace
}

func newPionLeveledLogger(log mlog.LoggerIFace, scope string) logging.LeveledLogger {
	return &pionLogger{
		log: logger.WithComponent(log, "pion/"+scope),
	}
}

func (log *pionLogger) Trace(msg string) {
	log.log.Trace(msg)
}

func (log *pionLogger) Tracef(format string, args ...any) {
	log.log.Trace(fmt.Sprintf(format, args...))
}

func (log *pionLogger) Debug(msg string) {
	log.log.Trace(msg)
}

func (log *pionLogger) Debugf(format string, args ...any) {
	log.log.Trace(fmt.Sprintf(format, args...))
}

func (log *pionLogger) Info(msg string) {
	log.log.Debug(msg)
}

func (log *pionLogger) Infof(format string, args ...any) {
	log.log.Debug(fmt.Sprintf(format, args...))
}

func (log *pionLogger) Warn(msg string) {
	log.log.Warn(msg)
}

func (log *pionLogger) Warnf(format string, args ...any) {
	log.log.Warn(fmt.Sprintf(format, args...))
}

func (log *pionLogger) Error(msg string) {
	log.log.Error(msg)
}

func (log *pionLogger) Errorf(format string, args ...any) {
	log.log.Error(fmt.Sprintf(format, args...))
}

// NewLogger implements logging.LoggerFactory.
func (t *PionTransport) NewLogger(scope string) logging.LeveledLogger {
	return newPionLeveledLogger(t.log, scope)
}
