// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package logger

import (
	"encoding/json"
	"fmt"

	"github.com/mattermost/logr/v2"
	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

const (
	maxQueueSize            = 1000
	metricsUpdateFreqMillis = 15000
)

type plainFormat struct {
	Delim        string `json:"delim"`
	MinLevelLen  int    `json:"min_level_len"`
	MinMsgLen    int    `json:"min_msg_len"`
	EnableColor  bool   `json:"enable_color"`
	EnableCaller bool   `json:"enable_caller"`
}

type jsonFormat struct {
	EnableCaller bool `json:"enable_caller"`
}

type consoleOptions struct {
	Out string `json:"out"`
}

type fileOptions struct {
	Filename   string `json:"filename"`
	MaxSize    int    `json:"max_size"`
	MaxAge     int    `json:"max_age"`
	MaxBackups int    `json:"max_backups"`
	Compress   bool   `json:"compress"`
}

func newTarget(typ, level string, jsonFmt, color bool, opts any) (mlog.TargetCfg, error) {
	levels, err := levelsUpTo(level)
	if err != nil {
		return mlog.TargetCfg{}, err
	}

	format := "plain"
	var formatOpts any = plainFormat{
		Delim:        " ",
		MinLevelLen:  5,
		MinMsgLen:    45,
		EnableColor:  color,
		EnableCaller: true,
	}
	if jsonFmt {
		format = "json"
		formatOpts = jsonFormat{EnableCaller: true}
	}

	rawFormatOpts, err := json.Marshal(formatOpts)
	if err != nil {
		return mlog.TargetCfg{}, fmt.Errorf("failed to encode format options: %w", err)
	}
	rawOpts, err := json.Marshal(opts)
	if err != nil {
		return mlog.TargetCfg{}, fmt.Errorf("failed to encode target options: %w", err)
	}

	return mlog.TargetCfg{
		Type:          typ,
		Levels:        levels,
		Options:       rawOpts,
		Format:        format,
		FormatOptions: rawFormatOpts,
		MaxQueueSize:  maxQueueSize,
	}, nil
}

func targetsConfig(config Config) (mlog.LoggerConfiguration, error) {
	cfg := mlog.LoggerConfiguration{}

	if config.EnableConsole {
		target, err := newTarget("console", config.ConsoleLevel, config.ConsoleJSON, config.EnableColor,
			consoleOptions{Out: "stdout"})
		if err != nil {
			return nil, fmt.Errorf("invalid console target: %w", err)
		}
		cfg["_defConsole"] = target
	}

	if config.EnableFile {
		maxSize := config.FileMaxSizeMB
		if maxSize == 0 {
			maxSize = defaultFileMaxSizeMB
		}
		target, err := newTarget("file", config.FileLevel, config.FileJSON, false, fileOptions{
			Filename: config.FileLocation,
			MaxSize:  maxSize,
			Compress: true,
		})
		if err != nil {
			return nil, fmt.Errorf("invalid file target: %w", err)
		}
		cfg["_defFile"] = target
	}

	return cfg, nil
}

// New returns a newly created and initialized logger with the given cfg.
func New(config Config) (*mlog.Logger, error) {
	if err := config.IsValid(); err != nil {
		return nil, err
	}

	cfg, err := targetsConfig(config)
	if err != nil {
		return nil, err
	}

	logger, err := mlog.NewLogger()
	if err != nil {
		return nil, err
	}

	if err := logger.ConfigureTargets(cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to configure targets: %w", err)
	}

	return logger, nil
}

// WithComponent returns a logger that tags every record with the given
// component name. Loggers that can't carry fields are returned unchanged.
func WithComponent(log mlog.LoggerIFace, component string) mlog.LoggerIFace {
	if l, ok := log.(*mlog.Logger); ok && l != nil {
		return l.With(mlog.String("component", component))
	}
	return log
}

// EnableMetrics makes the logger periodically report the state of its
// targets to collector.
func EnableMetrics(log *mlog.Logger, collector logr.MetricsCollector) {
	log.SetMetricsCollector(collector, metricsUpdateFreqMillis)
}
