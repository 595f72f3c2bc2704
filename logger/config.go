// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package logger

import (
	"fmt"
	"strings"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

const defaultFileMaxSizeMB = 100

// Config holds information used to initialize a new logger.
type Config struct {
	EnableConsole bool   `toml:"enable_console"`
	ConsoleJSON   bool   `toml:"console_json"`
	ConsoleLevel  string `toml:"console_level"`
	EnableFile    bool   `toml:"enable_file"`
	FileJSON      bool   `toml:"file_json"`
	FileLevel     string `toml:"file_level"`
	FileLocation  string `toml:"file_location"`
	// FileMaxSizeMB is the size at which the log file gets rotated.
	FileMaxSizeMB int  `toml:"file_max_size_mb"`
	EnableColor   bool `toml:"enable_color"`
}

// levelsUpTo returns the standard levels from the most severe down to the
// one called name, matched case insensitively.
func levelsUpTo(name string) ([]mlog.Level, error) {
	var levels []mlog.Level
	for _, l := range mlog.StdAll {
		levels = append(levels, l)
		if strings.EqualFold(l.Name, name) {
			return levels, nil
		}
	}
	return nil, fmt.Errorf("unknown level %q", name)
}

func (c Config) IsValid() error {
	if !c.EnableConsole && !c.EnableFile {
		return fmt.Errorf("should enable at least one logging target")
	}
	if c.EnableConsole {
		if _, err := levelsUpTo(c.ConsoleLevel); err != nil {
			return fmt.Errorf("invalid ConsoleLevel value %q", c.ConsoleLevel)
		}
	}
	if c.EnableFile {
		if _, err := levelsUpTo(c.FileLevel); err != nil {
			return fmt.Errorf("invalid FileLevel value %q", c.FileLevel)
		}
		if c.FileLocation == "" {
			return fmt.Errorf("invalid FileLocation value: should not be empty")
		}
		if c.FileMaxSizeMB < 0 {
			return fmt.Errorf("invalid FileMaxSizeMB value: should not be negative")
		}
	}
	return nil
}

// SetDefaults fills in a console plus file setup writing to fileLocation.
func (c *Config) SetDefaults(fileLocation string) {
	c.EnableConsole = true
	c.ConsoleJSON = false
	c.ConsoleLevel = "INFO"
	c.EnableFile = true
	c.FileJSON = true
	c.FileLocation = fileLocation
	c.FileLevel = "DEBUG"
	c.FileMaxSizeMB = defaultFileMaxSizeMB
	c.EnableColor = false
}
