// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsValid(t *testing.T) {
	tcs := []struct {
		name string
		cfg  Config
		err  string
	}{
		{
			name: "empty struct",
			err:  "should enable at least one logging target",
		},
		{
			name: "console missing level",
			cfg:  Config{EnableConsole: true},
			err:  `invalid ConsoleLevel value ""`,
		},
		{
			name: "console invalid level",
			cfg:  Config{EnableConsole: true, ConsoleLevel: "invalid"},
			err:  `invalid ConsoleLevel value "invalid"`,
		},
		{
			name: "console valid",
			cfg:  Config{EnableConsole: true, ConsoleLevel: "info"},
		},
		{
			name: "file invalid level",
			cfg:  Config{EnableFile: true, FileLevel: "invalid", FileLocation: "callcored.log"},
			err:  `invalid FileLevel value "invalid"`,
		},
		{
			name: "file missing location",
			cfg:  Config{EnableFile: true, FileLevel: "DEBUG"},
			err:  "invalid FileLocation value: should not be empty",
		},
		{
			name: "file negative size",
			cfg:  Config{EnableFile: true, FileLevel: "DEBUG", FileLocation: "callcored.log", FileMaxSizeMB: -1},
			err:  "invalid FileMaxSizeMB value: should not be negative",
		},
		{
			name: "file valid",
			cfg:  Config{EnableFile: true, FileLevel: "DEBUG", FileLocation: "callcored.log"},
		},
		{
			name: "disabled file is not checked",
			cfg:  Config{EnableConsole: true, ConsoleLevel: "WARN", FileLevel: "invalid"},
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.IsValid()
			if tc.err == "" {
				require.NoError(t, err)
				return
			}
			require.EqualError(t, err, tc.err)
		})
	}
}

func TestConfigSetDefaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults("callcored.log")
	require.NoError(t, cfg.IsValid())
	require.Equal(t, "callcored.log", cfg.FileLocation)
	require.Equal(t, "INFO", cfg.ConsoleLevel)
	require.Equal(t, defaultFileMaxSizeMB, cfg.FileMaxSizeMB)
}
