// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package main

import (
	"fmt"

	"github.com/mattermost/callcore/service"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "callcored"

// loadConfig reads the config file and returns a new service.Config.
// Settings left out of the file keep their default value. Environment
// variables override values coming from the file.
func loadConfig(path string) (service.Config, error) {
	var cfg service.Config
	cfg.SetDefaults()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return service.Config{}, fmt.Errorf("failed to decode config file: %w", err)
	}
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return service.Config{}, err
	}
	return cfg, nil
}
