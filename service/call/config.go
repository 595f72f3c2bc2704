// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package call

import (
	"fmt"

	"github.com/mattermost/callcore/service/callconfig"
	"github.com/mattermost/callcore/service/recovery"
	"github.com/mattermost/callcore/service/signaling"
	"github.com/mattermost/callcore/service/transport"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

// ManagerConfig holds the collaborators a Manager is built from.
type ManagerConfig struct {
	Transport transport.Transport
	Channel   signaling.Channel
	Config    callconfig.Provider
	Engine    *recovery.Engine
	Logger    mlog.LoggerIFace
}

func (c ManagerConfig) IsValid() error {
	if c.Transport == nil {
		return fmt.Errorf("invalid Transport value: should not be nil")
	}
	if c.Channel == nil {
		return fmt.Errorf("invalid Channel value: should not be nil")
	}
	if c.Config == nil {
		return fmt.Errorf("invalid Config value: should not be nil")
	}
	if c.Engine == nil {
		return fmt.Errorf("invalid Engine value: should not be nil")
	}
	if c.Logger == nil {
		return fmt.Errorf("invalid Logger value: should not be nil")
	}
	return nil
}
