// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package call

import (
	"errors"
)

var (
	ErrNotInitialized       = errors.New("call manager is not initialized")
	ErrInitializationFailed = errors.New("call manager initialization failed")
	ErrFeatureDisabled      = errors.New("feature is disabled")
	ErrInvalidCallState     = errors.New("invalid call state")
	ErrCallNotFound         = errors.New("call not found")
	ErrScreenShareFailed    = errors.New("screen share failed")
	ErrMediaAccess          = errors.New("failed to access media devices")
	ErrParticipantLimit     = errors.New("participant limit exceeded")
	ErrBusy                 = errors.New("user is busy in another call")

	errManagerClosed   = errors.New("call manager was cleaned up")
	errDeadlinePassed  = errors.New("recovery deadline passed")
	errAwaitingRestart = errors.New("waiting for the remote side to restart ice")
	errUnknownCallType = errors.New("unknown call type")
)
