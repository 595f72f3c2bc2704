// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package signaling carries call signaling messages between users.
package signaling

import (
	"context"
)

// Channel delivers addressed messages to remote users.
type Channel interface {
	// Connect binds the channel to the local userID and starts receiving.
	Connect(ctx context.Context, userID string) error
	Send(ctx context.Context, msg Message) error
	// ReceiveCh returns the channel incoming messages are delivered on. It
	// gets closed when the connection goes away.
	ReceiveCh() <-chan Message
	Close() error
}
