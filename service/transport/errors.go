// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package transport

// NamedError is a media error identified by a well known name, matching the
// names used by WebRTC capture APIs.
type NamedError struct {
	ErrName string
	Msg     string
}

func (e *NamedError) Error() string {
	return e.Msg
}

func (e *NamedError) Name() string {
	return e.ErrName
}

// Is matches any NamedError with the same name.
func (e *NamedError) Is(target error) bool {
	t, ok := target.(*NamedError)
	return ok && t.ErrName == e.ErrName
}

var (
	ErrPermissionDenied = &NamedError{ErrName: "NotAllowedError", Msg: "permission to capture media was denied"}
	ErrDeviceNotFound   = &NamedError{ErrName: "NotFoundError", Msg: "requested device not found"}
	ErrDeviceBusy       = &NamedError{ErrName: "NotReadableError", Msg: "could not start media source"}
	ErrCaptureAborted   = &NamedError{ErrName: "AbortError", Msg: "media capture was aborted"}
	ErrNotSupported     = &NamedError{ErrName: "NotSupportedError", Msg: "media capture is not supported"}
	ErrInvalidState     = &NamedError{ErrName: "InvalidStateError", Msg: "transport is not started"}
)
