// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package recovery

import (
	"fmt"
)

// Named is implemented by errors that carry a stable name, such as the
// media capture errors raised by WebRTC stacks ("NotAllowedError").
type Named interface {
	Name() string
}

// Error is an error already tagged with its type. The classifier trusts the
// tag over any other rule.
type Error struct {
	Type ErrorType
	Msg  string
	Err  error
}

// NewError returns an error of type t wrapping err, which may be nil.
func NewError(t ErrorType, msg string, err error) *Error {
	return &Error{
		Type: t,
		Msg:  msg,
		Err:  err,
	}
}

// Errorf formats a plain error message into an untyped error value.
func Errorf(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	if e.Msg == "" {
		return e.Err.Error()
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}
