// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package recovery

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// Rule maps errors to a type. Rules are evaluated in order and the first
// match wins.
type Rule struct {
	Name  string
	Type  ErrorType
	Match func(err error, msg string) bool
}

// Classifier turns arbitrary errors into members of the taxonomy.
type Classifier struct {
	rules []Rule
}

// NewClassifier returns a classifier evaluating extra rules ahead of the
// built-in ones.
func NewClassifier(extra ...Rule) *Classifier {
	rules := make([]Rule, 0, len(extra)+len(defaultRules))
	rules = append(rules, extra...)
	rules = append(rules, defaultRules...)
	return &Classifier{rules: rules}
}

// Classify never fails: anything no rule recognizes is UnknownError.
func (c *Classifier) Classify(err error) ErrorType {
	if err == nil {
		return UnknownError
	}

	var typed *Error
	if errors.As(err, &typed) && typed.Type.valid() {
		return typed.Type
	}

	msg := strings.ToLower(err.Error())
	for _, r := range c.rules {
		if r.Match(err, msg) {
			return r.Type
		}
	}

	return UnknownError
}

func named(names ...string) func(error, string) bool {
	return func(err error, _ string) bool {
		var n Named
		if !errors.As(err, &n) {
			return false
		}
		for _, name := range names {
			if n.Name() == name {
				return true
			}
		}
		return false
	}
}

func contains(fragments ...string) func(error, string) bool {
	return func(_ error, msg string) bool {
		for _, f := range fragments {
			if strings.Contains(msg, f) {
				return true
			}
		}
		return false
	}
}

func all(matchers ...func(error, string) bool) func(error, string) bool {
	return func(err error, msg string) bool {
		for _, m := range matchers {
			if !m(err, msg) {
				return false
			}
		}
		return true
	}
}

func is(targets ...error) func(error, string) bool {
	return func(err error, _ string) bool {
		for _, target := range targets {
			if errors.Is(err, target) {
				return true
			}
		}
		return false
	}
}

func netTimeout(err error, _ string) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func netOp(err error, _ string) bool {
	var opErr *net.OpError
	var dnsErr *net.DNSError
	return errors.As(err, &opErr) || errors.As(err, &dnsErr)
}

// Permission and security failures come first so they never end up retried.
var defaultRules = []Rule{
	{Name: "media permission", Type: MediaAccessDenied, Match: named("NotAllowedError", "PermissionDeniedError")},
	{Name: "security", Type: SecurityError, Match: named("SecurityError")},
	{Name: "device missing", Type: MediaDeviceNotFound, Match: named("NotFoundError", "DevicesNotFoundError")},
	{Name: "device busy", Type: MediaDeviceBusy, Match: named("NotReadableError", "TrackStartError")},
	{Name: "constraints", Type: MediaConstraintError, Match: named("OverconstrainedError", "ConstraintNotSatisfiedError")},
	{Name: "capture aborted", Type: MediaDeviceError, Match: named("AbortError")},
	{Name: "not supported", Type: UnsupportedFeature, Match: named("NotSupportedError")},
	{Name: "invalid state", Type: InvalidCallState, Match: named("InvalidStateError")},
	{Name: "named network", Type: NetworkUnavailable, Match: named("NetworkError")},
	{Name: "named timeout", Type: ConnectionTimeout, Match: named("TimeoutError")},

	{Name: "permission message", Type: PermissionDenied, Match: contains("permission denied", "not allowed", "forbidden")},
	{Name: "security message", Type: SecurityError, Match: contains("security", "insecure")},

	{Name: "deadline", Type: ConnectionTimeout, Match: is(context.DeadlineExceeded)},
	{Name: "refused", Type: ConnectionFailed, Match: is(syscall.ECONNREFUSED, syscall.ECONNRESET)},
	{Name: "unreachable", Type: NetworkUnavailable, Match: is(syscall.ENETUNREACH, syscall.EHOSTUNREACH)},
	{Name: "net timeout", Type: ConnectionTimeout, Match: netTimeout},
	{Name: "net op", Type: NetworkUnavailable, Match: netOp},

	{Name: "ice message", Type: ICEConnectionFailed, Match: all(contains("ice connection", "ice state", "ice agent", "ice restart"), contains("fail"))},
	{Name: "device busy message", Type: MediaDeviceBusy, Match: contains("device busy", "device in use", "could not start")},
	{Name: "device missing message", Type: MediaDeviceNotFound, Match: contains("device not found", "no device", "requested device")},
	{Name: "media message", Type: MediaDeviceError, Match: contains("getusermedia", "media device")},
	{Name: "screen message", Type: ScreenShareError, Match: contains("display media", "screen share", "screen capture")},
	{Name: "timeout message", Type: ConnectionTimeout, Match: contains("timeout", "timed out")},
	{Name: "signaling message", Type: SignalingError, Match: contains("signaling", "websocket")},
	{Name: "lost message", Type: ConnectionLost, Match: contains("connection lost", "disconnected", "connection closed")},
	{Name: "bandwidth message", Type: InsufficientBandwidth, Match: contains("bandwidth")},
	{Name: "offline message", Type: NetworkUnavailable, Match: contains("network", "offline")},
	{Name: "connection message", Type: ConnectionFailed, Match: contains("connection", "connect")},
	{Name: "unsupported message", Type: UnsupportedFeature, Match: contains("not supported", "unsupported")},
	{Name: "full message", Type: ConferenceFull, Match: contains("conference full", "room full", "participant limit")},
	{Name: "busy message", Type: CallBusy, Match: contains("busy")},
	{Name: "rejected message", Type: CallRejected, Match: contains("rejected", "declined")},
	{Name: "file size message", Type: FileTooLarge, Match: contains("file too large", "file size")},
}
