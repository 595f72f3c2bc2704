// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package recovery

import (
	"fmt"
)

// ErrorType is the closed taxonomy every handled error is classified into.
type ErrorType int

const (
	// Connection
	ConnectionFailed ErrorType = iota + 1
	ConnectionTimeout
	ConnectionLost
	ICEConnectionFailed
	SignalingError

	// Media
	MediaAccessDenied
	MediaDeviceNotFound
	MediaDeviceBusy
	MediaDeviceError
	MediaConstraintError
	ScreenShareError

	// Call
	CallRejected
	CallTimeout
	CallBusy
	CallEnded
	InvalidCallState
	FeatureDisabled

	// Conference
	ConferenceJoinFailed
	ConferenceFull
	ConferencePermissionDenied
	ConferenceEnded

	// File transfer
	FileTransferFailed
	FileTooLarge
	FileTypeNotSupported

	// Network
	NetworkUnavailable
	InsufficientBandwidth
	PoorNetworkQuality

	// Permission
	PermissionDenied
	SecurityError

	// System
	UnsupportedBrowser
	UnsupportedFeature
	InitializationFailed
	UnknownError

	errorTypeEnd
)

var errorTypeNames = map[ErrorType]string{
	ConnectionFailed:           "connection_failed",
	ConnectionTimeout:          "connection_timeout",
	ConnectionLost:             "connection_lost",
	ICEConnectionFailed:        "ice_connection_failed",
	SignalingError:             "signaling_error",
	MediaAccessDenied:          "media_access_denied",
	MediaDeviceNotFound:        "media_device_not_found",
	MediaDeviceBusy:            "media_device_busy",
	MediaDeviceError:           "media_device_error",
	MediaConstraintError:       "media_constraint_error",
	ScreenShareError:           "screen_share_error",
	CallRejected:               "call_rejected",
	CallTimeout:                "call_timeout",
	CallBusy:                   "call_busy",
	CallEnded:                  "call_ended",
	InvalidCallState:           "invalid_call_state",
	FeatureDisabled:            "feature_disabled",
	ConferenceJoinFailed:       "conference_join_failed",
	ConferenceFull:             "conference_full",
	ConferencePermissionDenied: "conference_permission_denied",
	ConferenceEnded:            "conference_ended",
	FileTransferFailed:         "file_transfer_failed",
	FileTooLarge:               "file_too_large",
	FileTypeNotSupported:       "file_type_not_supported",
	NetworkUnavailable:         "network_unavailable",
	InsufficientBandwidth:      "insufficient_bandwidth",
	PoorNetworkQuality:         "poor_network_quality",
	PermissionDenied:           "permission_denied",
	SecurityError:              "security_error",
	UnsupportedBrowser:         "unsupported_browser",
	UnsupportedFeature:         "unsupported_feature",
	InitializationFailed:       "initialization_failed",
	UnknownError:               "unknown_error",
}

// AllErrorTypes returns every member of the taxonomy in declaration order.
func AllErrorTypes() []ErrorType {
	types := make([]ErrorType, 0, int(errorTypeEnd)-1)
	for t := ConnectionFailed; t < errorTypeEnd; t++ {
		types = append(types, t)
	}
	return types
}

func (t ErrorType) valid() bool {
	return t > 0 && t < errorTypeEnd
}

func (t ErrorType) String() string {
	if name, ok := errorTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(t))
}

func (t ErrorType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *ErrorType) UnmarshalText(data []byte) error {
	for k, v := range errorTypeNames {
		if v == string(data) {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("invalid error type %q", string(data))
}

// Category groups error types by the subsystem they originate from.
type Category string

const (
	CategoryConnection   Category = "connection"
	CategoryMedia        Category = "media"
	CategoryCall         Category = "call"
	CategoryConference   Category = "conference"
	CategoryFileTransfer Category = "file_transfer"
	CategoryNetwork      Category = "network"
	CategoryPermission   Category = "permission"
	CategorySystem       Category = "system"
)

// Category returns the group t belongs to.
func (t ErrorType) Category() Category {
	switch {
	case t <= SignalingError:
		return CategoryConnection
	case t <= ScreenShareError:
		return CategoryMedia
	case t <= FeatureDisabled:
		return CategoryCall
	case t <= ConferenceEnded:
		return CategoryConference
	case t <= FileTypeNotSupported:
		return CategoryFileTransfer
	case t <= PoorNetworkQuality:
		return CategoryNetwork
	case t <= SecurityError:
		return CategoryPermission
	default:
		return CategorySystem
	}
}

type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Strategy is the recovery approach taken for an error.
type Strategy string

const (
	StrategyRetry          Strategy = "retry"
	StrategyFallback       Strategy = "fallback"
	StrategyUserAction     Strategy = "user_action"
	StrategyReloadPage     Strategy = "reload_page"
	StrategyContactSupport Strategy = "contact_support"
	StrategyNone           Strategy = "none"
)
