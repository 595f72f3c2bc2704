// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package recovery

import (
	"fmt"
	"time"
)

// Policy describes how an error type is handled.
type Policy struct {
	Severity         Severity
	Strategy         Strategy
	Retryable        bool
	MaxRetries       int
	RetryDelay       time.Duration
	UserMessage      string
	SuggestedActions []string
}

func retry(sev Severity, maxRetries int, delay time.Duration, msg string, actions ...string) Policy {
	return Policy{
		Severity:         sev,
		Strategy:         StrategyRetry,
		Retryable:        true,
		MaxRetries:       maxRetries,
		RetryDelay:       delay,
		UserMessage:      msg,
		SuggestedActions: actions,
	}
}

func final(sev Severity, strategy Strategy, msg string, actions ...string) Policy {
	return Policy{
		Severity:         sev,
		Strategy:         strategy,
		UserMessage:      msg,
		SuggestedActions: actions,
	}
}

// PolicyFor returns the handling policy for t. Every member of the
// taxonomy has an entry and any other value panics.
func PolicyFor(t ErrorType) Policy {
	switch t {
	case ConnectionFailed:
		return retry(SeverityHigh, 3, 5*time.Second, "Unable to connect the call.",
			"Check your internet connection", "Try again in a moment")
	case ConnectionTimeout:
		return retry(SeverityMedium, 3, 3*time.Second, "The connection timed out.",
			"Check your internet connection")
	case ConnectionLost:
		return retry(SeverityHigh, 5, 2*time.Second, "The connection was lost. Reconnecting.",
			"Check your internet connection")
	case ICEConnectionFailed:
		return retry(SeverityHigh, 3, 3*time.Second, "Unable to establish a media connection.",
			"Check your firewall settings", "Try a different network")
	case SignalingError:
		return retry(SeverityMedium, 3, 2*time.Second, "Unable to reach the call service.",
			"Try again in a moment")
	case MediaAccessDenied:
		return final(SeverityHigh, StrategyUserAction, "Access to your microphone or camera was denied.",
			"Allow microphone and camera access", "Reload after changing permissions")
	case MediaDeviceNotFound:
		return final(SeverityMedium, StrategyUserAction, "No microphone or camera was found.",
			"Connect a microphone or camera", "Check your device settings")
	case MediaDeviceBusy:
		return retry(SeverityMedium, 2, 2*time.Second, "Your microphone or camera is in use by another application.",
			"Close other applications using the device")
	case MediaDeviceError:
		return retry(SeverityMedium, 2, time.Second, "Your microphone or camera failed to start.",
			"Reconnect the device")
	case MediaConstraintError:
		return final(SeverityLow, StrategyFallback, "Your device does not support the requested quality.")
	case ScreenShareError:
		return final(SeverityLow, StrategyNone, "Screen sharing could not be started.",
			"Select a screen or window to share")
	case CallRejected:
		return final(SeverityLow, StrategyNone, "The call was declined.")
	case CallTimeout:
		return final(SeverityMedium, StrategyNone, "The call was not answered.",
			"Try calling again later")
	case CallBusy:
		return final(SeverityLow, StrategyNone, "The user is busy.",
			"Try calling again later")
	case CallEnded:
		return final(SeverityLow, StrategyNone, "The call has ended.")
	case InvalidCallState:
		return final(SeverityLow, StrategyNone, "This action is not available right now.")
	case FeatureDisabled:
		return final(SeverityMedium, StrategyContactSupport, "This feature is disabled.",
			"Contact your administrator")
	case ConferenceJoinFailed:
		return retry(SeverityHigh, 3, 3*time.Second, "Unable to join the conference.",
			"Try again in a moment")
	case ConferenceFull:
		return final(SeverityMedium, StrategyNone, "The conference is full.")
	case ConferencePermissionDenied:
		return final(SeverityHigh, StrategyUserAction, "You are not allowed to join this conference.",
			"Ask the host for access")
	case ConferenceEnded:
		return final(SeverityLow, StrategyNone, "The conference has ended.")
	case FileTransferFailed:
		return retry(SeverityMedium, 3, 2*time.Second, "The file could not be sent.",
			"Try sending the file again")
	case FileTooLarge:
		return final(SeverityLow, StrategyUserAction, "The file is too large.",
			"Choose a smaller file")
	case FileTypeNotSupported:
		return final(SeverityLow, StrategyUserAction, "This file type is not supported.",
			"Choose a different file")
	case NetworkUnavailable:
		return retry(SeverityHigh, 5, 5*time.Second, "You appear to be offline.",
			"Check your internet connection")
	case InsufficientBandwidth:
		return final(SeverityMedium, StrategyFallback, "Your connection is too slow for video.",
			"Turn off your camera")
	case PoorNetworkQuality:
		return final(SeverityLow, StrategyFallback, "Your network quality is poor.")
	case PermissionDenied:
		return final(SeverityHigh, StrategyUserAction, "You don't have permission to do that.",
			"Check your permissions")
	case SecurityError:
		return final(SeverityHigh, StrategyUserAction, "The request was blocked for security reasons.",
			"Use a secure connection")
	case UnsupportedBrowser:
		return final(SeverityCritical, StrategyUserAction, "Your client does not support calls.",
			"Update to a supported client")
	case UnsupportedFeature:
		return final(SeverityCritical, StrategyContactSupport, "This feature is not supported.",
			"Contact support")
	case InitializationFailed:
		return final(SeverityCritical, StrategyReloadPage, "Calls could not be initialized.",
			"Restart the application")
	case UnknownError:
		return final(SeverityMedium, StrategyContactSupport, "Something went wrong.",
			"Try again", "Contact support if the problem persists")
	default:
		panic(fmt.Sprintf("recovery: no policy for error type %d", int(t)))
	}
}
