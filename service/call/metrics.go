// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package call

type Metrics interface {
	IncCalls(callType, direction string)
	IncActiveCalls()
	DecActiveCalls()
	IncCallTerminations(state, reason string)
	ObserveCallDuration(callType string, seconds float64)
	IncSignalingMessages(msgType, direction string)
}

type noopMetrics struct{}

func (noopMetrics) IncCalls(string, string)             {}
func (noopMetrics) IncActiveCalls()                     {}
func (noopMetrics) DecActiveCalls()                     {}
func (noopMetrics) IncCallTerminations(string, string)  {}
func (noopMetrics) ObserveCallDuration(string, float64) {}
func (noopMetrics) IncSignalingMessages(string, string) {}
