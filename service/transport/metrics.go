// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package transport

type Metrics interface {
	IncRTCConnState(state string)
	IncRTPPackets(direction, trackType string)
	AddRTPPacketBytes(direction, trackType string, value int)
}

type noopMetrics struct{}

func (noopMetrics) IncRTCConnState(string)                {}
func (noopMetrics) IncRTPPackets(string, string)          {}
func (noopMetrics) AddRTPPacketBytes(string, string, int) {}
