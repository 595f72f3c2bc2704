// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package signaling

type Metrics interface {
	IncWSConnections()
	DecWSConnections()
	IncWSMessages(msgType, direction string)
}

type noopMetrics struct{}

func (noopMetrics) IncWSConnections()            {}
func (noopMetrics) DecWSConnections()            {}
func (noopMetrics) IncWSMessages(string, string) {}
