// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package recovery

type Metrics interface {
	IncErrors(errType, severity string)
	IncRetryAttempts(errType string)
	IncRecoveryFailures(errType string)
	IncErrorsResolved(errType string)
}

type noopMetrics struct{}

func (noopMetrics) IncErrors(string, string)   {}
func (noopMetrics) IncRetryAttempts(string)    {}
func (noopMetrics) IncRecoveryFailures(string) {}
func (noopMetrics) IncErrorsResolved(string)   {}
