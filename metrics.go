package mail2fa

import (
	internalmetrics "github.com/MrEthical07/mail2fa/internal/metrics"
)

// MetricID defines a public type used by mail2fa APIs.
type MetricID = internalmetrics.MetricID

const (
	// MetricChallengeIssued counts challenges that generated and stored a new code.
	MetricChallengeIssued = internalmetrics.MetricChallengeIssued
	// MetricChallengeReused counts challenges answered by an already-live code.
	MetricChallengeReused = internalmetrics.MetricChallengeReused
	// MetricChallengeIdentityUnresolved is an exported constant or variable used by the verification engine.
	MetricChallengeIdentityUnresolved = internalmetrics.MetricChallengeIdentityUnresolved
	// MetricChallengeFailed is an exported constant or variable used by the verification engine.
	MetricChallengeFailed = internalmetrics.MetricChallengeFailed
	// MetricDeliverySuccess is an exported constant or variable used by the verification engine.
	MetricDeliverySuccess = internalmetrics.MetricDeliverySuccess
	// MetricDeliveryFailure is an exported constant or variable used by the verification engine.
	MetricDeliveryFailure = internalmetrics.MetricDeliveryFailure
	// MetricVerifySuccess is an exported constant or variable used by the verification engine.
	MetricVerifySuccess = internalmetrics.MetricVerifySuccess
	// MetricVerifyFailure counts wrong codes that left budget on the record.
	MetricVerifyFailure = internalmetrics.MetricVerifyFailure
	// MetricVerifyNoValidCode is an exported constant or variable used by the verification engine.
	MetricVerifyNoValidCode = internalmetrics.MetricVerifyNoValidCode
	// MetricVerifyAttemptsExhausted is an exported constant or variable used by the verification engine.
	MetricVerifyAttemptsExhausted = internalmetrics.MetricVerifyAttemptsExhausted
	// MetricActivationSuccess is an exported constant or variable used by the verification engine.
	MetricActivationSuccess = internalmetrics.MetricActivationSuccess
	// MetricActivationFailure is an exported constant or variable used by the verification engine.
	MetricActivationFailure = internalmetrics.MetricActivationFailure
	// MetricSweepRuns is an exported constant or variable used by the verification engine.
	MetricSweepRuns = internalmetrics.MetricSweepRuns
	// MetricSweepCodesPurged is an exported constant or variable used by the verification engine.
	MetricSweepCodesPurged = internalmetrics.MetricSweepCodesPurged
	// MetricSweepAuditEntriesPurged is an exported constant or variable used by the verification engine.
	MetricSweepAuditEntriesPurged = internalmetrics.MetricSweepAuditEntriesPurged
	// MetricVerifyLatency is the histogram slot for verification latency.
	MetricVerifyLatency = internalmetrics.MetricVerifyLatency
)

// Metrics defines a public type used by mail2fa APIs.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of all counters and histograms.
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics describes the newmetrics operation and its observable behavior.
//
// NewMetrics does not mutate shared global state and can be used concurrently.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(cfg.Enabled, cfg.EnableLatencyHistograms)
}
