package internaldefs

import (
	"github.com/MrEthical07/mail2fa"
)

// CounterDef names one counter for every exporter.
type CounterDef struct {
	ID   mail2fa.MetricID
	Name string
	Help string
}

// HistogramDef names one histogram for every exporter.
type HistogramDef struct {
	ID   mail2fa.MetricID
	Name string
	Help string
}

// CounterDefs lists the exported counters in exposition order.
var CounterDefs = []CounterDef{
	{ID: mail2fa.MetricChallengeIssued, Name: "mail2fa_challenge_issued_total", Help: "Challenges that issued and stored a new code."},
	{ID: mail2fa.MetricChallengeReused, Name: "mail2fa_challenge_reused_total", Help: "Challenges answered by an already-live code."},
	{ID: mail2fa.MetricChallengeIdentityUnresolved, Name: "mail2fa_challenge_identity_unresolved_total", Help: "Challenges whose user could not be identified."},
	{ID: mail2fa.MetricChallengeFailed, Name: "mail2fa_challenge_failed_total", Help: "Challenges that failed before a code was stored."},
	{ID: mail2fa.MetricDeliverySuccess, Name: "mail2fa_delivery_success_total", Help: "Codes accepted by the notifier."},
	{ID: mail2fa.MetricDeliveryFailure, Name: "mail2fa_delivery_failure_total", Help: "Codes the notifier failed to deliver."},
	{ID: mail2fa.MetricVerifySuccess, Name: "mail2fa_verify_success_total", Help: "Successful login verifications."},
	{ID: mail2fa.MetricVerifyFailure, Name: "mail2fa_verify_failure_total", Help: "Wrong codes that left attempts on the record."},
	{ID: mail2fa.MetricVerifyNoValidCode, Name: "mail2fa_verify_no_valid_code_total", Help: "Verifications with no live code."},
	{ID: mail2fa.MetricVerifyAttemptsExhausted, Name: "mail2fa_verify_attempts_exhausted_total", Help: "Codes destroyed after the last allowed wrong guess."},
	{ID: mail2fa.MetricActivationSuccess, Name: "mail2fa_activation_success_total", Help: "Successful second-factor activations."},
	{ID: mail2fa.MetricActivationFailure, Name: "mail2fa_activation_failure_total", Help: "Failed second-factor activation confirmations."},
	{ID: mail2fa.MetricSweepRuns, Name: "mail2fa_sweep_runs_total", Help: "Completed retention sweeps."},
	{ID: mail2fa.MetricSweepCodesPurged, Name: "mail2fa_sweep_codes_purged_total", Help: "Expired codes removed by retention sweeps."},
	{ID: mail2fa.MetricSweepAuditEntriesPurged, Name: "mail2fa_sweep_audit_entries_purged_total", Help: "Audit entries removed by retention sweeps."},
}

// HistogramDefs lists the exported histograms.
var HistogramDefs = []HistogramDef{
	{ID: mail2fa.MetricVerifyLatency, Name: "mail2fa_verify_latency_seconds", Help: "Code verification latency histogram."},
}

// Series rendered outside the counter and histogram tables.
const (
	AuditDroppedName = "mail2fa_audit_dropped_total"
	AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."

	LastSweepName = "mail2fa_sweep_last_success_timestamp_seconds"
	LastSweepHelp = "Unix time of the last successful retention sweep; 0 until one completes."
)

// LastSweepSeconds converts the snapshot's last sweep time into exposition units.
func LastSweepSeconds(s mail2fa.MetricsSnapshot) float64 {
	if s.LastSweep.IsZero() {
		return 0
	}
	return float64(s.LastSweep.UnixNano()) / 1e9
}

// HistogramBounds are the upper bounds in seconds, matching the engine's buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix turns each bound into a metric-name-safe suffix.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array; missing buckets read as zero.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
