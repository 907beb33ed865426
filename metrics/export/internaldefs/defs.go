// Package internaldefs carries the metric definitions shared by the
// exporters so the Prometheus and OpenTelemetry views never drift apart.
package internaldefs

// CounterDef describes one engine counter for exporters.
type CounterDef struct {
	Name string
	Help string
}

// CounterDefs lists every engine counter, keyed by its snapshot name.
var CounterDefs = []CounterDef{
	{Name: "login_success_total", Help: "Completed logins (both phases passed)."},
	{Name: "login_failure_total", Help: "Login attempts that failed before token issuance."},
	{Name: "login_rate_limited_total", Help: "Login attempts denied by the policy engine."},
	{Name: "otp_issued_total", Help: "One-time code challenges created."},
	{Name: "otp_delivery_failed_total", Help: "One-time codes the notifier failed to deliver."},
	{Name: "otp_validated_total", Help: "One-time codes validated successfully."},
	{Name: "otp_invalid_total", Help: "One-time code submissions rejected as wrong or unknown."},
	{Name: "otp_expired_total", Help: "One-time code submissions rejected as expired."},
	{Name: "otp_attempts_exceeded_total", Help: "One-time code submissions rejected by the attempt cap."},
	{Name: "token_issued_total", Help: "Access and refresh tokens issued."},
	{Name: "token_revoked_total", Help: "Single-token revocations."},
	{Name: "tokens_revoked_all_total", Help: "Whole-user revocation sweeps."},
	{Name: "refresh_success_total", Help: "Refresh exchanges that issued a new access token."},
	{Name: "refresh_failure_total", Help: "Refresh exchanges rejected."},
	{Name: "validate_success_total", Help: "Access tokens validated successfully."},
	{Name: "validate_failure_total", Help: "Access tokens rejected during validation."},
	{Name: "session_created_total", Help: "Login sessions opened."},
	{Name: "session_ended_total", Help: "Login sessions ended."},
	{Name: "logout_total", Help: "Single-session logouts."},
	{Name: "logout_all_total", Help: "Whole-user logouts."},
	{Name: "policy_degraded_total", Help: "Logins that proceeded with the policy engine unavailable."},
}

// ValidateLatencyName is the exported histogram name for ValidateToken
// latency, in milliseconds.
const ValidateLatencyName = "validate_latency_ms"

// ValidateLatencyHelp is an exported constant or variable used by the authentication engine.
const ValidateLatencyHelp = "ValidateToken latency distribution in milliseconds."

// HistogramBounds are the bucket upper bounds in milliseconds, in order. The
// final snapshot bucket ("le_inf") is unbounded.
var HistogramBounds = []uint64{5, 10, 25, 50, 100, 250, 500}

// BucketLabels are the engine snapshot keys in bound order, ending with the
// unbounded bucket.
var BucketLabels = []string{"le_5", "le_10", "le_25", "le_50", "le_100", "le_250", "le_500", "le_inf"}

// CumulativeBuckets converts the engine's per-bucket counts into cumulative
// counts in bound order, plus the total observation count.
func CumulativeBuckets(buckets map[string]uint64) ([]uint64, uint64) {
	out := make([]uint64, len(BucketLabels))
	var running uint64
	for i, label := range BucketLabels {
		running += buckets[label]
		out[i] = running
	}
	return out, running
}
