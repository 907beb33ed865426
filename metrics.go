package stepauth

import (
	"strconv"
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter.
type MetricID uint16

const (
	// MetricLoginSuccess is an exported constant or variable used by the authentication engine.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure is an exported constant or variable used by the authentication engine.
	MetricLoginFailure
	// MetricLoginRateLimited is an exported constant or variable used by the authentication engine.
	MetricLoginRateLimited
	// MetricOTPIssued is an exported constant or variable used by the authentication engine.
	MetricOTPIssued
	// MetricOTPDeliveryFailed is an exported constant or variable used by the authentication engine.
	MetricOTPDeliveryFailed
	// MetricOTPValidated is an exported constant or variable used by the authentication engine.
	MetricOTPValidated
	// MetricOTPInvalid is an exported constant or variable used by the authentication engine.
	MetricOTPInvalid
	// MetricOTPExpired is an exported constant or variable used by the authentication engine.
	MetricOTPExpired
	// MetricOTPAttemptsExceeded is an exported constant or variable used by the authentication engine.
	MetricOTPAttemptsExceeded
	// MetricTokenIssued is an exported constant or variable used by the authentication engine.
	MetricTokenIssued
	// MetricTokenRevoked is an exported constant or variable used by the authentication engine.
	MetricTokenRevoked
	// MetricTokensRevokedAll is an exported constant or variable used by the authentication engine.
	MetricTokensRevokedAll
	// MetricRefreshSuccess is an exported constant or variable used by the authentication engine.
	MetricRefreshSuccess
	// MetricRefreshFailure is an exported constant or variable used by the authentication engine.
	MetricRefreshFailure
	// MetricValidateSuccess is an exported constant or variable used by the authentication engine.
	MetricValidateSuccess
	// MetricValidateFailure is an exported constant or variable used by the authentication engine.
	MetricValidateFailure
	// MetricSessionCreated is an exported constant or variable used by the authentication engine.
	MetricSessionCreated
	// MetricSessionEnded is an exported constant or variable used by the authentication engine.
	MetricSessionEnded
	// MetricLogout is an exported constant or variable used by the authentication engine.
	MetricLogout
	// MetricLogoutAll is an exported constant or variable used by the authentication engine.
	MetricLogoutAll
	// MetricPolicyDegraded is an exported constant or variable used by the authentication engine.
	MetricPolicyDegraded

	metricCount
)

var metricNames = [metricCount]string{
	MetricLoginSuccess:        "login_success_total",
	MetricLoginFailure:        "login_failure_total",
	MetricLoginRateLimited:    "login_rate_limited_total",
	MetricOTPIssued:           "otp_issued_total",
	MetricOTPDeliveryFailed:   "otp_delivery_failed_total",
	MetricOTPValidated:        "otp_validated_total",
	MetricOTPInvalid:          "otp_invalid_total",
	MetricOTPExpired:          "otp_expired_total",
	MetricOTPAttemptsExceeded: "otp_attempts_exceeded_total",
	MetricTokenIssued:         "token_issued_total",
	MetricTokenRevoked:        "token_revoked_total",
	MetricTokensRevokedAll:    "tokens_revoked_all_total",
	MetricRefreshSuccess:      "refresh_success_total",
	MetricRefreshFailure:      "refresh_failure_total",
	MetricValidateSuccess:     "validate_success_total",
	MetricValidateFailure:     "validate_failure_total",
	MetricSessionCreated:      "session_created_total",
	MetricSessionEnded:        "session_ended_total",
	MetricLogout:              "logout_total",
	MetricLogoutAll:           "logout_all_total",
	MetricPolicyDegraded:      "policy_degraded_total",
}

// MetricName describes the metricname operation and its observable behavior.
func MetricName(id MetricID) string {
	if id >= metricCount {
		return "unknown"
	}
	return metricNames[id]
}

// paddedCounter occupies a full cache line so adjacent hot counters do not
// false-share under concurrent increments.
type paddedCounter struct {
	value atomic.Uint64
	_     [56]byte
}

// validateLatencyBounds are the upper bounds, in milliseconds, of the
// ValidateToken latency histogram. The last bucket is unbounded.
var validateLatencyBounds = [7]uint64{5, 10, 25, 50, 100, 250, 500}

const validateLatencyBuckets = len(validateLatencyBounds) + 1

func bucketIndex(ms uint64) int {
	for i, bound := range validateLatencyBounds {
		if ms <= bound {
			return i
		}
	}
	return validateLatencyBuckets - 1
}

type metricSet struct {
	enabled  bool
	counters [metricCount]paddedCounter
	latency  [validateLatencyBuckets]paddedCounter
}

func (m *metricSet) inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricCount {
		return
	}
	m.counters[id].value.Add(1)
}

func (m *metricSet) observeValidate(d time.Duration) {
	if m == nil || !m.enabled {
		return
	}
	m.latency[bucketIndex(uint64(d.Milliseconds()))].value.Add(1)
}

// MetricsSnapshot defines a public type used by stepauth APIs.
// MetricsSnapshot instances are intended to be configured during initialization and then
// treated as immutable unless documented otherwise.
type MetricsSnapshot struct {
	// Counters maps metric names to monotonically increasing totals.
	Counters map[string]uint64

	// ValidateLatencyMs maps histogram bucket labels ("le_5", "le_10", ...,
	// "le_inf") to observation counts for ValidateToken.
	ValidateLatencyMs map[string]uint64
}

func (m *metricSet) snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Counters:          make(map[string]uint64, metricCount),
		ValidateLatencyMs: make(map[string]uint64, validateLatencyBuckets),
	}
	if m == nil {
		return snap
	}
	for id := MetricID(0); id < metricCount; id++ {
		snap.Counters[metricNames[id]] = m.counters[id].value.Load()
	}
	for i := range m.latency {
		snap.ValidateLatencyMs[latencyBucketLabel(i)] = m.latency[i].value.Load()
	}
	return snap
}

func latencyBucketLabel(i int) string {
	if i >= len(validateLatencyBounds) {
		return "le_inf"
	}
	return "le_" + strconv.FormatUint(validateLatencyBounds[i], 10)
}
