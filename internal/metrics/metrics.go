// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Verification outcomes recorded alongside the rejection reason codes.
const (
	OutcomeAccepted = "accepted"
	OutcomeBypassed = "bypassed"
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Signature verification metrics. outcome is OutcomeAccepted,
	// OutcomeBypassed, or a rejection reason code.
	IncVerification(outcome string)
	ObserveVerificationDuration(duration time.Duration)

	// Identity lookup metrics
	IncIdentityCacheHit()
	IncIdentityCacheMiss()

	// Registry metrics
	IncFrontendRegistered()

	// Rate limiting
	IncRateLimited()
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
