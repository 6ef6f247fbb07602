package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncVerification is a no-op.
func (n *NoopRecorder) IncVerification(outcome string) {}

// ObserveVerificationDuration is a no-op.
func (n *NoopRecorder) ObserveVerificationDuration(duration time.Duration) {}

// IncIdentityCacheHit is a no-op.
func (n *NoopRecorder) IncIdentityCacheHit() {}

// IncIdentityCacheMiss is a no-op.
func (n *NoopRecorder) IncIdentityCacheMiss() {}

// IncFrontendRegistered is a no-op.
func (n *NoopRecorder) IncFrontendRegistered() {}

// IncRateLimited is a no-op.
func (n *NoopRecorder) IncRateLimited() {}
