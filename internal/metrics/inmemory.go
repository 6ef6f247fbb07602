package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// OutcomeCount is the number of verifications that ended with Outcome.
type OutcomeCount struct {
	Outcome string
	Count   uint64
}

// Snapshot captures current in-memory counters.
type Snapshot struct {
	Verifications               []OutcomeCount // sorted by Outcome
	VerificationDurationCount   uint64
	VerificationDurationTotalNs int64
	IdentityCacheHits           uint64
	IdentityCacheMisses         uint64
	FrontendsRegistered         uint64
	RateLimited                 uint64
}

// VerificationCount returns the count recorded for outcome.
func (s Snapshot) VerificationCount(outcome string) uint64 {
	for _, v := range s.Verifications {
		if v.Outcome == outcome {
			return v.Count
		}
	}
	return 0
}

// InMemoryRecorder stores metrics in memory.
type InMemoryRecorder struct {
	mu            sync.Mutex
	verifications map[string]uint64

	verificationDurationCount   uint64
	verificationDurationTotalNs int64
	identityCacheHits           uint64
	identityCacheMisses         uint64
	frontendsRegistered         uint64
	rateLimited                 uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{verifications: make(map[string]uint64)}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	outcomes := make([]OutcomeCount, 0, len(m.verifications))
	for outcome, count := range m.verifications {
		outcomes = append(outcomes, OutcomeCount{Outcome: outcome, Count: count})
	}
	m.mu.Unlock()

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Outcome < outcomes[j].Outcome })

	return Snapshot{
		Verifications:               outcomes,
		VerificationDurationCount:   atomic.LoadUint64(&m.verificationDurationCount),
		VerificationDurationTotalNs: atomic.LoadInt64(&m.verificationDurationTotalNs),
		IdentityCacheHits:           atomic.LoadUint64(&m.identityCacheHits),
		IdentityCacheMisses:         atomic.LoadUint64(&m.identityCacheMisses),
		FrontendsRegistered:         atomic.LoadUint64(&m.frontendsRegistered),
		RateLimited:                 atomic.LoadUint64(&m.rateLimited),
	}
}

// IncVerification increments the counter for a verification outcome.
func (m *InMemoryRecorder) IncVerification(outcome string) {
	m.mu.Lock()
	m.verifications[outcome]++
	m.mu.Unlock()
}

// ObserveVerificationDuration records time spent in the verifier.
func (m *InMemoryRecorder) ObserveVerificationDuration(duration time.Duration) {
	atomic.AddUint64(&m.verificationDurationCount, 1)
	atomic.AddInt64(&m.verificationDurationTotalNs, duration.Nanoseconds())
}

// IncIdentityCacheHit increments cache hit counter.
func (m *InMemoryRecorder) IncIdentityCacheHit() {
	atomic.AddUint64(&m.identityCacheHits, 1)
}

// IncIdentityCacheMiss increments cache miss counter.
func (m *InMemoryRecorder) IncIdentityCacheMiss() {
	atomic.AddUint64(&m.identityCacheMisses, 1)
}

// IncFrontendRegistered increments the registration counter.
func (m *InMemoryRecorder) IncFrontendRegistered() {
	atomic.AddUint64(&m.frontendsRegistered, 1)
}

// IncRateLimited increments the rate limited counter.
func (m *InMemoryRecorder) IncRateLimited() {
	atomic.AddUint64(&m.rateLimited, 1)
}
