package handler

import (
	"fmt"
	"net/http"

	"github.com/stebofarm/gateway/internal/metrics"
)

// MetricsHandler exposes in-memory metrics.
type MetricsHandler struct {
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{snapshotter: snapshotter}
}

// Metrics returns metrics in Prometheus exposition format.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := h.snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	for _, v := range snap.Verifications {
		writeMetric(w, "gateway_signature_verifications_total{outcome=%q} %d\n", v.Outcome, v.Count)
	}
	writeMetric(w, "gateway_signature_verification_duration_seconds_count %d\n", snap.VerificationDurationCount)
	writeMetric(w, "gateway_signature_verification_duration_seconds_sum %.6f\n", float64(snap.VerificationDurationTotalNs)/1e9)

	writeMetric(w, "gateway_identity_cache_hits_total %d\n", snap.IdentityCacheHits)
	writeMetric(w, "gateway_identity_cache_misses_total %d\n", snap.IdentityCacheMisses)

	writeMetric(w, "gateway_frontends_registered_total %d\n", snap.FrontendsRegistered)
	writeMetric(w, "gateway_rate_limited_total %d\n", snap.RateLimited)
}

func writeMetric(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
