package middleware

import (
	"bytes"
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stebofarm/gateway/internal/auth"
	"github.com/stebofarm/gateway/internal/cache"
	"github.com/stebofarm/gateway/internal/metrics"
	"github.com/stebofarm/gateway/internal/model"
	"github.com/stebofarm/gateway/internal/registry"
	"github.com/stebofarm/gateway/internal/signing"
)

// Reason is the machine-readable code returned when a request is rejected.
type Reason string

// Verification rejection reasons.
const (
	ReasonMissingIdentity      Reason = "MISSING_IDENTITY"
	ReasonUnknownIdentity      Reason = "UNKNOWN_IDENTITY"
	ReasonMissingSignature     Reason = "MISSING_SIGNATURE"
	ReasonMalformedSignature   Reason = "MALFORMED_SIGNATURE"
	ReasonInvalidSignature     Reason = "INVALID_SIGNATURE"
	ReasonPayloadTooLarge      Reason = "PAYLOAD_TOO_LARGE"
	ReasonMissingReplayHeaders Reason = "MISSING_REPLAY_HEADERS"
	ReasonStaleRequest         Reason = "STALE_REQUEST"
	ReasonReplayedRequest      Reason = "REPLAYED_REQUEST"
	ReasonAuthUnavailable      Reason = "AUTH_UNAVAILABLE"
)

// reasonResponses holds the status and fixed message for each reason. The
// message never includes request data or verification internals.
var reasonResponses = map[Reason]struct {
	status  int
	message string
}{
	ReasonMissingIdentity:      {http.StatusForbidden, "Missing frontend identity"},
	ReasonUnknownIdentity:      {http.StatusForbidden, "Unknown frontend identity"},
	ReasonMissingSignature:     {http.StatusForbidden, "Missing request signature"},
	ReasonMalformedSignature:   {http.StatusForbidden, "Malformed request signature"},
	ReasonInvalidSignature:     {http.StatusForbidden, "Invalid request signature"},
	ReasonPayloadTooLarge:      {http.StatusRequestEntityTooLarge, "Request body too large"},
	ReasonMissingReplayHeaders: {http.StatusForbidden, "Missing or malformed timestamp or nonce"},
	ReasonStaleRequest:         {http.StatusForbidden, "Request timestamp outside allowed window"},
	ReasonReplayedRequest:      {http.StatusForbidden, "Request already processed"},
	ReasonAuthUnavailable:      {http.StatusServiceUnavailable, "Authentication temporarily unavailable"},
}

// Defaults for SignatureConfig.
const (
	DefaultReplayWindow = 5 * time.Minute
	maxNonceLength      = 128
)

// DefaultBypassPrefixes are the path prefixes exempt from verification.
var DefaultBypassPrefixes = []string{"/admin/", "/static/"}

// FrontendResolver resolves a unique key to its frontend. It returns
// registry.ErrUnknownFrontend for keys that were never issued.
type FrontendResolver interface {
	Lookup(ctx context.Context, uniqueKey string) (*model.Frontend, error)
}

// NonceStore remembers replay nonces. ClaimNonce returns false when the
// nonce was already claimed within ttl.
type NonceStore interface {
	ClaimNonce(ctx context.Context, frontendID, nonce string, ttl time.Duration) (bool, error)
}

// SignatureConfig holds configuration for the signature verifier.
type SignatureConfig struct {
	Logger    *slog.Logger
	Frontends FrontendResolver
	PublicKey *rsa.PublicKey
	Metrics   metrics.Recorder

	// BypassPrefixes are path prefixes passed through unverified.
	BypassPrefixes []string
	// MaxBodySize bounds the body read for verification. Zero means 1MB.
	MaxBodySize int64

	// ReplayProtection requires X-Timestamp and X-Nonce and signs
	// "{timestamp}.{nonce}.{body}" instead of the bare body.
	ReplayProtection bool
	ReplayWindow     time.Duration
	Nonces           NonceStore

	// Now is the clock used for the replay window. Defaults to time.Now.
	Now func() time.Time
}

// VerifySignature returns a middleware that admits only requests signed by a
// registered frontend. Checks run in order and stop at the first failure:
// bypass prefix, identity, signature header, body signature. On success the
// body is restored unchanged and the caller is attached to the context.
func VerifySignature(cfg SignatureConfig) func(http.Handler) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	if cfg.BypassPrefixes == nil {
		cfg.BypassPrefixes = DefaultBypassPrefixes
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 1 << 20
	}
	if cfg.ReplayWindow <= 0 {
		cfg.ReplayWindow = DefaultReplayWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ReplayProtection && cfg.Nonces == nil {
		cfg.Nonces = cache.NewMemoryNonces()
	}
	logger := cfg.Logger.With("component", "signature")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hasBypassPrefix(r.URL.Path, cfg.BypassPrefixes) {
				cfg.Metrics.IncVerification(metrics.OutcomeBypassed)
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			defer func() {
				cfg.Metrics.ObserveVerificationDuration(time.Since(start))
			}()

			reject := func(reason Reason, attrs ...slog.Attr) {
				cfg.Metrics.IncVerification(string(reason))
				attrs = append(attrs,
					slog.String("reason", string(reason)),
					slog.String("ip", r.RemoteAddr),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				level := slog.LevelWarn
				if reason == ReasonAuthUnavailable {
					level = slog.LevelError
				}
				logger.LogAttrs(r.Context(), level, "request rejected", attrs...)
				writeReason(w, reason)
			}

			uniqueKey := r.Header.Get(signing.HeaderUniqueKey)
			if uniqueKey == "" {
				reject(ReasonMissingIdentity)
				return
			}

			frontend, err := cfg.Frontends.Lookup(r.Context(), uniqueKey)
			if err != nil {
				if errors.Is(err, registry.ErrUnknownFrontend) {
					reject(ReasonUnknownIdentity, slog.Bool("issued_format", auth.IsIssuedFormat(uniqueKey)))
					return
				}
				reject(ReasonAuthUnavailable, slog.String("error", err.Error()))
				return
			}
			frontendAttr := slog.String("frontend_id", frontend.ID)

			sigHeader := r.Header.Get(signing.HeaderSignature)
			if sigHeader == "" {
				reject(ReasonMissingSignature, frontendAttr)
				return
			}
			signature, err := signing.DecodeSignature(sigHeader)
			if err != nil {
				reject(ReasonMalformedSignature, frontendAttr)
				return
			}

			var (
				timestamp int64
				nonce     string
			)
			if cfg.ReplayProtection {
				var reason Reason
				timestamp, nonce, reason = parseReplayHeaders(r, cfg.Now(), cfg.ReplayWindow)
				if reason != "" {
					reject(reason, frontendAttr)
					return
				}
			}

			raw, err := readBody(r, cfg.MaxBodySize)
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.Is(err, errBodyTooLarge) || errors.As(err, &tooLarge) {
					reject(ReasonPayloadTooLarge, frontendAttr)
					return
				}
				// An unreadable body cannot match any signature.
				reject(ReasonInvalidSignature, frontendAttr, slog.String("error", err.Error()))
				return
			}

			payload := raw
			if cfg.ReplayProtection {
				payload = signing.CanonicalPayload(timestamp, nonce, raw)
			}
			if err := signing.Verify(cfg.PublicKey, payload, signature); err != nil {
				reject(ReasonInvalidSignature, frontendAttr)
				return
			}

			if cfg.ReplayProtection {
				claimed, err := cfg.Nonces.ClaimNonce(r.Context(), frontend.ID, nonce, 2*cfg.ReplayWindow)
				if err != nil {
					reject(ReasonAuthUnavailable, frontendAttr, slog.String("error", err.Error()))
					return
				}
				if !claimed {
					reject(ReasonReplayedRequest, frontendAttr)
					return
				}
			}

			r.Body = io.NopCloser(bytes.NewReader(raw))
			r.ContentLength = int64(len(raw))

			cfg.Metrics.IncVerification(metrics.OutcomeAccepted)
			annotateFrontend(r.Context(), frontend.ID)
			logger.Debug("request verified",
				frontendAttr,
				slog.String("frontend", frontend.Name),
				slog.String("request_id", GetRequestID(r.Context())),
			)

			ctx := auth.ContextWithCaller(r.Context(), frontend.Caller())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

var errBodyTooLarge = errors.New("request body too large")

// readBody reads at most limit bytes of the request body.
func readBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return []byte{}, nil
	}
	defer r.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(raw)) > limit {
		return nil, errBodyTooLarge
	}
	return raw, nil
}

// parseReplayHeaders validates X-Timestamp and X-Nonce against now and window.
func parseReplayHeaders(r *http.Request, now time.Time, window time.Duration) (int64, string, Reason) {
	tsHeader := r.Header.Get(signing.HeaderTimestamp)
	nonce := r.Header.Get(signing.HeaderNonce)
	if tsHeader == "" || nonce == "" || len(nonce) > maxNonceLength || strings.ContainsAny(nonce, ". ") {
		return 0, "", ReasonMissingReplayHeaders
	}

	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return 0, "", ReasonMissingReplayHeaders
	}

	skew := now.Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > window {
		return 0, "", ReasonStaleRequest
	}

	return ts, nonce, ""
}

func hasBypassPrefix(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// writeReason writes the JSON error body for a rejection reason.
func writeReason(w http.ResponseWriter, reason Reason) {
	resp, ok := reasonResponses[reason]
	if !ok {
		resp = reasonResponses[ReasonInvalidSignature]
	}
	writeError(w, resp.status, string(reason), resp.message)
}

// writeError writes the standard {"error":{"code","message"}} body.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"error":{"code":%q,"message":%q}}`, code, message)
}
