package middleware

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stebofarm/gateway/internal/auth"
	"github.com/stebofarm/gateway/internal/cache"
	"github.com/stebofarm/gateway/internal/metrics"
	"github.com/stebofarm/gateway/internal/model"
	"github.com/stebofarm/gateway/internal/registry"
	"github.com/stebofarm/gateway/internal/signing"
	"github.com/stebofarm/gateway/internal/testutil"
)

var (
	serverKey *rsa.PrivateKey
	otherKey  *rsa.PrivateKey
)

func TestMain(m *testing.M) {
	var err error
	if serverKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
		panic(err)
	}
	if otherKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// verifierEnv is a registry with one registered frontend behind the verifier.
type verifierEnv struct {
	frontend *model.Frontend
	recorder *metrics.InMemoryRecorder
	logs     *bytes.Buffer
	handler  http.Handler
	seen     *seenRequest
}

type seenRequest struct {
	body   []byte
	caller *model.Caller
	calls  int32
}

func newVerifierEnv(t *testing.T, mutate func(*SignatureConfig)) *verifierEnv {
	t.Helper()

	reg := registry.New(registry.NewMemoryStore(), nil, nil, nil)
	f, err := reg.Register(context.Background(), "mobile-app")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	env := &verifierEnv{
		frontend: f,
		recorder: metrics.NewInMemory(),
		logs:     &bytes.Buffer{},
		seen:     &seenRequest{},
	}

	cfg := SignatureConfig{
		Logger:    slog.New(slog.NewJSONHandler(env.logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
		Frontends: reg,
		PublicKey: &serverKey.PublicKey,
		Metrics:   env.recorder,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&env.seen.calls, 1)
		body, _ := io.ReadAll(r.Body)
		env.seen.body = body
		env.seen.caller = auth.CallerFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	env.handler = VerifySignature(cfg)(next)
	return env
}

func (e *verifierEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func signedRequest(t *testing.T, key *rsa.PrivateKey, uniqueKey, path string, body []byte) *http.Request {
	t.Helper()
	signer, err := signing.NewSigner(key, uniqueKey)
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, nil)
	if err := signer.SignRequest(req, body); err != nil {
		t.Fatalf("SignRequest failed: %v", err)
	}
	return req
}

func assertReason(t *testing.T, rec *httptest.ResponseRecorder, wantStatus int, want Reason) {
	t.Helper()
	if rec.Code != wantStatus {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, wantStatus, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error.Code != string(want) {
		t.Errorf("code = %q, want %q", body.Error.Code, want)
	}
	if body.Error.Message != reasonResponses[want].message {
		t.Errorf("message = %q, want fixed text %q", body.Error.Message, reasonResponses[want].message)
	}
}

func TestVerifySignature_SignedRequestPasses(t *testing.T) {
	t.Parallel()

	env := newVerifierEnv(t, nil)
	body := []byte(`{"ping":1}`)

	rec := env.serve(signedRequest(t, serverKey, env.frontend.UniqueKey, "/api/v1/ping", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	if !bytes.Equal(env.seen.body, body) {
		t.Errorf("downstream body = %q, want %q", env.seen.body, body)
	}
	if env.seen.caller == nil || env.seen.caller.FrontendName != "mobile-app" || env.seen.caller.FrontendID != env.frontend.ID {
		t.Errorf("caller = %+v, want mobile-app/%s", env.seen.caller, env.frontend.ID)
	}
	if got := env.recorder.Snapshot().VerificationCount(metrics.OutcomeAccepted); got != 1 {
		t.Errorf("accepted = %d, want 1", got)
	}
}

func TestVerifySignature_TamperedBody(t *testing.T) {
	t.Parallel()

	env := newVerifierEnv(t, nil)
	req := signedRequest(t, serverKey, env.frontend.UniqueKey, "/api/v1/ping", []byte(`{"ping":1}`))

	// Same headers, altered body.
	tampered := []byte(`{"ping":2}`)
	req.Body = io.NopCloser(bytes.NewReader(tampered))
	req.ContentLength = int64(len(tampered))

	rec := env.serve(req)
	assertReason(t, rec, http.StatusForbidden, ReasonInvalidSignature)
	if atomic.LoadInt32(&env.seen.calls) != 0 {
		t.Error("downstream must not run for a rejected request")
	}
}

func TestVerifySignature_WrongSigningKey(t *testing.T) {
	t.Parallel()

	env := newVerifierEnv(t, nil)
	rec := env.serve(signedRequest(t, otherKey, env.frontend.UniqueKey, "/api/v1/ping", []byte(`{"ping":1}`)))
	assertReason(t, rec, http.StatusForbidden, ReasonInvalidSignature)
}

func TestVerifySignature_MissingIdentitySkipsLookup(t *testing.T) {
	t.Parallel()

	resolver := &countingResolver{}
	env := newVerifierEnv(t, func(cfg *SignatureConfig) { cfg.Frontends = resolver })

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ping", strings.NewReader(`{"ping":1}`))
	req.Header.Set(signing.HeaderSignature, "zz-not-hex")

	rec := env.serve(req)
	assertReason(t, rec, http.StatusForbidden, ReasonMissingIdentity)
	if resolver.calls != 0 {
		t.Errorf("resolver called %d times, want 0", resolver.calls)
	}
}

func TestVerifySignature_UnknownIdentity(t *testing.T) {
	t.Parallel()

	env := newVerifierEnv(t, nil)
	unregistered, err := auth.GenerateUniqueKey()
	if err != nil {
		t.Fatalf("GenerateUniqueKey failed: %v", err)
	}

	rec := env.serve(signedRequest(t, serverKey, unregistered, "/api/v1/ping", []byte(`{"ping":1}`)))
	assertReason(t, rec, http.StatusForbidden, ReasonUnknownIdentity)
}

func TestVerifySignature_SignatureHeader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		want   Reason
	}{
		{"missing", "", ReasonMissingSignature},
		{"not hex", "not-a-hex-signature", ReasonMalformedSignature},
		{"odd length hex", "abc", ReasonMalformedSignature},
		{"valid hex wrong signature", strings.Repeat("ab", 256), ReasonInvalidSignature},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newVerifierEnv(t, nil)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/ping", strings.NewReader(`{"ping":1}`))
			req.Header.Set(signing.HeaderUniqueKey, env.frontend.UniqueKey)
			if tt.header != "" {
				req.Header.Set(signing.HeaderSignature, tt.header)
			}

			assertReason(t, env.serve(req), http.StatusForbidden, tt.want)
		})
	}
}

func TestVerifySignature_Bypass(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		prefixes   []string
		path       string
		wantStatus int
	}{
		{"admin default", nil, "/admin/frontends", http.StatusOK},
		{"static default", nil, "/static/app.js", http.StatusOK},
		{"api not bypassed", nil, "/api/v1/ping", http.StatusForbidden},
		{"admin without slash", nil, "/administrator", http.StatusForbidden},
		{"custom prefix", []string{"/public/"}, "/public/doc", http.StatusOK},
		{"custom replaces default", []string{"/public/"}, "/admin/frontends", http.StatusForbidden},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newVerifierEnv(t, func(cfg *SignatureConfig) { cfg.BypassPrefixes = tt.prefixes })
			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(`{"any":"thing"}`))

			rec := env.serve(req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestVerifySignature_EmptyBody(t *testing.T) {
	t.Parallel()

	env := newVerifierEnv(t, nil)
	req := signedRequest(t, serverKey, env.frontend.UniqueKey, "/api/v1/ping", nil)
	req.Method = http.MethodGet

	rec := env.serve(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	if len(env.seen.body) != 0 {
		t.Errorf("downstream body = %q, want empty", env.seen.body)
	}
}

func TestVerifySignature_PayloadTooLarge(t *testing.T) {
	t.Parallel()

	env := newVerifierEnv(t, func(cfg *SignatureConfig) { cfg.MaxBodySize = 16 })
	body := []byte(`{"data":"` + strings.Repeat("x", 64) + `"}`)

	rec := env.serve(signedRequest(t, serverKey, env.frontend.UniqueKey, "/api/v1/ping", body))
	assertReason(t, rec, http.StatusRequestEntityTooLarge, ReasonPayloadTooLarge)
}

func TestVerifySignature_ResolverFailureFailsClosed(t *testing.T) {
	t.Parallel()

	resolver := &countingResolver{err: errors.New("dial tcp 10.0.0.5:5432: connection refused")}
	env := newVerifierEnv(t, func(cfg *SignatureConfig) { cfg.Frontends = resolver })

	rec := env.serve(signedRequest(t, serverKey, env.frontend.UniqueKey, "/api/v1/ping", []byte(`{}`)))
	assertReason(t, rec, http.StatusServiceUnavailable, ReasonAuthUnavailable)
	if strings.Contains(rec.Body.String(), "10.0.0.5") {
		t.Error("backend error text leaked into response")
	}
	if atomic.LoadInt32(&env.seen.calls) != 0 {
		t.Error("downstream must not run when identity cannot be resolved")
	}
}

func TestVerifySignature_LogsOmitCredentials(t *testing.T) {
	t.Parallel()

	env := newVerifierEnv(t, nil)
	req := signedRequest(t, otherKey, env.frontend.UniqueKey, "/api/v1/ping", []byte(`{"ping":1}`))
	sig := req.Header.Get(signing.HeaderSignature)

	rec := env.serve(req)
	assertReason(t, rec, http.StatusForbidden, ReasonInvalidSignature)

	logs := env.logs.String()
	if !strings.Contains(logs, string(ReasonInvalidSignature)) {
		t.Errorf("rejection should be logged with its reason: %s", logs)
	}
	if strings.Contains(logs, env.frontend.UniqueKey) {
		t.Error("unique key must not be logged")
	}
	if strings.Contains(logs, sig) {
		t.Error("signature must not be logged")
	}
}

func TestVerifySignature_Metrics(t *testing.T) {
	t.Parallel()

	env := newVerifierEnv(t, nil)
	env.serve(httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil))
	env.serve(httptest.NewRequest(http.MethodGet, "/admin/frontends", nil))

	snap := env.recorder.Snapshot()
	if got := snap.VerificationCount(string(ReasonMissingIdentity)); got != 1 {
		t.Errorf("MISSING_IDENTITY = %d, want 1", got)
	}
	if got := snap.VerificationCount(metrics.OutcomeBypassed); got != 1 {
		t.Errorf("bypassed = %d, want 1", got)
	}
	if snap.VerificationDurationCount != 1 {
		t.Errorf("duration count = %d, want 1", snap.VerificationDurationCount)
	}
}

func TestVerifySignature_ReplayProtection(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	_, client := testutil.NewMiniRedis(t)
	nonces := cache.NewFromClient(client)

	env := newVerifierEnv(t, func(cfg *SignatureConfig) {
		cfg.ReplayProtection = true
		cfg.ReplayWindow = time.Minute
		cfg.Nonces = nonces
		cfg.Now = func() time.Time { return now }
	})

	replaySigned := func(t *testing.T, at time.Time) *http.Request {
		t.Helper()
		signer, err := signing.NewSigner(serverKey, env.frontend.UniqueKey,
			signing.WithReplayHeaders(),
			signing.WithClock(func() time.Time { return at }),
		)
		if err != nil {
			t.Fatalf("NewSigner failed: %v", err)
		}
		req := httptest.NewRequest(http.MethodPost, "/api/v1/ping", nil)
		if err := signer.SignRequest(req, []byte(`{"ping":1}`)); err != nil {
			t.Fatalf("SignRequest failed: %v", err)
		}
		return req
	}

	first := replaySigned(t, now)
	replayed := first.Clone(context.Background())
	replayed.Body = io.NopCloser(strings.NewReader(`{"ping":1}`))

	if rec := env.serve(first); rec.Code != http.StatusOK {
		t.Fatalf("fresh request: status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !bytes.Equal(env.seen.body, []byte(`{"ping":1}`)) {
		t.Errorf("downstream body = %q, want the bare body", env.seen.body)
	}

	assertReason(t, env.serve(replayed), http.StatusForbidden, ReasonReplayedRequest)

	stale := replaySigned(t, now.Add(-2*time.Minute))
	assertReason(t, env.serve(stale), http.StatusForbidden, ReasonStaleRequest)

	future := replaySigned(t, now.Add(2*time.Minute))
	assertReason(t, env.serve(future), http.StatusForbidden, ReasonStaleRequest)

	// Plain body signature without replay headers.
	plain := signedRequest(t, serverKey, env.frontend.UniqueKey, "/api/v1/ping", []byte(`{"ping":1}`))
	assertReason(t, env.serve(plain), http.StatusForbidden, ReasonMissingReplayHeaders)

	// Timestamp altered after signing breaks the signature.
	altered := replaySigned(t, now)
	altered.Header.Set(signing.HeaderTimestamp, strconv.FormatInt(now.Unix()+1, 10))
	assertReason(t, env.serve(altered), http.StatusForbidden, ReasonInvalidSignature)
}

func TestVerifySignature_ReplayDefaultsToMemoryNonces(t *testing.T) {
	t.Parallel()

	env := newVerifierEnv(t, func(cfg *SignatureConfig) {
		cfg.ReplayProtection = true
	})

	signer, err := signing.NewSigner(serverKey, env.frontend.UniqueKey, signing.WithReplayHeaders())
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ping", nil)
	if err := signer.SignRequest(req, []byte(`{}`)); err != nil {
		t.Fatalf("SignRequest failed: %v", err)
	}
	replayed := req.Clone(context.Background())
	replayed.Body = io.NopCloser(strings.NewReader(`{}`))

	if rec := env.serve(req); rec.Code != http.StatusOK {
		t.Fatalf("fresh request: status = %d, body %s", rec.Code, rec.Body.String())
	}
	assertReason(t, env.serve(replayed), http.StatusForbidden, ReasonReplayedRequest)
}

func TestParseReplayHeaders(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)

	tests := []struct {
		name  string
		ts    string
		nonce string
		want  Reason
	}{
		{"valid", ts, "abc-123", ""},
		{"missing timestamp", "", "abc", ReasonMissingReplayHeaders},
		{"missing nonce", ts, "", ReasonMissingReplayHeaders},
		{"non numeric timestamp", "yesterday", "abc", ReasonMissingReplayHeaders},
		{"nonce with separator", ts, "a.b", ReasonMissingReplayHeaders},
		{"nonce too long", ts, strings.Repeat("n", maxNonceLength+1), ReasonMissingReplayHeaders},
		{"edge of window", strconv.FormatInt(now.Unix()-300, 10), "abc", ""},
		{"outside window", strconv.FormatInt(now.Unix()-301, 10), "abc", ReasonStaleRequest},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.ts != "" {
				req.Header.Set(signing.HeaderTimestamp, tt.ts)
			}
			if tt.nonce != "" {
				req.Header.Set(signing.HeaderNonce, tt.nonce)
			}

			_, _, got := parseReplayHeaders(req, now, 5*time.Minute)
			if got != tt.want {
				t.Errorf("parseReplayHeaders() reason = %q, want %q", got, tt.want)
			}
		})
	}
}

type countingResolver struct {
	calls int
	err   error
}

func (c *countingResolver) Lookup(context.Context, string) (*model.Frontend, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return nil, registry.ErrUnknownFrontend
}
