package signing

import (
	"io"
	"net/http"
	"strconv"
	"testing"
	"time"
)

func TestNewSigner_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewSigner(nil, "key"); err == nil {
		t.Error("expected error for nil private key")
	}
	if _, err := NewSigner(testKey, ""); err == nil {
		t.Error("expected error for empty unique key")
	}
}

func TestSigner_SignRequest(t *testing.T) {
	t.Parallel()

	signer, err := NewSigner(testKey, "frontend-key")
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}

	body := []byte(`{"ping":1}`)
	req, err := signer.NewRequest(http.MethodPost, "http://localhost/api/v1/ping", body)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}

	if got := req.Header.Get(HeaderUniqueKey); got != "frontend-key" {
		t.Errorf("%s = %q, want frontend-key", HeaderUniqueKey, got)
	}
	if req.Header.Get(HeaderTimestamp) != "" || req.Header.Get(HeaderNonce) != "" {
		t.Error("replay headers should be absent by default")
	}

	sent, err := io.ReadAll(req.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(sent) != string(body) {
		t.Errorf("body = %q, want %q", sent, body)
	}

	sig, err := DecodeSignature(req.Header.Get(HeaderSignature))
	if err != nil {
		t.Fatalf("DecodeSignature failed: %v", err)
	}
	if err := Verify(&testKey.PublicKey, sent, sig); err != nil {
		t.Errorf("signature over transmitted body should verify: %v", err)
	}
}

func TestSigner_ReplayHeaders(t *testing.T) {
	t.Parallel()

	fixed := time.Unix(1736600000, 0)
	signer, err := NewSigner(testKey, "frontend-key", WithReplayHeaders(), WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}

	body := []byte(`{"ping":1}`)
	req, err := signer.NewRequest(http.MethodPost, "http://localhost/api/v1/ping", body)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}

	if got := req.Header.Get(HeaderTimestamp); got != strconv.FormatInt(fixed.Unix(), 10) {
		t.Errorf("%s = %q, want %d", HeaderTimestamp, got, fixed.Unix())
	}
	nonce := req.Header.Get(HeaderNonce)
	if nonce == "" {
		t.Fatal("nonce header should be set")
	}

	sig, err := DecodeSignature(req.Header.Get(HeaderSignature))
	if err != nil {
		t.Fatalf("DecodeSignature failed: %v", err)
	}

	// Bare body must not verify; canonical form must.
	if err := Verify(&testKey.PublicKey, body, sig); err == nil {
		t.Error("signature should cover the canonical payload, not the bare body")
	}
	if err := Verify(&testKey.PublicKey, CanonicalPayload(fixed.Unix(), nonce, body), sig); err != nil {
		t.Errorf("canonical payload should verify: %v", err)
	}
}

func TestSigner_GetBodyReplays(t *testing.T) {
	t.Parallel()

	signer, err := NewSigner(testKey, "frontend-key")
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}

	body := []byte(`{"a":"b"}`)
	req, err := signer.NewRequest(http.MethodPost, "http://localhost/", body)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}

	rc, err := req.GetBody()
	if err != nil {
		t.Fatalf("GetBody failed: %v", err)
	}
	again, _ := io.ReadAll(rc)
	if string(again) != string(body) {
		t.Errorf("GetBody = %q, want %q", again, body)
	}
	if req.ContentLength != int64(len(body)) {
		t.Errorf("ContentLength = %d, want %d", req.ContentLength, len(body))
	}
}
