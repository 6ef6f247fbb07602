package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stebofarm/gateway/internal/keys"
	"github.com/stebofarm/gateway/internal/signing"
)

// verifyingServer checks each request's signature against pub and records
// the bodies it accepted.
func verifyingServer(t *testing.T, kp *keys.Keypair) (*httptest.Server, *[]string) {
	t.Helper()

	var accepted []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		sig, err := signing.DecodeSignature(r.Header.Get(signing.HeaderSignature))
		if err != nil {
			http.Error(w, `{"error":"malformed"}`, http.StatusForbidden)
			return
		}
		payload := body
		if ts := r.Header.Get(signing.HeaderTimestamp); ts != "" {
			n, _ := strconv.ParseInt(ts, 10, 64)
			payload = signing.CanonicalPayload(n, r.Header.Get(signing.HeaderNonce), body)
		}
		if err := signing.Verify(kp.Public, payload, sig); err != nil {
			http.Error(w, `{"error":"invalid"}`, http.StatusForbidden)
			return
		}
		accepted = append(accepted, r.Header.Get(signing.HeaderUniqueKey)+":"+string(body))
		w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &accepted
}

func writeKeypair(t *testing.T) (*keys.Keypair, string) {
	t.Helper()

	kp, err := keys.Generate()
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	privPath := filepath.Join(dir, "private_key.pem")
	if err := keys.Save(kp, privPath, filepath.Join(dir, "public_key.pem")); err != nil {
		t.Fatal(err)
	}
	return kp, privPath
}

func TestRunSendsVerifiableRequest(t *testing.T) {
	kp, privPath := writeKeypair(t)
	srv, accepted := verifyingServer(t, kp)

	tests := []struct {
		name   string
		replay bool
	}{
		{name: "plain body"},
		{name: "replay headers", replay: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			*accepted = nil
			cli := signreqCLI{
				URL:       srv.URL,
				Key:       privPath,
				UniqueKey: "frontend-key",
				Method:    http.MethodPost,
				Data:      `{"ping":1}`,
				Replay:    tt.replay,
			}

			var out bytes.Buffer
			if err := cli.run(context.Background(), srv.Client(), &out); err != nil {
				t.Fatalf("run() error = %v, output %q", err, out.String())
			}
			if !strings.HasPrefix(out.String(), "Response: 200") {
				t.Fatalf("output = %q", out.String())
			}
			if len(*accepted) != 1 || (*accepted)[0] != `frontend-key:{"ping":1}` {
				t.Fatalf("accepted = %v", *accepted)
			}
		})
	}
}

func TestRunSignsFetchedPayload(t *testing.T) {
	kp, privPath := writeKeypair(t)
	srv, accepted := verifyingServer(t, kp)

	payloadSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"nonce":"abc"}`))
	}))
	t.Cleanup(payloadSrv.Close)

	cli := signreqCLI{
		URL:         srv.URL,
		Key:         privPath,
		UniqueKey:   "frontend-key",
		Method:      http.MethodPost,
		PayloadFrom: payloadSrv.URL,
	}
	if err := cli.run(context.Background(), http.DefaultClient, io.Discard); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if len(*accepted) != 1 || (*accepted)[0] != `frontend-key:{"nonce":"abc"}` {
		t.Fatalf("accepted = %v", *accepted)
	}
}

func TestRunFailsOnMalformedKey(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "private_key.pem")
	if err := os.WriteFile(path, []byte("not a pem file"), 0o600); err != nil {
		t.Fatal(err)
	}

	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	t.Cleanup(srv.Close)

	cli := signreqCLI{URL: srv.URL, Key: path, UniqueKey: "k", Method: http.MethodPost}
	err := cli.run(context.Background(), srv.Client(), io.Discard)
	if !errors.Is(err, keys.ErrKeyLoad) {
		t.Fatalf("run() error = %v, want ErrKeyLoad", err)
	}
	if called {
		t.Fatal("request was sent with an unusable key")
	}
}

func TestRunReportsRejection(t *testing.T) {
	t.Parallel()

	_, privPath := writeKeypair(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":"UNKNOWN_IDENTITY"}}`))
	}))
	t.Cleanup(srv.Close)

	var out bytes.Buffer
	cli := signreqCLI{URL: srv.URL, Key: privPath, UniqueKey: "k", Method: http.MethodPost, Data: "{}"}
	if err := cli.run(context.Background(), srv.Client(), &out); err == nil {
		t.Fatal("run() error = nil, want rejection")
	}
	if !strings.Contains(out.String(), "UNKNOWN_IDENTITY") {
		t.Fatalf("output = %q, want gateway response", out.String())
	}
}
