package signing

import (
	"bytes"
	"crypto/rsa"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Signer attaches signature headers to outgoing requests on behalf of one
// registered frontend. It is immutable after construction and safe for
// concurrent use.
type Signer struct {
	priv      *rsa.PrivateKey
	uniqueKey string
	replay    bool
	now       func() time.Time
	nonce     func() string
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithReplayHeaders makes the Signer add X-Timestamp and X-Nonce and sign the
// canonical "{timestamp}.{nonce}.{body}" form.
func WithReplayHeaders() SignerOption {
	return func(s *Signer) { s.replay = true }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) SignerOption {
	return func(s *Signer) { s.now = now }
}

// NewSigner creates a Signer for the frontend identified by uniqueKey.
func NewSigner(priv *rsa.PrivateKey, uniqueKey string, opts ...SignerOption) (*Signer, error) {
	if priv == nil {
		return nil, errors.New("private key is required")
	}
	if uniqueKey == "" {
		return nil, errors.New("unique key is required")
	}

	s := &Signer{
		priv:      priv,
		uniqueKey: uniqueKey,
		now:       time.Now,
		nonce:     func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SignRequest signs body and installs it as req's body together with the
// signature headers. body must already be in its final serialized form.
func (s *Signer) SignRequest(req *http.Request, body []byte) error {
	payload := body
	var ts int64
	var nonce string
	if s.replay {
		ts = s.now().Unix()
		nonce = s.nonce()
		payload = CanonicalPayload(ts, nonce, body)
	}

	sig, err := SignHex(payload, s.priv)
	if err != nil {
		return err
	}

	req.Body = io.NopCloser(bytes.NewReader(body))
	req.ContentLength = int64(len(body))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	req.Header.Set(HeaderUniqueKey, s.uniqueKey)
	req.Header.Set(HeaderSignature, sig)
	if s.replay {
		req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
		req.Header.Set(HeaderNonce, nonce)
	}
	return nil
}

// NewRequest builds a signed request in one step.
func (s *Signer) NewRequest(method, url string, body []byte) (*http.Request, error) {
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return nil, err
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := s.SignRequest(req, body); err != nil {
		return nil, err
	}
	return req, nil
}
