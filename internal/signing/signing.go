// Package signing implements the request signature scheme shared by
// frontends and the backend: RSASSA-PKCS1-v1_5 over a SHA-256 digest of the
// exact bytes sent on the wire, hex-encoded for transport.
package signing

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
)

// Header names carried by every signed request.
const (
	HeaderUniqueKey = "X-Unique-Key"
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
	HeaderNonce     = "X-Nonce"
)

var (
	// ErrInvalidSignature is returned when a signature does not verify.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrMalformedSignature is returned when a signature is not valid hex.
	ErrMalformedSignature = errors.New("malformed signature")
)

// Sign returns the PKCS#1 v1.5 signature of payload's SHA-256 digest.
// payload must be the exact bytes that will be transmitted.
func Sign(payload []byte, priv *rsa.PrivateKey) ([]byte, error) {
	if priv == nil {
		return nil, errors.New("sign: private key is nil")
	}
	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign payload: %w", err)
	}
	return sig, nil
}

// SignHex is Sign with the lowercase hex transport encoding applied.
func SignHex(payload []byte, priv *rsa.PrivateKey) (string, error) {
	sig, err := Sign(payload, priv)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}

// Verify checks sig against payload under pub. Every failure, including
// padding and digest errors, collapses to ErrInvalidSignature.
func Verify(pub *rsa.PublicKey, payload, sig []byte) error {
	if pub == nil {
		return ErrInvalidSignature
	}
	digest := sha256.Sum256(payload)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return ErrInvalidSignature
	}
	return nil
}

// DecodeSignature decodes a hex transport signature.
func DecodeSignature(s string) ([]byte, error) {
	sig, err := hex.DecodeString(s)
	if err != nil || len(sig) == 0 {
		return nil, ErrMalformedSignature
	}
	return sig, nil
}

// CanonicalPayload builds the bytes signed when replay protection is on:
// "{timestamp}.{nonce}.{body}".
func CanonicalPayload(timestamp int64, nonce string, body []byte) []byte {
	ts := strconv.FormatInt(timestamp, 10)
	out := make([]byte, 0, len(ts)+len(nonce)+len(body)+2)
	out = append(out, ts...)
	out = append(out, '.')
	out = append(out, nonce...)
	out = append(out, '.')
	return append(out, body...)
}
