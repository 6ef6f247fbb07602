// Package keys generates, persists and loads the deployment's RSA keypair.
// Key generation is a provisioning step; servers and clients only load keys.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// Bits is the fixed RSA modulus size. The public exponent is Go's fixed 65537.
const Bits = 2048

// PEM block types.
const (
	blockPKCS1Private = "RSA PRIVATE KEY"
	blockPKCS8Private = "PRIVATE KEY"
	blockPKIXPublic   = "PUBLIC KEY"
	blockPKCS1Public  = "RSA PUBLIC KEY"
)

// ErrKeyLoad indicates a key file could not be read or parsed.
// A process that hits it at startup must not serve requests.
var ErrKeyLoad = errors.New("key load failure")

// rsaGenerateKey is a var so tests can force generation failures.
var rsaGenerateKey = rsa.GenerateKey

// Keypair holds both halves of a signing keypair.
type Keypair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// Generate creates a new RSA-2048 keypair.
func Generate() (*Keypair, error) {
	priv, err := rsaGenerateKey(rand.Reader, Bits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return &Keypair{Private: priv, Public: &priv.PublicKey}, nil
}

// EncodePrivateKey returns the unencrypted PKCS#1 PEM encoding of key.
func EncodePrivateKey(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  blockPKCS1Private,
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

// EncodePublicKey returns the SubjectPublicKeyInfo PEM encoding of key.
func EncodePublicKey(key *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: blockPKIXPublic, Bytes: der}), nil
}

// Save writes the private key to privatePath and the public key to publicPath.
// Existing files are overwritten. No password protection is applied.
func Save(kp *Keypair, privatePath, publicPath string) error {
	if kp == nil || kp.Private == nil {
		return errors.New("keypair is empty")
	}
	pub := kp.Public
	if pub == nil {
		pub = &kp.Private.PublicKey
	}

	pubPEM, err := EncodePublicKey(pub)
	if err != nil {
		return err
	}

	if err := os.WriteFile(privatePath, EncodePrivateKey(kp.Private), 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(publicPath, pubPEM, 0o644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}
	return nil
}

// LoadPrivateKey reads a PKCS#1 or PKCS#8 PEM private key.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrKeyLoad, path, err)
	}
	return ParsePrivateKey(data)
}

// ParsePrivateKey decodes a PKCS#1 or PKCS#8 PEM private key.
func ParsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrKeyLoad)
	}

	switch block.Type {
	case blockPKCS1Private:
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: parse pkcs1 private key: %v", ErrKeyLoad, err)
		}
		return key, nil
	case blockPKCS8Private:
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: parse pkcs8 private key: %v", ErrKeyLoad, err)
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: pkcs8 key is %T, want RSA", ErrKeyLoad, parsed)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("%w: unsupported private key block %q", ErrKeyLoad, block.Type)
	}
}

// LoadPublicKey reads a SubjectPublicKeyInfo (or PKCS#1) PEM public key.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrKeyLoad, path, err)
	}
	return ParsePublicKey(data)
}

// ParsePublicKey decodes a SubjectPublicKeyInfo (or PKCS#1) PEM public key.
func ParsePublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrKeyLoad)
	}

	switch block.Type {
	case blockPKIXPublic:
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: parse public key: %v", ErrKeyLoad, err)
		}
		key, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: public key is %T, want RSA", ErrKeyLoad, parsed)
		}
		return key, nil
	case blockPKCS1Public:
		key, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: parse pkcs1 public key: %v", ErrKeyLoad, err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("%w: unsupported public key block %q", ErrKeyLoad, block.Type)
	}
}
