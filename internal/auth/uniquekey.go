// Package auth provides identity tokens and credential helpers.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
)

// UniqueKeyBytes is the entropy of an issued unique key (256 bits).
const UniqueKeyBytes = 32

// UniqueKeyLen is the length of the hex-encoded unique key.
const UniqueKeyLen = UniqueKeyBytes * 2

var uniqueKeyRegex = regexp.MustCompile(`^[a-f0-9]{64}$`)

// randRead is a var for testing injection.
var randRead = rand.Read

// GenerateUniqueKey returns a new 64-char lowercase hex identity token.
func GenerateUniqueKey() (string, error) {
	b := make([]byte, UniqueKeyBytes)
	if _, err := randRead(b); err != nil {
		return "", fmt.Errorf("generate unique key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashUniqueKey returns the SHA-256 hex digest used to store and look up a
// unique key. Lookups compare digests for equality only, so lookup time does
// not depend on how close a guess is to a real key.
func HashUniqueKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// IsIssuedFormat reports whether key looks like a key issued by
// GenerateUniqueKey. The verifier does not require it; it only feeds logs.
func IsIssuedFormat(key string) bool {
	return uniqueKeyRegex.MatchString(key)
}
