// Package model defines domain entities for the gateway.
package model

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxFrontendNameLength bounds the human-assigned frontend name.
const MaxFrontendNameLength = 100

// Frontend name validation errors.
var (
	ErrFrontendNameRequired = errors.New("frontend name is required")
	ErrFrontendNameTooLong  = errors.New("frontend name exceeds maximum length")
)

// Frontend is a registered caller. It is created once at registration and
// never updated.
type Frontend struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	KeyHash   string    `json:"-"` // SHA-256 of the unique key; never serialized
	CreatedAt time.Time `json:"created_at"`

	// UniqueKey is only set on the value returned by registration.
	UniqueKey string `json:"-"`
}

// NormalizeFrontendName trims and validates a frontend name.
func NormalizeFrontendName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrFrontendNameRequired
	}
	if utf8.RuneCountInString(name) > MaxFrontendNameLength {
		return "", ErrFrontendNameTooLong
	}
	return name, nil
}

// Caller is the verified identity attached to a request context by the
// signature verifier.
type Caller struct {
	FrontendID   string
	FrontendName string
}

// FrontendRegisterRequest is the body of the registration endpoint.
type FrontendRegisterRequest struct {
	Name string `json:"name"`
}

// FrontendRegisterResponse carries the unique key. It is shown only once.
type FrontendRegisterResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	UniqueKey string    `json:"unique_key"`
	CreatedAt time.Time `json:"created_at"`
}

// ToRegisterResponse converts a freshly registered frontend to its response.
func (f *Frontend) ToRegisterResponse() FrontendRegisterResponse {
	return FrontendRegisterResponse{
		ID:        f.ID,
		Name:      f.Name,
		UniqueKey: f.UniqueKey,
		CreatedAt: f.CreatedAt,
	}
}

// Caller returns the request identity for this frontend.
func (f *Frontend) Caller() *Caller {
	return &Caller{FrontendID: f.ID, FrontendName: f.Name}
}
