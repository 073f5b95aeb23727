package model

import (
	"fmt"
	"strings"
	"time"
)

// EnvironmentMode partitions both the credential namespace and the rate
// limit tables a caller is subject to.
type EnvironmentMode string

const (
	ModeSandbox    EnvironmentMode = "sandbox"
	ModeProduction EnvironmentMode = "production"
)

// Modes lists every supported environment mode in display order.
var Modes = []EnvironmentMode{ModeSandbox, ModeProduction}

// Valid reports whether m is a known environment mode.
func (m EnvironmentMode) Valid() bool {
	return m == ModeSandbox || m == ModeProduction
}

func (m EnvironmentMode) String() string {
	return string(m)
}

// ParseEnvironmentMode converts a case-insensitive string into an
// EnvironmentMode.
func ParseEnvironmentMode(s string) (EnvironmentMode, error) {
	m := EnvironmentMode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown environment mode %q (want sandbox or production)", s)
	}
	return m, nil
}

// Credential represents one issued API key. The raw secret is never stored;
// only a SHA-256 hash and a short prefix for identification are persisted.
type Credential struct {
	ID              string          `json:"id"`
	OwnerID         string          `json:"owner_id"`
	Name            string          `json:"name"`
	Prefix          string          `json:"prefix"`
	SecretHash      string          `json:"-"` // SHA-256 hash, never expose
	Scopes          []string        `json:"scopes"`
	EnvironmentMode EnvironmentMode `json:"environment_mode"`
	IsActive        bool            `json:"is_active"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
	LastUsedAt      *time.Time      `json:"last_used_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Expired reports whether the credential has an expiry in the past
// relative to now.
func (c *Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

// HasScope reports whether the credential was granted scope.
func (c *Credential) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// CredentialPatch is a partial update restricted to the mutable fields of a
// credential. Nil fields are left untouched.
type CredentialPatch struct {
	IsActive *bool    `json:"is_active,omitempty"`
	Scopes   []string `json:"scopes,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p CredentialPatch) Empty() bool {
	return p.IsActive == nil && p.Scopes == nil
}
