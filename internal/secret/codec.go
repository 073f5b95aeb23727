// Package secret generates API key secrets and derives the forms of them
// that are safe to persist and display.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

const (
	// DefaultTag is prepended to every generated key so leaked keys are
	// recognizable by secret scanners.
	DefaultTag = "qk_"

	// entropyBytes is the number of random bytes in a key (256 bits).
	entropyBytes = 32

	// prefixHexChars is how many encoded characters after the tag are kept
	// in the clear for display.
	prefixHexChars = 8
)

// Secret is a freshly generated key. Raw must be handed to the caller once
// and then dropped; only Hash and Prefix may be persisted or logged.
type Secret struct {
	Raw    string
	Hash   string
	Prefix string
}

// Codec generates and verifies API key secrets.
type Codec struct {
	tag     string
	entropy io.Reader
}

// NewCodec returns a Codec using crypto/rand and the given product tag. An
// empty tag selects DefaultTag.
func NewCodec(tag string) *Codec {
	if tag == "" {
		tag = DefaultTag
	}
	return &Codec{tag: tag, entropy: rand.Reader}
}

// Tag returns the product tag this codec prefixes keys with.
func (c *Codec) Tag() string {
	return c.tag
}

// Generate creates a new random secret.
func (c *Codec) Generate() (Secret, error) {
	buf := make([]byte, entropyBytes)
	if _, err := io.ReadFull(c.entropy, buf); err != nil {
		return Secret{}, fmt.Errorf("generate random key: %w", err)
	}
	raw := c.tag + hex.EncodeToString(buf)
	return Secret{
		Raw:    raw,
		Hash:   Hash(raw),
		Prefix: c.PrefixOf(raw),
	}, nil
}

// PrefixOf returns the display prefix of raw: the tag plus the first few
// encoded characters.
func (c *Codec) PrefixOf(raw string) string {
	n := len(c.tag) + prefixHexChars
	if len(raw) < n {
		return raw
	}
	return raw[:n]
}

// LooksLikeKey reports whether raw carries this codec's tag and the expected
// length. It is a cheap pre-filter, not a verification.
func (c *Codec) LooksLikeKey(raw string) bool {
	return strings.HasPrefix(raw, c.tag) && len(raw) == len(c.tag)+2*entropyBytes
}

// Hash returns the hex-encoded SHA-256 digest of a raw key.
func Hash(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// Verify reports whether candidate hashes to storedHash, comparing in
// constant time.
func Verify(candidate, storedHash string) bool {
	got := Hash(candidate)
	return subtle.ConstantTimeCompare([]byte(got), []byte(storedHash)) == 1
}
