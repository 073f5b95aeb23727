package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/faucetdb/quotakey/internal/model"
)

var (
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrKeyRevoked             = errors.New("api key revoked")
	ErrKeyExpired             = errors.New("api key expired")

	// ErrInternal marks store failures on credential operations. Unlike the
	// rate limiter these never fail open.
	ErrInternal = errors.New("internal error")
)

// ValidationError reports malformed input with one message per field.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = msg
	}
}

// errOrNil returns e if any field failed.
func (e *ValidationError) errOrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// RateLimitedError is returned when the manage-api-keys gate denies a call.
type RateLimitedError struct {
	Decision model.Decision
}

func (e *RateLimitedError) Error() string {
	return e.Decision.Message
}

// RetryAfter is the number of seconds until the caller may retry.
func (e *RateLimitedError) RetryAfter() int {
	if e.Decision.ResetInSeconds == nil {
		return 60
	}
	return *e.Decision.ResetInSeconds
}
