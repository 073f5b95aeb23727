package model

import "time"

// RateLimitRule is the static per-deployment quota for one endpoint in one
// environment. Only MaxPerMinute is enforced; the hour and day figures are
// informational.
type RateLimitRule struct {
	Endpoint        string          `json:"endpoint" yaml:"endpoint" db:"endpoint"`
	EnvironmentMode EnvironmentMode `json:"environment_mode" yaml:"environment_mode" db:"environment_mode"`
	MaxPerMinute    int             `json:"max_per_minute" yaml:"max_per_minute" db:"max_per_minute"`
	MaxPerHour      int             `json:"max_per_hour,omitempty" yaml:"max_per_hour" db:"max_per_hour"`
	MaxPerDay       int             `json:"max_per_day,omitempty" yaml:"max_per_day" db:"max_per_day"`
}

// QuotaWindow is the consumption of one caller against one endpoint and
// environment inside a single fixed window.
type QuotaWindow struct {
	CallerID        string          `json:"caller_id"`
	Endpoint        string          `json:"endpoint"`
	EnvironmentMode EnvironmentMode `json:"environment_mode"`
	WindowStart     time.Time       `json:"window_start"`
	CallsCount      int             `json:"calls_count"`
}

// Decision is the outcome of a rate limit check. Limit, Remaining and
// ResetInSeconds are only set when a rule applied.
type Decision struct {
	Allowed        bool   `json:"allowed"`
	Message        string `json:"message"`
	Limit          *int   `json:"limit,omitempty"`
	Remaining      *int   `json:"remaining,omitempty"`
	ResetInSeconds *int   `json:"reset_in_seconds,omitempty"`
}

// QuotaResult is the outcome of one atomic check-and-increment. Count is
// the pre-increment count when Allowed, and the unchanged current count
// otherwise.
type QuotaResult struct {
	Allowed bool
	Count   int
}
