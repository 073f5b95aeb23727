package model

// Response is the standard envelope for API responses. Exactly one of Data
// or Error is populated depending on Success.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`

	// Details carries field-level validation messages.
	Details map[string]string `json:"details,omitempty"`

	// RetryAfterSeconds is set on 429 responses.
	RetryAfterSeconds *int `json:"retryAfterSeconds,omitempty"`
}

// ListResponse wraps list results with a count.
type ListResponse struct {
	Resource interface{} `json:"resource"`
	Count    int         `json:"count"`
}
