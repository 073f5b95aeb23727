package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/faucetdb/quotakey/internal/model"
	"github.com/faucetdb/quotakey/internal/service"
)

// maxBodyBytes bounds request bodies; key management payloads are tiny.
const maxBodyBytes = 64 << 10

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeData writes a successful envelope around data.
func writeData(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, model.Response{Success: true, Data: data})
}

// writeError writes a failed envelope. The optional details map carries
// field-level messages.
func writeError(w http.ResponseWriter, status int, message string, details ...map[string]string) {
	resp := model.Response{Success: false, Error: message}
	if len(details) > 0 {
		resp.Details = details[0]
	}
	writeJSON(w, status, resp)
}

// writeRateLimited writes a 429 carrying the decision's message, the retry
// hint in both body and Retry-After, and the X-RateLimit-* headers.
func writeRateLimited(w http.ResponseWriter, d model.Decision) {
	retry := 60
	if d.ResetInSeconds != nil {
		retry = *d.ResetInSeconds
	}
	setRateLimitHeaders(w, d)
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeJSON(w, http.StatusTooManyRequests, model.Response{
		Success:           false,
		Error:             d.Message,
		RetryAfterSeconds: &retry,
	})
}

// setRateLimitHeaders mirrors a metered decision in X-RateLimit-* headers.
// Unmetered and fail-open decisions carry no figures and set nothing.
func setRateLimitHeaders(w http.ResponseWriter, d model.Decision) {
	if d.Limit == nil {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(*d.Limit))
	if d.Remaining != nil {
		h.Set("X-RateLimit-Remaining", strconv.Itoa(*d.Remaining))
	}
	if d.ResetInSeconds != nil {
		h.Set("X-RateLimit-Reset", strconv.Itoa(*d.ResetInSeconds))
	}
}

// writeServiceError maps service errors onto status codes: 400 validation,
// 401 authentication, 429 rate limited, 500 everything else.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var verr *service.ValidationError
	var rl *service.RateLimitedError

	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, "Validation failed", verr.Fields)
	case errors.As(err, &rl):
		writeRateLimited(w, rl.Decision)
	case errors.Is(err, service.ErrAuthenticationRequired):
		writeError(w, http.StatusUnauthorized, "Authentication required")
	default:
		logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
	}
}

// readJSON decodes the request body as JSON into v. The body is closed after
// decoding regardless of success or failure.
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}
