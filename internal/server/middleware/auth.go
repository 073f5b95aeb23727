package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/faucetdb/quotakey/internal/model"
	"github.com/faucetdb/quotakey/internal/service"
)

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the authenticated principal.
	AuthPrincipalKey contextKeyAuth = "auth_principal"
)

// Principal represents the authenticated caller making the request, with
// its environment mode already resolved.
type Principal struct {
	Type         string // "api_key" or "bearer"
	CallerID     string
	CredentialID string
	Mode         model.EnvironmentMode
}

// Caller returns the identity key operations run as.
func (p *Principal) Caller() service.Caller {
	return service.Caller{ID: p.CallerID, Mode: p.Mode}
}

// Authenticator is the identity verifier Authenticate relies on.
// *service.AuthService implements it.
type Authenticator interface {
	ValidateAPIKey(ctx context.Context, rawKey string) (*service.Principal, error)
	ValidateJWT(ctx context.Context, token string) (*service.Principal, error)
	ResolveMode(ctx context.Context, callerID string) (model.EnvironmentMode, error)
}

// Authenticate returns an HTTP middleware that validates the request's
// authentication credentials. It supports two methods:
//
//  1. API key via the X-API-Key header
//  2. Bearer token via the Authorization header, either a signed JWT whose
//     subject is the caller id or an issued API key
//
// API keys carry their own environment mode; bearer callers get the mode in
// their profile. On success, a Principal is attached to the request context.
// On failure, a 401 JSON error response is returned before any handler runs.
func Authenticate(authSvc Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var principal *Principal

			apiKey := r.Header.Get("X-API-Key")
			bearer := ""
			if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
				bearer = strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
			}
			if apiKey == "" && strings.Count(bearer, ".") != 2 && bearer != "" {
				// Not a JWT; treat it as an API key.
				apiKey, bearer = bearer, ""
			}

			switch {
			case apiKey != "":
				p, err := authSvc.ValidateAPIKey(r.Context(), apiKey)
				if err != nil {
					writeAuthFailure(w, r, logger, err, "Invalid API key")
					return
				}
				principal = &Principal{
					Type:         "api_key",
					CallerID:     p.CallerID,
					CredentialID: p.CredentialID,
					Mode:         p.Mode,
				}

			case bearer != "":
				p, err := authSvc.ValidateJWT(r.Context(), bearer)
				if err != nil {
					writeAuthFailure(w, r, logger, err, "Invalid token")
					return
				}
				mode, err := authSvc.ResolveMode(r.Context(), p.CallerID)
				if err != nil {
					logger.ErrorContext(r.Context(), "resolve environment mode failed",
						"caller_id", p.CallerID, "error", err)
					writeAuthError(w, http.StatusInternalServerError, "Internal error")
					return
				}
				principal = &Principal{
					Type:     "bearer",
					CallerID: p.CallerID,
					Mode:     mode,
				}
			}

			if principal == nil {
				writeAuthError(w, http.StatusUnauthorized,
					"Authentication required. Provide X-API-Key header or Bearer token.")
				return
			}

			setLogCaller(r.Context(), principal.CallerID, string(principal.Mode))
			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, AuthPrincipalKey, p)
}

func writeAuthFailure(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, message string) {
	switch {
	case errors.Is(err, service.ErrInternal):
		logger.ErrorContext(r.Context(), "authentication lookup failed", "error", err)
		writeAuthError(w, http.StatusInternalServerError, "Internal error")
	case errors.Is(err, service.ErrKeyRevoked):
		writeAuthError(w, http.StatusUnauthorized, "API key is inactive")
	case errors.Is(err, service.ErrKeyExpired):
		writeAuthError(w, http.StatusUnauthorized, "API key has expired")
	default:
		writeAuthError(w, http.StatusUnauthorized, message)
	}
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.Response{Success: false, Error: message})
}
