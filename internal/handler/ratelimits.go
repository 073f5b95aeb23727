package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/faucetdb/quotakey/internal/model"
	"github.com/faucetdb/quotakey/internal/ratelimit"
	"github.com/faucetdb/quotakey/internal/server/middleware"
	"github.com/faucetdb/quotakey/internal/service"
)

// RateLimitHandler exposes the caller's rules and a check endpoint other
// platform services call before doing metered work.
type RateLimitHandler struct {
	rules  ratelimit.RuleProvider
	gate   service.Gate
	logger *slog.Logger
}

func NewRateLimitHandler(rules ratelimit.RuleProvider, gate service.Gate, logger *slog.Logger) *RateLimitHandler {
	return &RateLimitHandler{rules: rules, gate: gate, logger: logger}
}

// ListRules handles GET /api/v1/rate-limits.
func (h *RateLimitHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	rules, err := h.rules.RulesFor(r.Context(), principal.Mode)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list rate limit rules failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	if rules == nil {
		rules = []model.RateLimitRule{}
	}
	writeData(w, http.StatusOK, model.ListResponse{Resource: rules, Count: len(rules)})
}

type checkRequest struct {
	Endpoint string `json:"endpoint"`
}

// Check handles POST /api/v1/rate-limits/check. It records one call by the
// caller against the named endpoint and answers 200 or 429.
func (h *RateLimitHandler) Check(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req checkRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", map[string]string{"body": err.Error()})
		return
	}
	endpoint := strings.TrimSpace(req.Endpoint)
	if endpoint == "" {
		writeError(w, http.StatusBadRequest, "Validation failed", map[string]string{"endpoint": "is required"})
		return
	}

	d := h.gate.Check(r.Context(), principal.CallerID, endpoint, principal.Mode)
	if !d.Allowed {
		writeRateLimited(w, d)
		return
	}
	setRateLimitHeaders(w, d)
	writeData(w, http.StatusOK, d)
}
