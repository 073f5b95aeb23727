package handler

import (
	"log/slog"
	"net/http"

	"github.com/faucetdb/quotakey/internal/model"
	"github.com/faucetdb/quotakey/internal/server/middleware"
	"github.com/faucetdb/quotakey/internal/service"
)

// KeysHandler serves the manage-api-keys endpoint.
type KeysHandler struct {
	keys   *service.KeyService
	logger *slog.Logger
}

func NewKeysHandler(keys *service.KeyService, logger *slog.Logger) *KeysHandler {
	return &KeysHandler{keys: keys, logger: logger}
}

// ManageAPIKeys handles POST /api/v1/manage-api-keys. The body carries an
// action (create, list, revoke or update) and that action's fields.
func (h *KeysHandler) ManageAPIKeys(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req service.ActionRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", map[string]string{"body": err.Error()})
		return
	}

	out, err := h.keys.Execute(r.Context(), principal.Caller(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	switch v := out.(type) {
	case *service.CreatedKey:
		w.Header().Set("Cache-Control", "no-store")
		writeData(w, http.StatusCreated, v)
	case []model.Credential:
		writeData(w, http.StatusOK, model.ListResponse{Resource: v, Count: len(v)})
	default:
		writeData(w, http.StatusOK, v)
	}
}
