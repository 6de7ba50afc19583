package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/selfauth-gateway/internal/abi"
	"github.com/xela07ax/selfauth-gateway/internal/console/service"
	"github.com/xela07ax/selfauth-gateway/internal/domain"
	"github.com/xela07ax/selfauth-gateway/internal/infra/auth"
	"github.com/xela07ax/selfauth-gateway/internal/permission"
	"go.uber.org/zap"
)

type PermissionHandler struct {
	service *service.PermissionService
	logger  *zap.Logger
}

func NewPermissionHandler(s *service.PermissionService, logger *zap.Logger) *PermissionHandler {
	return &PermissionHandler{service: s, logger: logger.Named("permission-handler")}
}

// Init - разовая массовая выдача.
// POST /v1/permissions/init {"ids": ["0x..", ...]}
func (h *PermissionHandler) Init(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req domain.InitPermissionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.Init(r.Context(), caller, req.IDs); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.service.Status())
}

// Grant выдает ключ. PUT /v1/permissions/{id}
func (h *PermissionHandler) Grant(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	view, err := h.service.Grant(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Revoke отзывает ключ. DELETE /v1/permissions/{id}
func (h *PermissionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	view, err := h.service.Revoke(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Get - GET /v1/permissions/{id}
func (h *PermissionHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// List - выданные ключи из Postgres. GET /v1/permissions
func (h *PermissionHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Status - GET /v1/permissions/status
func (h *PermissionHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Status())
}

// ActionID - GET /v1/action-id?selector=0x..&executor=0x..&target=0x..
func (h *PermissionHandler) ActionID(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var req domain.ActionIDRequest
	var err error

	if req.Selector, err = abi.ParseSelector(q.Get("selector")); err != nil {
		http.Error(w, "invalid selector: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Executor, err = abi.ParseAddress(q.Get("executor")); err != nil {
		http.Error(w, "invalid executor: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Target, err = abi.ParseAddress(q.Get("target")); err != nil {
		http.Error(w, "invalid target: "+err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": h.service.ComputeActionID(req)})
}

func (h *PermissionHandler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidActionID):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, permission.ErrNotAdmin):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, permission.ErrAlreadyInitialized):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("permission operation failed", zap.Error(err))
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
