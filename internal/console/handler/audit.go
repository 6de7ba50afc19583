package handler

import (
	"net/http"
	"strconv"

	"github.com/xela07ax/selfauth-gateway/internal/console/service"
)

type AuditHandler struct {
	service *service.AuditService
}

func NewAuditHandler(s *service.AuditService) *AuditHandler {
	return &AuditHandler{service: s}
}

// GetLogs возвращает последние решения шлюза
// GET /v1/audit?caller=0x..&limit=50
func (h *AuditHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	caller := r.URL.Query().Get("caller")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit")) // 0 - лимит по умолчанию

	logs, err := h.service.FetchLogs(r.Context(), caller, limit)
	if err != nil {
		http.Error(w, "Failed to fetch audit logs", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, logs)
}
