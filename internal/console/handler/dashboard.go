package handler

import (
	"context"
	"net/http"

	"github.com/xela07ax/selfauth-gateway/internal/domain"
	"go.uber.org/zap"
)

// SummarySource - сводка решений шлюза из журнала аудита.
type SummarySource interface {
	Summary(ctx context.Context) (*domain.AuditSummary, error)
}

// RegistrySource - состояние реестра в памяти консоли.
type RegistrySource interface {
	Status() domain.RegistryStatus
}

// DashboardHandler собирает обзор для главной страницы консоли:
// сколько ключей выдано и что шлюз решал за последний час.
type DashboardHandler struct {
	audit    SummarySource
	registry RegistrySource
	logger   *zap.Logger
}

func NewDashboardHandler(audit SummarySource, registry RegistrySource, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{audit: audit, registry: registry, logger: logger}
}

func (h *DashboardHandler) Overview(w http.ResponseWriter, r *http.Request) {
	summary, err := h.audit.Summary(r.Context())
	if err != nil {
		h.logger.Error("audit summary failed", zap.Error(err))
		http.Error(w, "failed to build audit summary", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, domain.Dashboard{
		Registry: h.registry.Status(),
		Audit:    summary,
	})
}
