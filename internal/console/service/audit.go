package service

import (
	"context"
	"fmt"

	"github.com/xela07ax/selfauth-gateway/internal/audit"
	"github.com/xela07ax/selfauth-gateway/internal/domain"
)

// AuditLogProvider описывает контракт для чтения данных аудита.
// Модель события общая с пакетом audit.
type AuditLogProvider interface {
	Recent(ctx context.Context, caller string, limit int) ([]audit.Event, error)
	AuditSummary(ctx context.Context) (*domain.AuditSummary, error)
}

type AuditService struct {
	repo AuditLogProvider
}

func NewAuditService(repo AuditLogProvider) *AuditService {
	return &AuditService{
		repo: repo,
	}
}

// FetchLogs запрашивает последние решения шлюза, опционально по вызывающему.
func (s *AuditService) FetchLogs(ctx context.Context, caller string, limit int) ([]audit.Event, error) {
	logs, err := s.repo.Recent(ctx, caller, limit)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to fetch logs: %w", err)
	}
	return logs, nil
}

// Summary - агрегаты по audit_logs за последний час.
func (s *AuditService) Summary(ctx context.Context) (*domain.AuditSummary, error) {
	stats, err := s.repo.AuditSummary(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to build summary: %w", err)
	}
	return stats, nil
}
