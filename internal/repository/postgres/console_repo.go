package postgres

import (
	"context"

	"github.com/xela07ax/selfauth-gateway/internal/audit"
	"github.com/xela07ax/selfauth-gateway/internal/domain"
)

// AuditSummary собирает сводку решений шлюза за последний час.
func (r *AuditRepo) AuditSummary(ctx context.Context) (*domain.AuditSummary, error) {
	s := &domain.AuditSummary{}

	// PERCENTILE_CONT для честного P95 Latency
	err := r.db.QueryRowContext(ctx, `
		SELECT 
			COUNT(*),
			COUNT(*) FILTER (WHERE status = $1),
			COUNT(*) FILTER (WHERE status = $2),
			COUNT(*) FILTER (WHERE status = $3),
			COUNT(*) FILTER (WHERE status = $4),
			COALESCE(PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY duration_ms), 0)
		FROM audit_logs 
		WHERE timestamp > NOW() - INTERVAL '60 minutes'`,
		audit.StatusSuccess, audit.StatusDenied, audit.StatusDecodeError, audit.StatusFailed,
	).Scan(&s.Total, &s.Succeeded, &s.Denied, &s.DecodeErrors, &s.Failed, &s.P95LatencyMs)
	if err != nil {
		return nil, err
	}

	// RPS = Всего запросов за час / 3600
	s.RPS = float64(s.Total) / 3600
	return s, nil
}
