package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/xela07ax/selfauth-gateway/internal/audit"
)

const auditColumns = "id, trace_id, caller, target, selector, action_id, status, error, duration_ms, timestamp"

type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) WriteBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице audit_logs
	numFields := 10
	var placeholders strings.Builder
	vals := make([]interface{}, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * numFields
		if i > 0 {
			placeholders.WriteByte(',')
		}
		fmt.Fprintf(&placeholders, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10)

		vals = append(vals,
			e.ID, e.TraceID, e.Caller, e.Target, e.Selector,
			e.ActionID, e.Status, e.Error, e.DurationMs, e.Timestamp,
		)
	}

	query := fmt.Sprintf("INSERT INTO audit_logs (%s) VALUES %s", auditColumns, placeholders.String())
	_, err := r.db.ExecContext(ctx, query, vals...)
	return err
}

// Recent отдает последние события, опционально по конкретному вызывающему.
func (r *AuditRepo) Recent(ctx context.Context, caller string, limit int) ([]audit.Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := "SELECT " + auditColumns + " FROM audit_logs"
	args := []interface{}{}
	if caller != "" {
		query += " WHERE caller = $1"
		args = append(args, caller)
	}
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent audit: %w", err)
	}
	defer rows.Close()

	events := make([]audit.Event, 0, limit)
	for rows.Next() {
		var e audit.Event
		if err := rows.Scan(&e.ID, &e.TraceID, &e.Caller, &e.Target, &e.Selector,
			&e.ActionID, &e.Status, &e.Error, &e.DurationMs, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
