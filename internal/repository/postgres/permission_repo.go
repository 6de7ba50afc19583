package postgres

/*
Файл permission_repo.go - долговременное хранение выданных ключей (ActionID).
Источник истины для холодного старта реестра; горячая проверка идет из памяти.
*/

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xela07ax/selfauth-gateway/internal/domain"
	"github.com/xela07ax/selfauth-gateway/internal/permission"
)

type PermissionRepo struct {
	db *sql.DB
}

func NewPermissionRepo(db *sql.DB) *PermissionRepo {
	return &PermissionRepo{db: db}
}

// LoadGrants выполняет "холодную загрузку" всех выданных ключей.
func (r *PermissionRepo) LoadGrants(ctx context.Context) ([]permission.ActionID, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT action_id FROM granted_actions`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load grants: %w", err)
	}
	defer rows.Close()

	var ids []permission.ActionID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := permission.ParseActionID(raw)
		if err != nil {
			return nil, fmt.Errorf("postgres: corrupted action_id %q: %w", raw, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveGrants пишет пачку ключей в одной транзакции. Повторная выдача - no-op.
func (r *PermissionRepo) SaveGrants(ctx context.Context, ids []permission.ActionID) (err error) {
	if len(ids) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO granted_actions (action_id) VALUES ($1) ON CONFLICT (action_id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("postgres: prepare: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err = stmt.ExecContext(ctx, id.Hex()); err != nil {
			return fmt.Errorf("postgres: save grant %s: %w", id, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// DeleteGrant отзывает ключ. Отзыв отсутствующего ключа - не ошибка.
func (r *PermissionRepo) DeleteGrant(ctx context.Context, id permission.ActionID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM granted_actions WHERE action_id = $1`, id.Hex()); err != nil {
		return fmt.Errorf("postgres: delete grant %s: %w", id, err)
	}
	return nil
}

// GetGrant отдает запись о выдаче; nil без ошибки, если ключ не выдан.
func (r *PermissionRepo) GetGrant(ctx context.Context, id permission.ActionID) (*domain.GrantRecord, error) {
	var grantedAt time.Time
	err := r.db.QueryRowContext(ctx, `SELECT granted_at FROM granted_actions WHERE action_id = $1`, id.Hex()).Scan(&grantedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get grant: %w", err)
	}
	return &domain.GrantRecord{ID: id.Hex(), GrantedAt: grantedAt}, nil
}

// ListGrants - список для консоли, новые сверху.
func (r *PermissionRepo) ListGrants(ctx context.Context) ([]domain.GrantRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT action_id, granted_at FROM granted_actions ORDER BY granted_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list grants: %w", err)
	}
	defer rows.Close()

	results := make([]domain.GrantRecord, 0)
	for rows.Next() {
		var g domain.GrantRecord
		if err := rows.Scan(&g.ID, &g.GrantedAt); err != nil {
			return nil, err
		}
		results = append(results, g)
	}
	return results, rows.Err()
}
