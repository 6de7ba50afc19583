package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/xela07ax/selfauth-gateway/internal/abi"
	"github.com/xela07ax/selfauth-gateway/internal/domain"
	"github.com/xela07ax/selfauth-gateway/internal/permission"
	"go.uber.org/zap"
)

var ErrInvalidActionID = errors.New("console: invalid action id")

// GrantReader - чтение истории выдач из Postgres (время выдачи, список).
type GrantReader interface {
	GetGrant(ctx context.Context, id permission.ActionID) (*domain.GrantRecord, error)
	ListGrants(ctx context.Context) ([]domain.GrantRecord, error)
}

// PermissionService - администрирование реестра. Персист и рассылка по Redis
// выполняются самим реестром (Store + Notifier).
type PermissionService struct {
	registry *permission.Registry
	repo     GrantReader
	logger   *zap.Logger
}

func NewPermissionService(registry *permission.Registry, repo GrantReader, logger *zap.Logger) *PermissionService {
	return &PermissionService{
		registry: registry,
		repo:     repo,
		logger:   logger.Named("permission-service"),
	}
}

// Init - однократная массовая выдача. Все id проверяются до записи.
func (s *PermissionService) Init(ctx context.Context, caller abi.Address, rawIDs []string) error {
	ids := make([]permission.ActionID, 0, len(rawIDs))
	for _, raw := range rawIDs {
		id, err := parseID(raw)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}
	if err := s.registry.SetPermissions(ctx, caller, ids); err != nil {
		return err
	}
	s.logger.Info("permissions initialized", zap.Stringer("admin", caller), zap.Int("count", len(ids)))
	return nil
}

func (s *PermissionService) Grant(ctx context.Context, caller abi.Address, raw string) (*domain.PermissionView, error) {
	id, err := parseID(raw)
	if err != nil {
		return nil, err
	}
	if err := s.registry.Grant(ctx, caller, id); err != nil {
		return nil, err
	}
	return s.view(ctx, id)
}

func (s *PermissionService) Revoke(ctx context.Context, caller abi.Address, raw string) (*domain.PermissionView, error) {
	id, err := parseID(raw)
	if err != nil {
		return nil, err
	}
	if err := s.registry.Revoke(ctx, caller, id); err != nil {
		return nil, err
	}
	return s.view(ctx, id)
}

func (s *PermissionService) Get(ctx context.Context, raw string) (*domain.PermissionView, error) {
	id, err := parseID(raw)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, id)
}

func (s *PermissionService) List(ctx context.Context) ([]domain.GrantRecord, error) {
	if s.repo == nil {
		return []domain.GrantRecord{}, nil
	}
	list, err := s.repo.ListGrants(ctx)
	if err != nil {
		return nil, fmt.Errorf("permission_service: list grants: %w", err)
	}
	return list, nil
}

func (s *PermissionService) Status() domain.RegistryStatus {
	return domain.RegistryStatus{
		Admin:       s.registry.Admin().Hex(),
		Initialized: s.registry.Initialized(),
		Granted:     s.registry.Len(),
	}
}

// ComputeActionID - аналог getActionId: чистая функция, реестр не трогает.
func (s *PermissionService) ComputeActionID(req domain.ActionIDRequest) string {
	return permission.NewActionID(req.Selector, req.Executor, req.Target).Hex()
}

func (s *PermissionService) view(ctx context.Context, id permission.ActionID) (*domain.PermissionView, error) {
	v := &domain.PermissionView{ID: id.Hex(), Granted: s.registry.Granted(id)}
	if !v.Granted || s.repo == nil {
		return v, nil
	}
	rec, err := s.repo.GetGrant(ctx, id)
	if err != nil {
		// Решение берется из памяти; время выдачи - необязательная подробность
		s.logger.Warn("failed to read grant record", zap.Stringer("action_id", id), zap.Error(err))
		return v, nil
	}
	if rec != nil {
		v.GrantedAt = &rec.GrantedAt
	}
	return v, nil
}

func parseID(raw string) (permission.ActionID, error) {
	id, err := permission.ParseActionID(raw)
	if err != nil {
		return id, fmt.Errorf("%w: %q: %v", ErrInvalidActionID, raw, err)
	}
	return id, nil
}
