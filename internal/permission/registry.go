package permission

/*
Registry - реестр разрешений шлюза: ActionID -> granted. Отсутствие ключа
равносильно запрету (Default Deny). Менять набор может только администратор;
сам шлюз себе права не выдает.

Горячий путь (IsAuthorized) работает только с RAM. Store и Notifier нужны
для персистентности и синхронизации между инстансами, но в решении не участвуют.
*/

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/xela07ax/selfauth-gateway/internal/abi"
	"go.uber.org/zap"
)

var (
	ErrNotAdmin           = errors.New("permission: caller is not the administrator")
	ErrAlreadyInitialized = errors.New("permission: registry already initialized")
)

// Store - долговременное хранилище выданных ключей (Postgres).
type Store interface {
	LoadGrants(ctx context.Context) ([]ActionID, error)
	SaveGrants(ctx context.Context, ids []ActionID) error
	DeleteGrant(ctx context.Context, id ActionID) error
}

// Notifier рассылает изменения остальным инстансам (Redis Pub/Sub).
type Notifier interface {
	Publish(ctx context.Context, id ActionID, granted bool) error
}

type Option func(*Registry)

func WithStore(s Store) Option {
	return func(r *Registry) { r.store = s }
}

func WithNotifier(n Notifier) Option {
	return func(r *Registry) { r.notifier = n }
}

type Registry struct {
	mu          sync.RWMutex
	granted     map[ActionID]struct{}
	initialized bool

	admin    abi.Address
	store    Store
	notifier Notifier
	logger   *zap.Logger
}

func NewRegistry(admin abi.Address, logger *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		granted: make(map[ActionID]struct{}),
		admin:   admin,
		logger:  logger.Named("registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Admin() abi.Address {
	return r.admin
}

// SetPermissions - разовая массовая выдача при инициализации.
func (r *Registry) SetPermissions(ctx context.Context, admin abi.Address, ids []ActionID) error {
	if admin != r.admin {
		return ErrNotAdmin
	}

	r.mu.Lock()
	if !r.initialized && r.store != nil {
		// Другой инстанс мог инициализировать общее хранилище после нашего Refresh
		existing, err := r.store.LoadGrants(ctx)
		if err != nil {
			r.mu.Unlock()
			return fmt.Errorf("permission: load grants: %w", err)
		}
		for _, id := range existing {
			r.granted[id] = struct{}{}
		}
		r.initialized = len(existing) > 0
	}
	if r.initialized {
		r.mu.Unlock()
		return ErrAlreadyInitialized
	}
	if r.store != nil {
		if err := r.store.SaveGrants(ctx, ids); err != nil {
			r.mu.Unlock()
			return fmt.Errorf("permission: persist grants: %w", err)
		}
	}
	for _, id := range ids {
		r.granted[id] = struct{}{}
	}
	r.initialized = true
	r.mu.Unlock()

	r.logger.Info("registry initialized", zap.Int("count", len(ids)))
	for _, id := range ids {
		r.notify(ctx, id, true)
	}
	return nil
}

// Grant идемпотентен: повторная выдача ничего не меняет и не пишет в хранилище.
func (r *Registry) Grant(ctx context.Context, admin abi.Address, id ActionID) error {
	if admin != r.admin {
		return ErrNotAdmin
	}

	r.mu.Lock()
	if _, ok := r.granted[id]; ok {
		r.mu.Unlock()
		return nil
	}
	if r.store != nil {
		if err := r.store.SaveGrants(ctx, []ActionID{id}); err != nil {
			r.mu.Unlock()
			return fmt.Errorf("permission: persist grant: %w", err)
		}
	}
	r.granted[id] = struct{}{}
	r.mu.Unlock()

	r.logger.Info("permission granted", zap.Stringer("action_id", id))
	r.notify(ctx, id, true)
	return nil
}

// Revoke всегда доходит до хранилища и рассылки: локальная копия могла отстать
// от общего хранилища. Удаление идемпотентно.
func (r *Registry) Revoke(ctx context.Context, admin abi.Address, id ActionID) error {
	if admin != r.admin {
		return ErrNotAdmin
	}

	r.mu.Lock()
	if r.store != nil {
		if err := r.store.DeleteGrant(ctx, id); err != nil {
			r.mu.Unlock()
			return fmt.Errorf("permission: delete grant: %w", err)
		}
	}
	delete(r.granted, id)
	r.mu.Unlock()

	r.logger.Info("permission revoked", zap.Stringer("action_id", id))
	r.notify(ctx, id, false)
	return nil
}

// IsAuthorized - чистый lookup, никогда не мутирует и не падает.
func (r *Registry) IsAuthorized(selector abi.Selector, caller, target abi.Address) bool {
	return r.Granted(NewActionID(selector, caller, target))
}

func (r *Registry) Granted(id ActionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.granted[id]
	return ok
}

func (r *Registry) Initialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initialized
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.granted)
}

// Refresh выполняет "холодную загрузку" из Store (при старте и после переподключения).
func (r *Registry) Refresh(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	ids, err := r.store.LoadGrants(ctx)
	if err != nil {
		return fmt.Errorf("permission: load grants: %w", err)
	}
	r.Replace(ids)
	r.logger.Info("registry refreshed", zap.Int("count", len(ids)))
	return nil
}

// Replace целиком подменяет набор ключей. Непустой набор считается инициализацией.
func (r *Registry) Replace(ids []ActionID) {
	next := make(map[ActionID]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}

	r.mu.Lock()
	r.granted = next
	r.initialized = r.initialized || len(ids) > 0
	r.mu.Unlock()
}

// Apply применяет изменение, пришедшее от другого инстанса. Без персиста и без повторной рассылки.
func (r *Registry) Apply(id ActionID, granted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if granted {
		r.granted[id] = struct{}{}
		r.initialized = true
		return
	}
	delete(r.granted, id)
}

// AttachNotifier подключает рассылку после создания: Syncer сам держит ссылку на реестр.
func (r *Registry) AttachNotifier(n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifier = n
}

func (r *Registry) notify(ctx context.Context, id ActionID, granted bool) {
	r.mu.RLock()
	n := r.notifier
	r.mu.RUnlock()
	if n == nil {
		return
	}
	if err := n.Publish(ctx, id, granted); err != nil {
		r.logger.Warn("failed to publish permission change",
			zap.Stringer("action_id", id), zap.Bool("granted", granted), zap.Error(err))
	}
}
