package permission

/*
Syncer держит реестры всех инстансов шлюза согласованными:
- Publish (Notifier) кладет ключ в Redis Set и шлет сигнал "<id>:on|off";
- Listen подписывается на канал и применяет сигналы к локальному реестру;
- при каждом (пере)подключении вызывается onReconnect, чтобы догнать пропущенное.
*/

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/selfauth-gateway/internal/infra"
	"go.uber.org/zap"
)

type Syncer struct {
	rdb      *redis.Client
	registry *Registry
	logger   *zap.Logger

	channel string
	setKey  string
	lockKey string

	// Пауза перед повторной подпиской
	retryDelay time.Duration
}

func NewSyncer(rdb *redis.Client, registry *Registry, logger *zap.Logger) *Syncer {
	return &Syncer{
		rdb:        rdb,
		registry:   registry,
		logger:     logger.With(zap.String("mod", "permission-sync")),
		channel:    infra.RedisChanPermissions,
		setKey:     infra.RedisKeyGrantedActions,
		lockKey:    infra.RedisKeyLockWarmup,
		retryDelay: 5 * time.Second,
	}
}

// Publish реализует Notifier.
func (s *Syncer) Publish(ctx context.Context, id ActionID, granted bool) error {
	pipe := s.rdb.TxPipeline()
	if granted {
		pipe.SAdd(ctx, s.setKey, id.Hex())
	} else {
		pipe.SRem(ctx, s.setKey, id.Hex())
	}
	pipe.Publish(ctx, s.channel, formatSignal(id, granted))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("permission: publish %s: %w", id, err)
	}
	return nil
}

// LoadFromSet поднимает реестр из Redis Set (когда Postgres не сконфигурирован).
func (s *Syncer) LoadFromSet(ctx context.Context) error {
	members, err := s.rdb.SMembers(ctx, s.setKey).Result()
	if err != nil {
		return fmt.Errorf("permission: read granted set: %w", err)
	}
	ids := make([]ActionID, 0, len(members))
	for _, m := range members {
		id, err := ParseActionID(m)
		if err != nil {
			s.logger.Warn("skipping malformed member", zap.String("member", m), zap.Error(err))
			continue
		}
		ids = append(ids, id)
	}
	s.registry.Replace(ids)
	return nil
}

// Warmup заливает набор из БД в Redis, если Set пуст. SetNX гарантирует,
// что прогревом занимается только один инстанс.
func (s *Syncer) Warmup(ctx context.Context, ids []ActionID) error {
	ok, err := s.rdb.SetNX(ctx, s.lockKey, "processing", 30*time.Second).Result()
	if err != nil || !ok {
		return nil // Либо ошибка сети, либо другой уже греет кэш
	}

	count, err := s.rdb.SCard(ctx, s.setKey).Result()
	if err != nil {
		count = 0
		s.logger.Warn("could not check Redis set size, proceeding with warm-up", zap.Error(err))
	}
	if count > 0 || len(ids) == 0 {
		return nil
	}

	s.logger.Info("Redis set is empty, performing warm-up from DB", zap.Int("count", len(ids)))
	pipe := s.rdb.Pipeline()
	for _, id := range ids {
		pipe.SAdd(ctx, s.setKey, id.Hex())
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Listen - "живучая" подписка: переподключается, пока жив ctx.
func (s *Syncer) Listen(ctx context.Context, onReconnect func(context.Context) error) {
	if onReconnect == nil {
		onReconnect = s.LoadFromSet
	}

	for {
		pubsub := s.rdb.Subscribe(ctx, s.channel)

		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("failed to subscribe", zap.String("chan", s.channel), zap.Error(err))
			if !sleepCtx(ctx, s.retryDelay) {
				return
			}
			continue
		}

		if err := onReconnect(ctx); err != nil {
			s.logger.Error("sync failed on reconnect", zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				id, granted, err := parseSignal(msg.Payload)
				if err != nil {
					s.logger.Error("invalid signal format", zap.String("payload", msg.Payload), zap.Error(err))
					continue
				}
				s.registry.Apply(id, granted)
				s.logger.Debug("permission change applied", zap.Stringer("action_id", id), zap.Bool("granted", granted))
			}
		}

		pubsub.Close()
		if !sleepCtx(ctx, time.Second) {
			return
		}
	}
}

func formatSignal(id ActionID, granted bool) string {
	if granted {
		return id.Hex() + ":on"
	}
	return id.Hex() + ":off"
}

// Формат "0x<id>:on" / "0x<id>:off"
func parseSignal(payload string) (ActionID, bool, error) {
	parts := strings.Split(payload, ":")
	if len(parts) != 2 {
		return ActionID{}, false, fmt.Errorf("want <id>:<status>, got %d parts", len(parts))
	}
	id, err := ParseActionID(parts[0])
	if err != nil {
		return ActionID{}, false, err
	}
	status := parts[1] == "on" || parts[1] == "true"
	return id, status, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
