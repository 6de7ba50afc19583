package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "selfauth"
)

// Ключи для Sets (состояние)
const (
	RedisKeyGrantedActions = RedisNamespace + ":permissions:granted_set"
	RedisKeyLockWarmup     = RedisNamespace + ":lock:warmup:permissions"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanPermissions - канал, по которому консоль рассылает выдачу/отзыв ключей.
	RedisChanPermissions = RedisNamespace + ":permissions:update"
)

// GetWarmupLockKey Генератор ключей для блокировок (если нужны динамические)
func GetWarmupLockKey(resource string) string {
	return fmt.Sprintf("%s:lock:warmup:%s", RedisNamespace, resource)
}
