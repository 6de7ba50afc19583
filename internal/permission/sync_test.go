package permission

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/selfauth-gateway/internal/infra"
	"go.uber.org/zap"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestSyncerPublishAndLoad(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)

	console := NewRegistry(admin, zap.NewNop())
	syncer := NewSyncer(rdb, console, zap.NewNop())
	console.AttachNotifier(syncer)

	id := NewActionID(withdrawSel, player, vaultAdr)
	require.NoError(t, console.Grant(ctx, admin, id))

	ok, err := mr.SIsMember(infra.RedisKeyGrantedActions, id.Hex())
	require.NoError(t, err)
	assert.True(t, ok)

	gateway := NewRegistry(admin, zap.NewNop())
	require.NoError(t, NewSyncer(rdb, gateway, zap.NewNop()).LoadFromSet(ctx))
	assert.True(t, gateway.Granted(id))

	require.NoError(t, console.Revoke(ctx, admin, id))
	// Последний элемент удален - Redis удаляет и сам ключ
	assert.False(t, rdb.SIsMember(ctx, infra.RedisKeyGrantedActions, id.Hex()).Val())
	assert.False(t, mr.Exists(infra.RedisKeyGrantedActions))
}

func TestSyncerLoadSkipsMalformedMembers(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	id := NewActionID(sweepSel, admin, vaultAdr)
	_, err := mr.SAdd(infra.RedisKeyGrantedActions, "garbage", id.Hex())
	require.NoError(t, err)

	r := NewRegistry(admin, zap.NewNop())
	require.NoError(t, NewSyncer(rdb, r, zap.NewNop()).LoadFromSet(ctx))
	assert.Equal(t, 1, r.Len())
	assert.True(t, r.Granted(id))
}

func TestSyncerListenAppliesSignals(t *testing.T) {
	_, rdb := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gateway := NewRegistry(admin, zap.NewNop())
	listener := NewSyncer(rdb, gateway, zap.NewNop())

	subscribed := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		listener.Listen(ctx, func(ctx context.Context) error {
			subscribed <- struct{}{}
			return nil
		})
	}()

	select {
	case <-subscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not subscribe")
	}

	console := NewRegistry(admin, zap.NewNop())
	publisher := NewSyncer(rdb, console, zap.NewNop())
	id := NewActionID(withdrawSel, player, vaultAdr)

	require.NoError(t, rdb.Publish(context.Background(), infra.RedisChanPermissions, "not-a-signal").Err())
	require.NoError(t, publisher.Publish(context.Background(), id, true))
	require.Eventually(t, func() bool { return gateway.Granted(id) }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, publisher.Publish(context.Background(), id, false))
	require.Eventually(t, func() bool { return !gateway.Granted(id) }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestSyncerWarmup(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	s := NewSyncer(rdb, NewRegistry(admin, zap.NewNop()), zap.NewNop())

	ids := []ActionID{NewActionID(sweepSel, admin, vaultAdr), NewActionID(withdrawSel, player, vaultAdr)}
	require.NoError(t, s.Warmup(ctx, ids))

	members, err := mr.Members(infra.RedisKeyGrantedActions)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	// Блокировка уже взята - повторный прогрев ничего не делает
	mr.Del(infra.RedisKeyGrantedActions)
	require.NoError(t, s.Warmup(ctx, ids))
	assert.False(t, mr.Exists(infra.RedisKeyGrantedActions))
}

func TestParseSignal(t *testing.T) {
	id := NewActionID(withdrawSel, player, vaultAdr)

	got, granted, err := parseSignal(formatSignal(id, true))
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.True(t, granted)

	_, granted, err = parseSignal(formatSignal(id, false))
	require.NoError(t, err)
	assert.False(t, granted)

	_, _, err = parseSignal("0xabc")
	assert.Error(t, err)
	_, _, err = parseSignal("0xabc:on")
	assert.Error(t, err)
}
