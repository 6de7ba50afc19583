package permission

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/selfauth-gateway/internal/abi"
	"go.uber.org/zap"
)

var (
	admin    = abi.MustAddress("0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266")
	player   = abi.MustAddress("0x70997970c51812dc3a010c7d01b50e0d17dc79c8")
	vaultAdr = abi.MustAddress("0xe7f1725e7734ce288f8367e1bb143e90bb3f0512")

	sweepSel    = abi.SelectorOf("sweepFunds(address,address)")
	withdrawSel = abi.SelectorOf("withdraw(address,address,uint256)")
)

type fakeStore struct {
	grants  map[ActionID]struct{}
	saves   int
	deletes int
	failErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{grants: make(map[ActionID]struct{})}
}

func (s *fakeStore) LoadGrants(ctx context.Context) ([]ActionID, error) {
	if s.failErr != nil {
		return nil, s.failErr
	}
	ids := make([]ActionID, 0, len(s.grants))
	for id := range s.grants {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *fakeStore) SaveGrants(ctx context.Context, ids []ActionID) error {
	if s.failErr != nil {
		return s.failErr
	}
	s.saves++
	for _, id := range ids {
		s.grants[id] = struct{}{}
	}
	return nil
}

func (s *fakeStore) DeleteGrant(ctx context.Context, id ActionID) error {
	if s.failErr != nil {
		return s.failErr
	}
	s.deletes++
	delete(s.grants, id)
	return nil
}

type recordingNotifier struct {
	events []string
}

func (n *recordingNotifier) Publish(ctx context.Context, id ActionID, granted bool) error {
	n.events = append(n.events, formatSignal(id, granted))
	return nil
}

func TestActionID(t *testing.T) {
	id := NewActionID(withdrawSel, player, vaultAdr)

	packed := append(append(withdrawSel[:], player[:]...), vaultAdr[:]...)
	require.Len(t, packed, 44)
	assert.Equal(t, ActionID(abi.Keccak256(packed)), id)

	assert.NotEqual(t, id, NewActionID(sweepSel, player, vaultAdr))
	assert.NotEqual(t, id, NewActionID(withdrawSel, admin, vaultAdr))
	assert.NotEqual(t, id, NewActionID(withdrawSel, player, admin))

	parsed, err := ParseActionID(id.Hex())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseActionID("0x1234")
	assert.Error(t, err)
}

func TestKeccakEmptyInput(t *testing.T) {
	h := abi.Keccak256()
	assert.Equal(t, "0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470", ActionID(h).Hex())
}

func TestRegistryDefaultDeny(t *testing.T) {
	r := NewRegistry(admin, zap.NewNop())

	assert.False(t, r.IsAuthorized(sweepSel, player, vaultAdr))
	assert.False(t, r.Granted(ActionID{}))
	assert.False(t, r.Initialized())
	assert.Zero(t, r.Len())
}

func TestRegistrySetPermissionsOnce(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	notifier := &recordingNotifier{}
	r := NewRegistry(admin, zap.NewNop(), WithStore(store), WithNotifier(notifier))

	deployerID := NewActionID(sweepSel, admin, vaultAdr)
	playerID := NewActionID(withdrawSel, player, vaultAdr)

	err := r.SetPermissions(ctx, player, []ActionID{playerID})
	require.ErrorIs(t, err, ErrNotAdmin)
	assert.False(t, r.Initialized())

	require.NoError(t, r.SetPermissions(ctx, admin, []ActionID{deployerID, playerID}))
	assert.True(t, r.Initialized())
	assert.True(t, r.IsAuthorized(sweepSel, admin, vaultAdr))
	assert.True(t, r.IsAuthorized(withdrawSel, player, vaultAdr))
	assert.False(t, r.IsAuthorized(sweepSel, player, vaultAdr))
	assert.Len(t, store.grants, 2)
	assert.Len(t, notifier.events, 2)

	err = r.SetPermissions(ctx, admin, []ActionID{NewActionID(sweepSel, player, vaultAdr)})
	require.ErrorIs(t, err, ErrAlreadyInitialized)
	assert.False(t, r.IsAuthorized(sweepSel, player, vaultAdr))
}

func TestRegistryGrantIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	notifier := &recordingNotifier{}
	r := NewRegistry(admin, zap.NewNop(), WithStore(store), WithNotifier(notifier))
	id := NewActionID(withdrawSel, player, vaultAdr)

	require.NoError(t, r.Grant(ctx, admin, id))
	require.NoError(t, r.Grant(ctx, admin, id))

	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 1, store.saves)
	assert.Equal(t, []string{id.Hex() + ":on"}, notifier.events)
}

func TestRegistryRevoke(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	r := NewRegistry(admin, zap.NewNop(), WithStore(store))
	id := NewActionID(withdrawSel, player, vaultAdr)

	require.NoError(t, r.Grant(ctx, admin, id))
	require.ErrorIs(t, r.Revoke(ctx, player, id), ErrNotAdmin)
	assert.True(t, r.Granted(id))

	require.NoError(t, r.Revoke(ctx, admin, id))
	require.NoError(t, r.Revoke(ctx, admin, id))
	assert.False(t, r.Granted(id))
	// Повторный отзыв тоже доходит до хранилища, состояние то же
	assert.Equal(t, 2, store.deletes)
	assert.Empty(t, store.grants)
}

// Консоль и шлюз держат свои копии реестра поверх одного хранилища.
func TestRegistryRevokeReachesSharedStore(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	consoleNotifier := &recordingNotifier{}

	console := NewRegistry(admin, zap.NewNop(), WithStore(store), WithNotifier(consoleNotifier))
	require.NoError(t, console.Refresh(ctx))
	assert.False(t, console.Initialized())

	gateway := NewRegistry(admin, zap.NewNop(), WithStore(store))
	id := NewActionID(withdrawSel, player, vaultAdr)
	require.NoError(t, gateway.SetPermissions(ctx, admin, []ActionID{id}))
	assert.False(t, console.Granted(id))

	require.NoError(t, console.Revoke(ctx, admin, id))
	assert.NotContains(t, store.grants, id)
	assert.Equal(t, 1, store.deletes)
	assert.Equal(t, []string{id.Hex() + ":off"}, consoleNotifier.events)

	// Шлюз получает отзыв через рассылку
	gateway.Apply(id, false)
	assert.False(t, gateway.Granted(id))
}

func TestRegistrySetPermissionsSeesSharedStore(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()

	console := NewRegistry(admin, zap.NewNop(), WithStore(store))
	require.NoError(t, console.Refresh(ctx))

	gateway := NewRegistry(admin, zap.NewNop(), WithStore(store))
	id := NewActionID(withdrawSel, player, vaultAdr)
	require.NoError(t, gateway.SetPermissions(ctx, admin, []ActionID{id}))

	other := NewActionID(sweepSel, player, vaultAdr)
	err := console.SetPermissions(ctx, admin, []ActionID{other})
	require.ErrorIs(t, err, ErrAlreadyInitialized)
	assert.True(t, console.Initialized())
	assert.True(t, console.Granted(id))
	assert.False(t, console.Granted(other))
	assert.NotContains(t, store.grants, other)
}

func TestRegistryStoreFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	r := NewRegistry(admin, zap.NewNop(), WithStore(store))
	id := NewActionID(withdrawSel, player, vaultAdr)

	store.failErr = errors.New("db down")
	require.Error(t, r.Grant(ctx, admin, id))
	assert.False(t, r.Granted(id))

	require.Error(t, r.SetPermissions(ctx, admin, []ActionID{id}))
	assert.False(t, r.Initialized())

	store.failErr = nil
	require.NoError(t, r.Grant(ctx, admin, id))
	store.failErr = errors.New("db down")
	require.Error(t, r.Revoke(ctx, admin, id))
	assert.True(t, r.Granted(id))
}

func TestRegistryRefreshAndApply(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	id := NewActionID(withdrawSel, player, vaultAdr)
	store.grants[id] = struct{}{}

	r := NewRegistry(admin, zap.NewNop(), WithStore(store))
	require.NoError(t, r.Refresh(ctx))
	assert.True(t, r.Granted(id))
	assert.True(t, r.Initialized())

	other := NewActionID(sweepSel, admin, vaultAdr)
	r.Apply(other, true)
	assert.True(t, r.Granted(other))
	r.Apply(other, false)
	assert.False(t, r.Granted(other))

	store.failErr = errors.New("db down")
	require.Error(t, r.Refresh(ctx))
	assert.True(t, r.Granted(id))

	// без Store Refresh ничего не делает
	assert.NoError(t, NewRegistry(admin, zap.NewNop()).Refresh(ctx))
}
