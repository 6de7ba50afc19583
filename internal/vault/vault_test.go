package vault

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/selfauth-gateway/internal/abi"
	"go.uber.org/zap"
)

var (
	self      = abi.MustAddress("0xe7f1725e7734ce288f8367e1bb143e90bb3f0512")
	token     = abi.MustAddress("0x5fbdb2315678afecb367f032d93f642f64180aa3")
	recipient = abi.MustAddress("0x70997970c51812dc3a010c7d01b50e0d17dc79c8")
)

func newTestVault(t *testing.T, balance int64) (*Vault, *MemoryLedger, *time.Time) {
	t.Helper()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ledger := NewMemoryLedger()
	require.NoError(t, ledger.Mint(token, self, new(big.Int).Mul(big.NewInt(balance), DefaultWithdrawalLimit())))
	v := NewVault(self, ledger, zap.NewNop(), WithClock(func() time.Time { return now }))
	return v, ledger, &now
}

func balanceOf(t *testing.T, l Ledger, holder abi.Address) *big.Int {
	t.Helper()
	b, err := l.BalanceOf(context.Background(), token, holder)
	require.NoError(t, err)
	return b
}

func TestSelectors(t *testing.T) {
	assert.Equal(t, "0xd9caed12", WithdrawMethod.Selector().String())
	assert.Equal(t, "0x85fb709d", SweepFundsMethod.Selector().String())
}

func TestWithdrawWaitingPeriod(t *testing.T) {
	v, ledger, now := newTestVault(t, 10)
	ctx := context.Background()
	start := *now
	assert.Equal(t, start, v.LastWithdrawal())

	// Сразу после создания - рано
	err := v.Withdraw(ctx, token, recipient, big.NewInt(1))
	assert.ErrorIs(t, err, ErrWaitingPeriodNotEnded)

	// Ровно на границе - все еще рано
	*now = start.Add(DefaultWaitingPeriod)
	err = v.Withdraw(ctx, token, recipient, big.NewInt(1))
	assert.ErrorIs(t, err, ErrWaitingPeriodNotEnded)

	*now = start.Add(DefaultWaitingPeriod + time.Second)
	require.NoError(t, v.Withdraw(ctx, token, recipient, DefaultWithdrawalLimit()))
	assert.Equal(t, *now, v.LastWithdrawal())
	assert.Equal(t, 0, balanceOf(t, ledger, recipient).Cmp(DefaultWithdrawalLimit()))

	// Отсчет начинается заново
	err = v.Withdraw(ctx, token, recipient, big.NewInt(1))
	assert.ErrorIs(t, err, ErrWaitingPeriodNotEnded)
}

func TestWithdrawLimit(t *testing.T) {
	v, ledger, now := newTestVault(t, 10)
	*now = now.Add(DefaultWaitingPeriod + time.Second)

	tooMuch := new(big.Int).Add(DefaultWithdrawalLimit(), big.NewInt(1))
	err := v.Withdraw(context.Background(), token, recipient, tooMuch)
	assert.ErrorIs(t, err, ErrInvalidWithdrawalAmount)
	assert.Zero(t, balanceOf(t, ledger, recipient).Sign())
}

func TestWithdrawInsufficientBalanceKeepsTimestamp(t *testing.T) {
	v, _, now := newTestVault(t, 0)
	before := v.LastWithdrawal()
	*now = now.Add(DefaultWaitingPeriod + time.Second)

	err := v.Withdraw(context.Background(), token, recipient, big.NewInt(1))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, before, v.LastWithdrawal())
}

func TestCustomLimits(t *testing.T) {
	now := time.Now()
	ledger := NewMemoryLedger()
	require.NoError(t, ledger.Mint(token, self, big.NewInt(100)))
	v := NewVault(self, ledger, zap.NewNop(),
		WithClock(func() time.Time { return now }),
		WithWithdrawalLimit(big.NewInt(10)),
		WithWaitingPeriod(time.Minute),
	)

	now = now.Add(time.Minute + time.Second)
	assert.ErrorIs(t, v.Withdraw(context.Background(), token, recipient, big.NewInt(11)), ErrInvalidWithdrawalAmount)
	require.NoError(t, v.Withdraw(context.Background(), token, recipient, big.NewInt(10)))
	assert.Equal(t, int64(10), balanceOf(t, ledger, recipient).Int64())
}

func TestSweepFunds(t *testing.T) {
	v, ledger, _ := newTestVault(t, 1_000_000)
	receiver := abi.MustAddress("0x3c44cdddb6a900fa2b585dd299e03d12fa4293bc")

	require.NoError(t, v.SweepFunds(context.Background(), receiver, token))
	want := new(big.Int).Mul(big.NewInt(1_000_000), DefaultWithdrawalLimit())
	assert.Equal(t, 0, balanceOf(t, ledger, receiver).Cmp(want))
	assert.Zero(t, balanceOf(t, ledger, self).Sign())

	// Пустое хранилище: перевод нуля
	require.NoError(t, v.SweepFunds(context.Background(), receiver, token))
}

func TestOperationsDispatch(t *testing.T) {
	v, ledger, _ := newTestVault(t, 1)
	ops := v.Operations()
	require.Len(t, ops, 2)
	assert.Equal(t, WithdrawMethod.Selector(), ops[0].Method().Selector())
	assert.Equal(t, SweepFundsMethod.Selector(), ops[1].Method().Selector())

	_, err := ops[1].Invoke(context.Background(), []any{recipient, token})
	require.NoError(t, err)
	assert.Equal(t, 0, balanceOf(t, ledger, recipient).Cmp(DefaultWithdrawalLimit()))
}

func TestMemoryLedgerTransfer(t *testing.T) {
	l := NewMemoryLedger()
	require.NoError(t, l.Mint(token, self, big.NewInt(5)))

	assert.ErrorIs(t, l.Transfer(context.Background(), token, self, recipient, big.NewInt(6)), ErrInsufficientBalance)
	assert.Error(t, l.Transfer(context.Background(), token, self, recipient, big.NewInt(-1)))
	require.NoError(t, l.Transfer(context.Background(), token, self, recipient, big.NewInt(5)))

	// Отрицательное начисление не уводит баланс ниже нуля
	assert.Error(t, l.Mint(token, recipient, big.NewInt(-10)))
	assert.Equal(t, int64(5), balanceOf(t, l, recipient).Int64())

	// BalanceOf возвращает копию
	b := balanceOf(t, l, recipient)
	b.SetInt64(100)
	assert.Equal(t, int64(5), balanceOf(t, l, recipient).Int64())
}
