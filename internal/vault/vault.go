package vault

/*
Vault - набор привилегированных операций, доступных только через шлюз:
- withdraw: вывод не больше лимита и не чаще, чем раз в период ожидания;
- sweepFunds: перевод всего баланса токена на адрес восстановления.
Лимиты - доменные ограничения операции, к авторизации они отношения не имеют.
*/

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/xela07ax/selfauth-gateway/internal/abi"
	"github.com/xela07ax/selfauth-gateway/internal/engine"
	"go.uber.org/zap"
)

var (
	ErrInvalidWithdrawalAmount = errors.New("vault: invalid withdrawal amount")
	ErrWaitingPeriodNotEnded   = errors.New("vault: withdrawal waiting period not ended")
)

const DefaultWaitingPeriod = 15 * 24 * time.Hour

// DefaultWithdrawalLimit - 1 токен с 18 знаками.
func DefaultWithdrawalLimit() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
}

var (
	WithdrawMethod   = abi.NewMethod("withdraw", abi.TypeAddress, abi.TypeAddress, abi.TypeUint256)
	SweepFundsMethod = abi.NewMethod("sweepFunds", abi.TypeAddress, abi.TypeAddress)
)

type Option func(*Vault)

func WithClock(now func() time.Time) Option {
	return func(v *Vault) { v.now = now }
}

func WithWithdrawalLimit(limit *big.Int) Option {
	return func(v *Vault) {
		if limit != nil && limit.Sign() > 0 {
			v.limit = new(big.Int).Set(limit)
		}
	}
}

func WithWaitingPeriod(d time.Duration) Option {
	return func(v *Vault) {
		if d > 0 {
			v.waitingPeriod = d
		}
	}
}

type Vault struct {
	self   abi.Address
	ledger Ledger
	logger *zap.Logger

	limit         *big.Int
	waitingPeriod time.Duration
	now           func() time.Time

	mu             sync.Mutex
	lastWithdrawal time.Time
}

func NewVault(self abi.Address, ledger Ledger, logger *zap.Logger, opts ...Option) *Vault {
	v := &Vault{
		self:          self,
		ledger:        ledger,
		logger:        logger.Named("vault"),
		limit:         DefaultWithdrawalLimit(),
		waitingPeriod: DefaultWaitingPeriod,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	v.lastWithdrawal = v.now()
	return v
}

func (v *Vault) Address() abi.Address {
	return v.self
}

func (v *Vault) LastWithdrawal() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastWithdrawal
}

func (v *Vault) Withdraw(ctx context.Context, token, recipient abi.Address, amount *big.Int) error {
	if amount.Cmp(v.limit) > 0 {
		return fmt.Errorf("%w: %s exceeds limit %s", ErrInvalidWithdrawalAmount, amount, v.limit)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	if !now.After(v.lastWithdrawal.Add(v.waitingPeriod)) {
		return fmt.Errorf("%w: next withdrawal after %s", ErrWaitingPeriodNotEnded, v.lastWithdrawal.Add(v.waitingPeriod).Format(time.RFC3339))
	}

	if err := v.ledger.Transfer(ctx, token, v.self, recipient, amount); err != nil {
		return err
	}
	v.lastWithdrawal = now

	v.logger.Info("withdrawal executed",
		zap.Stringer("token", token),
		zap.Stringer("recipient", recipient),
		zap.String("amount", amount.String()))
	return nil
}

func (v *Vault) SweepFunds(ctx context.Context, receiver, token abi.Address) error {
	balance, err := v.ledger.BalanceOf(ctx, token, v.self)
	if err != nil {
		return err
	}
	if err := v.ledger.Transfer(ctx, token, v.self, receiver, balance); err != nil {
		return err
	}

	v.logger.Info("funds swept",
		zap.Stringer("token", token),
		zap.Stringer("receiver", receiver),
		zap.String("amount", balance.String()))
	return nil
}

// Operations отдает привилегированные операции для регистрации в шлюзе.
// Другого пути к Withdraw/SweepFunds снаружи нет.
func (v *Vault) Operations() []engine.Operation {
	return []engine.Operation{
		engine.NewOperation(WithdrawMethod, func(ctx context.Context, args []any) ([]byte, error) {
			return nil, v.Withdraw(ctx, args[0].(abi.Address), args[1].(abi.Address), args[2].(*big.Int))
		}),
		engine.NewOperation(SweepFundsMethod, func(ctx context.Context, args []any) ([]byte, error) {
			return nil, v.SweepFunds(ctx, args[0].(abi.Address), args[1].(abi.Address))
		}),
	}
}
