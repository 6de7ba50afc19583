package vault

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/xela07ax/selfauth-gateway/internal/abi"
)

var ErrInsufficientBalance = errors.New("vault: insufficient balance")

// Ledger - учет токенов, внешний по отношению к шлюзу.
type Ledger interface {
	BalanceOf(ctx context.Context, token, holder abi.Address) (*big.Int, error)
	Transfer(ctx context.Context, token, from, to abi.Address, amount *big.Int) error
}

// MemoryLedger - in-memory реализация для демо-стенда и тестов.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[abi.Address]map[abi.Address]*big.Int // token -> holder -> amount
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[abi.Address]map[abi.Address]*big.Int)}
}

// Mint начисляет стартовый баланс. Отрицательная сумма - ошибка, как и в Transfer.
func (l *MemoryLedger) Mint(token, holder abi.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("vault: negative mint amount %s", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.balance(token, holder)
	b.Add(b, amount)
	return nil
}

func (l *MemoryLedger) BalanceOf(_ context.Context, token, holder abi.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balance(token, holder)), nil
}

func (l *MemoryLedger) Transfer(_ context.Context, token, from, to abi.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("vault: negative transfer amount %s", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	src := l.balance(token, from)
	if src.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, want %s", ErrInsufficientBalance, src, amount)
	}
	dst := l.balance(token, to)
	src.Sub(src, amount)
	dst.Add(dst, amount)
	return nil
}

func (l *MemoryLedger) balance(token, holder abi.Address) *big.Int {
	holders, ok := l.balances[token]
	if !ok {
		holders = make(map[abi.Address]*big.Int)
		l.balances[token] = holders
	}
	b, ok := holders[holder]
	if !ok {
		b = new(big.Int)
		holders[holder] = b
	}
	return b
}
