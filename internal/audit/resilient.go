package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
)

type BreakerSettings struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration // через сколько CB попробует "закрыться"
	MaxFailures uint32        // подряд, после чего открываемся
	Attempts    uint
	BaseDelay   time.Duration
}

func (s BreakerSettings) withDefaults() BreakerSettings {
	if s.Name == "" {
		s.Name = "audit-storage"
	}
	if s.MaxRequests == 0 {
		s.MaxRequests = 3
	}
	if s.Interval == 0 {
		s.Interval = 5 * time.Second
	}
	if s.Timeout == 0 {
		s.Timeout = 30 * time.Second
	}
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	if s.Attempts == 0 {
		s.Attempts = 3
	}
	if s.BaseDelay == 0 {
		s.BaseDelay = 100 * time.Millisecond
	}
	return s
}

// ResilientStorage оборачивает хранилище аудита в Retries + Circuit Breaker.
// Запись аудита идемпотентна по ID события, поэтому повторять ее безопасно
// (в отличие от привилегированных операций, которые шлюз никогда не ретраит).
type ResilientStorage struct {
	next     StorageInterface
	cb       *gobreaker.CircuitBreaker
	attempts uint
	delay    time.Duration
}

// NewResilientStorage; state (опционально) получает 0 - closed, 0.5 - half-open, 1 - open.
func NewResilientStorage(next StorageInterface, settings BreakerSettings, state prometheus.Gauge) *ResilientStorage {
	settings = settings.withDefaults()

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.MaxFailures
		},
		OnStateChange: func(_ string, _ gobreaker.State, to gobreaker.State) {
			if state == nil {
				return
			}
			switch to {
			case gobreaker.StateOpen:
				state.Set(1)
			case gobreaker.StateHalfOpen:
				state.Set(0.5)
			default:
				state.Set(0)
			}
		},
	})

	return &ResilientStorage{
		next:     next,
		cb:       cb,
		attempts: settings.Attempts,
		delay:    settings.BaseDelay,
	}
}

func (s *ResilientStorage) WriteBatch(ctx context.Context, events []Event) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(s.attempts),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				return s.delay * time.Duration(n+1)
			}),
		)
		return nil, r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return s.next.WriteBatch(tCtx, events)
		})
	})
	if err != nil {
		return fmt.Errorf("audit: write batch: %w", err)
	}
	return nil
}

func (s *ResilientStorage) State() gobreaker.State {
	return s.cb.State()
}
