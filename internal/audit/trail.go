package audit

/*
Trail - асинхронный журнал решений шлюза.

- Non-blocking: Log не ждет БД, событие уходит в буферизованный канал.
- Batching: воркер копит события и пишет пачкой по таймеру или по размеру.
- Drain: Stop закрывает канал, воркер вычитывает остатки и делает финальный flush.
*/

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически будут сохраняться события
type StorageInterface interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []Event) error
}

type Auditor interface {
	Log(event Event)
}

type Option func(*Trail)

func WithBufferSize(n int) Option {
	return func(t *Trail) {
		if n > 0 {
			t.bufferSize = n
		}
	}
}

func WithBatchSize(n int) Option {
	return func(t *Trail) {
		if n > 0 {
			t.batchSize = n
		}
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(t *Trail) {
		if d > 0 {
			t.flushInterval = d
		}
	}
}

// WithBufferGauge публикует заполненность буфера (backpressure).
func WithBufferGauge(g prometheus.Gauge) Option {
	return func(t *Trail) { t.fill = g }
}

type Trail struct {
	ch     chan Event
	repo   StorageInterface
	logger *zap.Logger
	fill   prometheus.Gauge
	wg     sync.WaitGroup

	bufferSize    int
	batchSize     int
	flushInterval time.Duration

	// mu защищает отправку в ch от close в Stop
	mu     sync.RWMutex
	closed bool
}

func NewTrail(repo StorageInterface, logger *zap.Logger, opts ...Option) *Trail {
	t := &Trail{
		repo:          repo,
		logger:        logger.With(zap.String("mod", "audit")),
		bufferSize:    10000,
		batchSize:     100,
		flushInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.ch = make(chan Event, t.bufferSize)
	return t
}

func (t *Trail) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Stop «запирает» вход и ждет, пока воркер всё допишет.
func (t *Trail) Stop() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.logger.Info("stopping audit trail: closing channel and flushing buffer...")
	close(t.ch)
	t.mu.Unlock()

	t.wg.Wait()
	t.logger.Info("audit trail stopped gracefully")
}

func (t *Trail) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		t.logger.Warn("audit event dropped: trail is stopping", zap.String("id", event.ID))
		return
	}

	// Load Shedding: при переполнении не блокируем горячий путь
	select {
	case t.ch <- event:
		t.observeFill()
	default:
		t.logger.Error("audit_buffer_overflow",
			zap.String("caller", event.Caller),
			zap.String("trace_id", event.TraceID),
			zap.String("status", event.Status),
		)
	}
}

func (t *Trail) observeFill() {
	if t.fill != nil {
		t.fill.Set(float64(len(t.ch)))
	}
}

func (t *Trail) worker() {
	defer t.wg.Done()

	batch := make([]Event, 0, t.batchSize)
	ticker := time.NewTicker(t.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст может быть уже закрыт
		if err := t.repo.WriteBatch(context.Background(), batch); err != nil {
			t.logger.Error("audit flush failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		batch = make([]Event, 0, t.batchSize)
		t.observeFill()
	}

	for {
		select {
		case event, ok := <-t.ch:
			if !ok {
				// Канал закрыт в Stop(): остатки уже вычитаны, финальный сброс
				flush()
				t.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= t.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// LogStorage пишет события в zap - для стендов без Postgres.
type LogStorage struct {
	logger *zap.Logger
}

func NewLogStorage(logger *zap.Logger) *LogStorage {
	return &LogStorage{logger: logger.Named("audit-log")}
}

func (s *LogStorage) WriteBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		s.logger.Info("audit",
			zap.String("id", e.ID),
			zap.String("trace_id", e.TraceID),
			zap.String("caller", e.Caller),
			zap.String("target", e.Target),
			zap.String("selector", e.Selector),
			zap.String("action_id", e.ActionID),
			zap.String("status", e.Status),
			zap.String("error", e.Error),
			zap.Int64("duration_ms", e.DurationMs),
		)
	}
	return nil
}
