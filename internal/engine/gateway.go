package engine

/*
Gateway - единственная внешняя точка входа: execute(address target, bytes data).

Инвариант: тег, по которому считается ключ авторизации, и тег операции, которая
реально исполняется, берутся из ОДНОГО и того же разобранного InnerRequest.
Внутренний payload - это ровно блоб data, выделенный по его смещению и длине с
проверкой границ относительно всего outer-буфера. Никаких чтений по
фиксированным смещениям calldata.
*/

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/selfauth-gateway/internal/abi"
	"github.com/xela07ax/selfauth-gateway/internal/audit"
	"github.com/xela07ax/selfauth-gateway/internal/permission"
	"go.uber.org/zap"
)

var ExecuteMethod = abi.NewMethod("execute", abi.TypeAddress, abi.TypeBytes)

// OuterRequest - конверт execute.
type OuterRequest struct {
	Target abi.Address
	Data   []byte
}

// InnerRequest - операция, которая будет и проверена, и исполнена.
type InnerRequest struct {
	Selector abi.Selector
	Args     []any
}

type Option func(*Gateway)

// WithStrictLayout требует каноническое кодирование outer и inner payload.
func WithStrictLayout(strict bool) Option {
	return func(g *Gateway) { g.strict = strict }
}

func WithAuditor(a audit.Auditor) Option {
	return func(g *Gateway) { g.auditor = a }
}

func WithMetrics(m *Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

type Gateway struct {
	self     abi.Address
	registry *permission.Registry
	ops      map[abi.Selector]Operation
	auditor  audit.Auditor
	metrics  *Metrics
	logger   *zap.Logger
	strict   bool

	// Одно исполнение за раз: decode -> authorize -> dispatch атомарны относительно друг друга
	execMu sync.Mutex
}

func NewGateway(self abi.Address, registry *permission.Registry, logger *zap.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		self:     self,
		registry: registry,
		ops:      make(map[abi.Selector]Operation),
		logger:   logger.Named("gateway"),
		strict:   true,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.metrics == nil {
		g.metrics = NewMetrics(nil)
	}
	return g
}

func (g *Gateway) Address() abi.Address {
	return g.self
}

// Register добавляет привилегированные операции. Повтор селектора - ошибка конфигурации.
func (g *Gateway) Register(ops ...Operation) error {
	for _, op := range ops {
		sel := op.Method().Selector()
		if sel == ExecuteMethod.Selector() {
			return fmt.Errorf("gateway: selector %s is reserved for execute", sel)
		}
		if existing, ok := g.ops[sel]; ok {
			return fmt.Errorf("gateway: selector %s of %s already registered by %s",
				sel, op.Method().Signature(), existing.Method().Signature())
		}
		g.ops[sel] = op
		g.logger.Debug("operation registered", zap.String("signature", op.Method().Signature()), zap.Stringer("selector", sel))
	}
	return nil
}

// Execute - публичная операция. caller приходит только от транспорта (JWT),
// никогда из байтов запроса.
func (g *Gateway) Execute(ctx context.Context, caller abi.Address, calldata []byte) ([]byte, error) {
	g.execMu.Lock()
	defer g.execMu.Unlock()

	start := time.Now()
	event := audit.Event{
		ID:        uuid.New().String(),
		TraceID:   extractTraceID(ctx),
		Caller:    caller.Hex(),
		Timestamp: start,
	}
	selectorLabel := "unknown"

	defer func() {
		event.DurationMs = time.Since(start).Milliseconds()
		g.metrics.RequestDuration.WithLabelValues(selectorLabel, event.Status).Observe(time.Since(start).Seconds())
		g.metrics.TotalRequests.WithLabelValues(selectorLabel, event.Status).Inc()
		g.metrics.GrantedActions.Set(float64(g.registry.Len()))
		if g.auditor != nil {
			g.auditor.Log(event)
		}
	}()

	fail := func(status, errType string, err error) ([]byte, error) {
		event.Status = status
		event.Error = err.Error()
		g.metrics.ErrorTotal.WithLabelValues(errType).Inc()
		g.logger.Warn("execute rejected",
			zap.String("trace_id", event.TraceID),
			zap.String("caller", event.Caller),
			zap.String("target", event.Target),
			zap.String("selector", event.Selector),
			zap.String("status", status),
			zap.Error(err))
		return nil, err
	}

	if caller.IsZero() {
		return fail(audit.StatusDenied, "missing_caller", ErrMissingCaller)
	}

	// 1. Конверт
	outer, err := g.DecodeOuter(calldata)
	if err != nil {
		if errors.Is(err, ErrNotExecute) {
			return fail(audit.StatusUnknownOperation, "not_execute", err)
		}
		return fail(audit.StatusDecodeError, "decode", err)
	}
	event.Target = outer.Target.Hex()

	// 2. Внутренний запрос: граница - вся длина outer.Data
	inner, op, err := g.DecodeInner(outer.Data)
	if err != nil {
		if errors.Is(err, ErrUnknownOperation) {
			event.Selector = selectorOf(outer.Data)
			return fail(audit.StatusUnknownOperation, "unknown_operation", err)
		}
		return fail(audit.StatusDecodeError, "decode", err)
	}
	event.Selector = inner.Selector.String()
	selectorLabel = op.Method().Name

	// 3-4. Ключ из тега, который будет исполнен
	actionID := permission.NewActionID(inner.Selector, caller, outer.Target)
	event.ActionID = actionID.Hex()
	if !g.registry.Granted(actionID) {
		return fail(audit.StatusDenied, "policy_deny", ErrUnauthorized)
	}

	if outer.Target != g.self {
		return fail(audit.StatusTargetNotAllowed, "target_not_allowed", ErrTargetNotAllowed)
	}

	// 5. Исполнение ровно того InnerRequest, что был авторизован. Без ретраев.
	resp, err := op.Invoke(ctx, inner.Args)
	if err != nil {
		return fail(audit.StatusFailed, "operation", &OperationError{
			Selector: inner.Selector,
			Method:   op.Method().Name,
			Err:      err,
		})
	}

	event.Status = audit.StatusSuccess
	g.logger.Info("execute succeeded",
		zap.String("trace_id", event.TraceID),
		zap.String("caller", event.Caller),
		zap.String("selector", event.Selector),
		zap.String("operation", op.Method().Name))
	return resp, nil
}

// DecodeOuter разбирает конверт execute(target, data).
func (g *Gateway) DecodeOuter(calldata []byte) (OuterRequest, error) {
	sel, region, err := abi.SplitSelector(calldata)
	if err != nil {
		return OuterRequest{}, err
	}
	if sel != ExecuteMethod.Selector() {
		return OuterRequest{}, fmt.Errorf("%w: got selector %s", ErrNotExecute, sel)
	}
	args, err := abi.DecodeArgs(region, ExecuteMethod.Inputs...)
	if err != nil {
		return OuterRequest{}, err
	}
	call := abi.Call{Selector: sel, Args: args}
	if g.strict {
		if err := requireCanonical(call, calldata, "execute", ExecuteMethod.Inputs); err != nil {
			return OuterRequest{}, err
		}
	}
	return OuterRequest{
		Target: call.Args[0].(abi.Address),
		Data:   call.Args[1].([]byte),
	}, nil
}

// DecodeInner выделяет тег из начала data и разбирает аргументы по схеме операции.
func (g *Gateway) DecodeInner(data []byte) (InnerRequest, Operation, error) {
	sel, region, err := abi.SplitSelector(data)
	if err != nil {
		return InnerRequest{}, nil, err
	}
	op, ok := g.ops[sel]
	if !ok {
		return InnerRequest{}, nil, fmt.Errorf("%w: selector %s", ErrUnknownOperation, sel)
	}
	args, err := abi.DecodeArgs(region, op.Method().Inputs...)
	if err != nil {
		return InnerRequest{}, nil, err
	}
	inner := InnerRequest{Selector: sel, Args: args}
	if g.strict {
		if err := requireCanonical(abi.Call{Selector: sel, Args: args}, data, op.Method().Name, op.Method().Inputs); err != nil {
			return InnerRequest{}, nil, err
		}
	}
	return inner, op, nil
}

func requireCanonical(call abi.Call, raw []byte, field string, inputs []abi.Type) error {
	canonical, err := abi.Encode(call, inputs...)
	if err != nil {
		return err
	}
	if !bytes.Equal(canonical, raw) {
		return &abi.DecodeError{
			Kind:  abi.ErrNonCanonical,
			Field: field,
			Need:  uint64(len(canonical)),
			Have:  len(raw),
		}
	}
	return nil
}

func selectorOf(data []byte) string {
	sel, _, err := abi.SplitSelector(data)
	if err != nil {
		return ""
	}
	return sel.String()
}
