package engine

import (
	"context"
	"fmt"

	"github.com/xela07ax/selfauth-gateway/internal/abi"
)

// Operation - привилегированное действие за шлюзом. Реализации доверяют шлюзу
// полностью и сами вызывающего не проверяют.
type Operation interface {
	Method() abi.Method
	Invoke(ctx context.Context, args []any) ([]byte, error)
}

type OperationFunc func(ctx context.Context, args []any) ([]byte, error)

type funcOperation struct {
	method abi.Method
	fn     OperationFunc
}

func (o funcOperation) Method() abi.Method { return o.method }

func (o funcOperation) Invoke(ctx context.Context, args []any) ([]byte, error) {
	return o.fn(ctx, args)
}

// NewOperation оборачивает функцию в Operation.
func NewOperation(method abi.Method, fn OperationFunc) Operation {
	return funcOperation{method: method, fn: fn}
}

// OperationError - доменная ошибка операции, пробрасывается вызывающему без изменений.
type OperationError struct {
	Selector abi.Selector
	Method   string
	Err      error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("operation %s (%s) failed: %v", e.Method, e.Selector, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
