package engine

import "errors"

var (
	// ErrUnauthorized - ключ (внутренний тег, caller, target) не выдан.
	ErrUnauthorized = errors.New("gateway: caller not allowed to perform action")
	// ErrUnknownOperation - внутренний тег не соответствует ни одной операции.
	ErrUnknownOperation = errors.New("gateway: unknown operation")
	// ErrNotExecute - внешний тег не execute(address,bytes).
	ErrNotExecute = errors.New("gateway: outer call is not execute")
	// ErrTargetNotAllowed - outer.target не сам шлюз.
	ErrTargetNotAllowed = errors.New("gateway: target not allowed")
	// ErrMissingCaller - транспорт не установил вызывающего.
	ErrMissingCaller = errors.New("gateway: caller identity missing")
)
