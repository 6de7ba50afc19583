package abi

import (
	"errors"
	"fmt"
)

var (
	ErrTruncatedPayload  = errors.New("abi: truncated payload")
	ErrOffsetOutOfBounds = errors.New("abi: offset out of bounds")
	ErrInvalidLength     = errors.New("abi: invalid length")
	// ErrNonCanonical - данные читаются, но не совпадают с каноническим кодированием
	// (грязный padding адреса, нестандартные смещения, мусор в хвосте).
	ErrNonCanonical = errors.New("abi: non-canonical encoding")

	ErrArgumentMismatch = errors.New("abi: argument does not match input type")
)

// DecodeError описывает, где именно сломался разбор. Kind - один из sentinel-ов выше,
// поэтому errors.Is(err, abi.ErrTruncatedPayload) работает через Unwrap.
type DecodeError struct {
	Kind   error
	Field  string
	Offset int    // позиция в разбираемой области
	Need   uint64 // сколько байт требовалось
	Have   int    // сколько реально есть в объемлющем буфере
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%v: field %s at offset %d (need %d, have %d)", e.Kind, e.Field, e.Offset, e.Need, e.Have)
}

func (e *DecodeError) Unwrap() error {
	return e.Kind
}

// IsDecodeError удобен на транспортном слое для маппинга в 400 / InvalidArgument.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
