package abi

import (
	"bytes"
	"math/big"
	"strings"
)

// Type - поддерживаемые типы параметров. Набор намеренно узкий: ровно то, что
// нужно привилегированным операциям и обертке execute.
type Type uint8

const (
	TypeAddress Type = iota + 1
	TypeUint256
	TypeBytes
)

func (t Type) String() string {
	switch t {
	case TypeAddress:
		return "address"
	case TypeUint256:
		return "uint256"
	case TypeBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// Method связывает имя операции со схемой аргументов.
type Method struct {
	Name   string
	Inputs []Type
}

func NewMethod(name string, inputs ...Type) Method {
	return Method{Name: name, Inputs: inputs}
}

func (m Method) Signature() string {
	parts := make([]string, len(m.Inputs))
	for i, t := range m.Inputs {
		parts[i] = t.String()
	}
	return m.Name + "(" + strings.Join(parts, ",") + ")"
}

func (m Method) Selector() Selector {
	return SelectorOf(m.Signature())
}

// Pack кодирует вызов метода с селектором.
func (m Method) Pack(args ...any) ([]byte, error) {
	return Encode(Call{Selector: m.Selector(), Args: args}, m.Inputs...)
}

// Call - разобранный запрос: тег операции и значения аргументов.
// Значения: Address, *big.Int, []byte.
type Call struct {
	Selector Selector
	Args     []any
}

// Equal сравнивает по значению (big.Int через Cmp, а не по внутреннему представлению).
func (c Call) Equal(o Call) bool {
	if c.Selector != o.Selector || len(c.Args) != len(o.Args) {
		return false
	}
	for i := range c.Args {
		if !argEqual(c.Args[i], o.Args[i]) {
			return false
		}
	}
	return true
}

func argEqual(a, b any) bool {
	switch av := a.(type) {
	case Address:
		bv, ok := b.(Address)
		return ok && av == bv
	case *big.Int:
		bv, ok := b.(*big.Int)
		return ok && av != nil && bv != nil && av.Cmp(bv) == 0
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	default:
		return false
	}
}
