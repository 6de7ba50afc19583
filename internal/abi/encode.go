package abi

import (
	"encoding/binary"
	"fmt"
	"math/big"
)

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Encode - обратная операция к Decode. Раскладка каноническая: голова из слотов
// в порядке аргументов, хвост из блобов в том же порядке, каждый выровнен до слова.
func Encode(c Call, inputs ...Type) ([]byte, error) {
	region, err := EncodeArgs(inputs, c.Args...)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, SelectorSize+len(region))
	out = append(out, c.Selector[:]...)
	return append(out, region...), nil
}

func EncodeArgs(inputs []Type, args ...any) ([]byte, error) {
	if len(args) != len(inputs) {
		return nil, fmt.Errorf("%w: want %d args, got %d", ErrArgumentMismatch, len(inputs), len(args))
	}

	headSize := len(inputs) * WordSize
	head := make([]byte, 0, headSize)
	var tail []byte

	for i, t := range inputs {
		switch t {
		case TypeAddress:
			a, ok := args[i].(Address)
			if !ok {
				return nil, fmt.Errorf("%w: arg %d want address, got %T", ErrArgumentMismatch, i, args[i])
			}
			head = append(head, leftPad(a[:])...)
		case TypeUint256:
			v, ok := args[i].(*big.Int)
			if !ok || v == nil {
				return nil, fmt.Errorf("%w: arg %d want *big.Int, got %T", ErrArgumentMismatch, i, args[i])
			}
			if v.Sign() < 0 || v.Cmp(maxUint256) > 0 {
				return nil, fmt.Errorf("%w: arg %d out of uint256 range", ErrArgumentMismatch, i)
			}
			var w [WordSize]byte
			v.FillBytes(w[:])
			head = append(head, w[:]...)
		case TypeBytes:
			b, ok := args[i].([]byte)
			if !ok {
				return nil, fmt.Errorf("%w: arg %d want []byte, got %T", ErrArgumentMismatch, i, args[i])
			}
			head = append(head, uintWord(uint64(headSize+len(tail)))...)
			tail = append(tail, uintWord(uint64(len(b)))...)
			tail = append(tail, rightPad(b)...)
		default:
			return nil, fmt.Errorf("%w: unsupported type %d at arg %d", ErrArgumentMismatch, t, i)
		}
	}
	return append(head, tail...), nil
}

func uintWord(v uint64) []byte {
	w := make([]byte, WordSize)
	binary.BigEndian.PutUint64(w[WordSize-8:], v)
	return w
}

func leftPad(b []byte) []byte {
	w := make([]byte, WordSize)
	copy(w[WordSize-len(b):], b)
	return w
}

func rightPad(b []byte) []byte {
	n := (len(b) + WordSize - 1) / WordSize * WordSize
	w := make([]byte, n)
	copy(w, b)
	return w
}
