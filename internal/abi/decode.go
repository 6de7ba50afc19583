package abi

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"
)

// SplitSelector отделяет тег операции от области параметров.
// Возвращаемый срез параметров ссылается на calldata без копирования.
func SplitSelector(calldata []byte) (Selector, []byte, error) {
	var sel Selector
	if len(calldata) < SelectorSize {
		return sel, nil, &DecodeError{
			Kind:  ErrTruncatedPayload,
			Field: "selector",
			Need:  SelectorSize,
			Have:  len(calldata),
		}
	}
	copy(sel[:], calldata[:SelectorSize])
	return sel, calldata[SelectorSize:], nil
}

// Decode разбирает calldata целиком: селектор + аргументы по схеме inputs.
func Decode(calldata []byte, inputs ...Type) (Call, error) {
	sel, region, err := SplitSelector(calldata)
	if err != nil {
		return Call{}, err
	}
	args, err := DecodeArgs(region, inputs...)
	if err != nil {
		return Call{}, err
	}
	return Call{Selector: sel, Args: args}, nil
}

// DecodeArgs разбирает область параметров. Все смещения и длины проверяются
// против len(region) - реальной длины объемлющего буфера, а не против того,
// где хвост "должен" начинаться.
func DecodeArgs(region []byte, inputs ...Type) ([]any, error) {
	r := reader{buf: region}

	headSize := uint64(len(inputs)) * WordSize
	if uint64(len(region)) < headSize {
		return nil, &DecodeError{Kind: ErrTruncatedPayload, Field: "head", Need: headSize, Have: len(region)}
	}

	args := make([]any, len(inputs))
	for i, t := range inputs {
		field := fmt.Sprintf("arg%d:%s", i, t)
		slot := i * WordSize

		switch t {
		case TypeAddress:
			w, err := r.word(slot, field)
			if err != nil {
				return nil, err
			}
			// Старшие 12 байт адреса обязаны быть нулевыми
			if !allZero(w[:WordSize-AddressSize]) {
				return nil, &DecodeError{Kind: ErrNonCanonical, Field: field, Offset: slot, Need: WordSize, Have: len(region)}
			}
			var a Address
			copy(a[:], w[WordSize-AddressSize:])
			args[i] = a
		case TypeUint256:
			w, err := r.word(slot, field)
			if err != nil {
				return nil, err
			}
			args[i] = new(big.Int).SetBytes(w)
		case TypeBytes:
			b, err := r.dynamicBytes(slot, field)
			if err != nil {
				return nil, err
			}
			args[i] = b
		default:
			return nil, fmt.Errorf("%w: unsupported type %d at arg %d", ErrArgumentMismatch, t, i)
		}
	}
	return args, nil
}

type reader struct {
	buf []byte
}

func (r reader) word(at int, field string) ([]byte, error) {
	if at < 0 || at+WordSize > len(r.buf) {
		return nil, &DecodeError{Kind: ErrTruncatedPayload, Field: field, Offset: at, Need: uint64(at) + WordSize, Have: len(r.buf)}
	}
	return r.buf[at : at+WordSize], nil
}

// uint читает слово как беззнаковое число, отказываясь от значений, не влезающих в uint64.
// Для смещений и длин этого достаточно: любой буфер короче 2^64.
func (r reader) uint(at int, field string, kind error) (uint64, error) {
	w, err := r.word(at, field)
	if err != nil {
		return 0, err
	}
	if !allZero(w[:WordSize-8]) {
		return 0, &DecodeError{Kind: kind, Field: field, Offset: at, Need: ^uint64(0), Have: len(r.buf)}
	}
	return binary.BigEndian.Uint64(w[WordSize-8:]), nil
}

// dynamicBytes идет по смещению из слота в хвост и возвращает копию блоба.
func (r reader) dynamicBytes(slot int, field string) ([]byte, error) {
	total := uint64(len(r.buf))

	offset, err := r.uint(slot, field+".offset", ErrOffsetOutOfBounds)
	if err != nil {
		return nil, err
	}
	if offset > total || total-offset < WordSize {
		return nil, &DecodeError{Kind: ErrOffsetOutOfBounds, Field: field + ".offset", Offset: slot, Need: offset + WordSize, Have: len(r.buf)}
	}

	length, err := r.uint(int(offset), field+".length", ErrInvalidLength)
	if err != nil {
		return nil, err
	}
	start := offset + WordSize
	if length > total-start {
		return nil, &DecodeError{Kind: ErrInvalidLength, Field: field + ".length", Offset: int(offset), Need: start + length, Have: len(r.buf)}
	}

	return bytes.Clone(r.buf[start : start+length]), nil
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
