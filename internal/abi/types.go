package abi

/*
Пакет abi реализует head/tail кодирование вызовов: 4 байта селектора операции,
затем область параметров из 32-байтных слов. Статические параметры лежат в
голове inline, динамические (bytes) - смещением в хвост, где блоб предваряется
словом длины.

Кодек ничего не знает о конкретных операциях: он не проверяет, зарегистрирован ли
селектор. Это задача вызывающей стороны (engine.Gateway).
*/

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

const (
	WordSize     = 32
	SelectorSize = 4
	AddressSize  = 20
)

// Selector - 4-байтный тег операции (первые байты keccak256 сигнатуры).
type Selector [SelectorSize]byte

func (s Selector) String() string {
	return "0x" + hex.EncodeToString(s[:])
}

func (s Selector) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Selector) UnmarshalText(text []byte) error {
	parsed, err := ParseSelector(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSelector принимает hex с префиксом 0x или без него.
func ParseSelector(s string) (Selector, error) {
	var sel Selector
	raw, err := decodeHex(s, SelectorSize)
	if err != nil {
		return sel, fmt.Errorf("abi: invalid selector %q: %w", s, err)
	}
	copy(sel[:], raw)
	return sel, nil
}

// SelectorOf считает селектор по канонической сигнатуре, например "withdraw(address,address,uint256)".
func SelectorOf(signature string) Selector {
	var sel Selector
	h := Keccak256([]byte(signature))
	copy(sel[:], h[:SelectorSize])
	return sel
}

// Address - идентификатор принципала (вызывающего или ресурса).
type Address [AddressSize]byte

func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) String() string {
	return a.Hex()
}

func (a Address) IsZero() bool {
	return a == Address{}
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func ParseAddress(s string) (Address, error) {
	var addr Address
	raw, err := decodeHex(s, AddressSize)
	if err != nil {
		return addr, fmt.Errorf("abi: invalid address %q: %w", s, err)
	}
	copy(addr[:], raw)
	return addr, nil
}

// MustAddress для констант и тестов.
func MustAddress(s string) Address {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// Keccak256 - legacy Keccak (не SHA3-256 из FIPS 202), как в исходной конвенции вызовов.
func Keccak256(data ...[]byte) [32]byte {
	var out [32]byte
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	copy(out[:], h.Sum(nil))
	return out
}

// DecodeHex разбирает hex-строку произвольной длины (с 0x или без).
func DecodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return hex.DecodeString(s)
}

func decodeHex(s string, size int) ([]byte, error) {
	raw, err := DecodeHex(s)
	if err != nil {
		return nil, err
	}
	if len(raw) != size {
		return nil, fmt.Errorf("want %d bytes, got %d", size, len(raw))
	}
	return raw, nil
}
