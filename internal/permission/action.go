package permission

import (
	"encoding/hex"
	"fmt"

	"github.com/xela07ax/selfauth-gateway/internal/abi"
)

// ActionID - ключ авторизации: keccak256(selector ‖ executor ‖ target) по
// упакованным 4+20+20 байтам без выравнивания.
type ActionID [32]byte

func NewActionID(selector abi.Selector, executor, target abi.Address) ActionID {
	return ActionID(abi.Keccak256(selector[:], executor[:], target[:]))
}

func (id ActionID) Hex() string {
	return "0x" + hex.EncodeToString(id[:])
}

func (id ActionID) String() string {
	return id.Hex()
}

func (id ActionID) MarshalText() ([]byte, error) {
	return []byte(id.Hex()), nil
}

func (id *ActionID) UnmarshalText(text []byte) error {
	parsed, err := ParseActionID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func ParseActionID(s string) (ActionID, error) {
	var id ActionID
	raw, err := abi.DecodeHex(s)
	if err != nil {
		return id, fmt.Errorf("permission: invalid action id %q: %w", s, err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("permission: invalid action id %q: want 32 bytes, got %d", s, len(raw))
	}
	copy(id[:], raw)
	return id, nil
}
