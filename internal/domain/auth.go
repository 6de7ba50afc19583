package domain

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/selfauth-gateway/internal/abi"
)

// CustomClaims - то, что транспорт знает о вызывающем. Address - единственный
// источник идентичности caller для авторизации; из payload она не выводится.
type CustomClaims struct {
	Address abi.Address     `json:"address"`
	Scopes  map[string]bool `json:"scopes,omitempty"` // "admin": true
	jwt.RegisteredClaims
}
