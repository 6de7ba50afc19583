package auth

import (
	"context"
	"net/http"

	"github.com/xela07ax/selfauth-gateway/internal/abi"
	"github.com/xela07ax/selfauth-gateway/internal/domain"
	"go.uber.org/zap"
)

// Тип для ключа в контексте (избегаем коллизий)
type ctxKey string

const (
	callerKey ctxKey = "caller"
	claimsKey ctxKey = "claims"
)

// WithCaller кладет в контекст аутентифицированного вызывающего.
func WithCaller(ctx context.Context, claims *domain.CustomClaims) context.Context {
	ctx = context.WithValue(ctx, callerKey, claims.Address)
	return context.WithValue(ctx, claimsKey, claims)
}

func CallerFromContext(ctx context.Context) (abi.Address, bool) {
	a, ok := ctx.Value(callerKey).(abi.Address)
	return a, ok
}

func ClaimsFromContext(ctx context.Context) (*domain.CustomClaims, bool) {
	c, ok := ctx.Value(claimsKey).(*domain.CustomClaims)
	return c, ok
}

func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), claims)))
		})
	}
}
