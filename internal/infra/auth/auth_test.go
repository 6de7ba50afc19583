package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/selfauth-gateway/internal/abi"
	"github.com/xela07ax/selfauth-gateway/internal/domain"
	"go.uber.org/zap"
)

var player = abi.MustAddress("0x70997970c51812dc3a010c7d01b50e0d17dc79c8")

func newKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestIssueAndVerify(t *testing.T) {
	key := newKey(t)
	token, err := NewSigner(key, time.Minute).Issue(player, "admin")
	require.NoError(t, err)

	claims, err := NewBaseValidator(&key.PublicKey).VerifyToken("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, player, claims.Address)
	assert.True(t, claims.Scopes["admin"])
	assert.Equal(t, player.Hex(), claims.Subject)
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	token, err := NewSigner(newKey(t), time.Minute).Issue(player)
	require.NoError(t, err)

	_, err = NewBaseValidator(&newKey(t).PublicKey).VerifyToken(token)
	assert.Error(t, err)
}

func TestVerifyRejectsExpired(t *testing.T) {
	key := newKey(t)
	claims := domain.CustomClaims{
		Address: player,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)

	_, err = NewBaseValidator(&key.PublicKey).VerifyToken(token)
	assert.Error(t, err)
}

func TestVerifyRejectsHMAC(t *testing.T) {
	key := newKey(t)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, domain.CustomClaims{Address: player}).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewBaseValidator(&key.PublicKey).VerifyToken(token)
	assert.Error(t, err)
}

func TestVerifyRequiresAddress(t *testing.T) {
	key := newKey(t)
	token, err := NewSigner(key, time.Minute).Issue(abi.Address{})
	require.NoError(t, err)

	_, err = NewBaseValidator(&key.PublicKey).VerifyToken(token)
	assert.ErrorIs(t, err, ErrMissingCaller)
}

func TestParseKeys(t *testing.T) {
	key := newKey(t)

	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	priv, err := ParseRSAPrivateKey(privPEM)
	require.NoError(t, err)
	assert.True(t, priv.Equal(key))

	pub, err := ParseRSAPublicKey(pubPEM)
	require.NoError(t, err)
	assert.True(t, pub.Equal(&key.PublicKey))

	_, err = ParseRSAPublicKey(nil)
	assert.Error(t, err)
	_, err = ParseRSAPrivateKey([]byte("garbage"))
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	key := newKey(t)
	mw := NewMiddleware(NewBaseValidator(&key.PublicKey), zap.NewNop())

	var seen abi.Address
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		require.True(t, ok)
		seen = caller
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := NewSigner(key, time.Minute).Issue(player)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, player, seen)
}
