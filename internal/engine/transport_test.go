package engine_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/selfauth-gateway/internal/abi"
	"github.com/xela07ax/selfauth-gateway/internal/engine"
	"github.com/xela07ax/selfauth-gateway/internal/infra/auth"
	"github.com/xela07ax/selfauth-gateway/internal/permission"
	"github.com/xela07ax/selfauth-gateway/internal/vault"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func newKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func newHTTPServer(t *testing.T, f *fixture, key *rsa.PrivateKey) *httptest.Server {
	t.Helper()
	authMW := auth.NewMiddleware(auth.NewBaseValidator(&key.PublicKey), zap.NewNop())
	h := engine.TracingMiddleware(authMW(http.HandlerFunc(f.gw.HandleHTTPRequest)))
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func postExecute(t *testing.T, url, token string, calldata []byte) (*http.Response, map[string]string) {
	t.Helper()
	body, err := json.Marshal(engine.ExecuteRequest{Calldata: "0x" + hex.EncodeToString(calldata)})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Trace-ID", "trace-1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]string{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestHTTPExecute(t *testing.T) {
	f := newFixture(t, true)
	f.clock.Advance(vault.DefaultWaitingPeriod + time.Second)
	key := newKey(t)
	srv := newHTTPServer(t, f, key)
	signer := auth.NewSigner(key, time.Minute)

	playerToken, err := signer.Issue(player)
	require.NoError(t, err)
	smuggled, err := abi.DecodeHex(smuggledPayload)
	require.NoError(t, err)
	unknown := pack(t, abi.NewMethod("drain", abi.TypeAddress), recovery)

	tests := []struct {
		name     string
		calldata []byte
		code     int
		kind     string
	}{
		{"smuggled", smuggled, http.StatusBadRequest, "decode_error"},
		{"not granted", executeCalldata(t, vaultAdr, pack(t, vault.SweepFundsMethod, player, token)), http.StatusForbidden, "unauthorized"},
		{"unknown", executeCalldata(t, vaultAdr, unknown), http.StatusNotFound, "unknown_operation"},
		{"too much", executeCalldata(t, vaultAdr, pack(t, vault.WithdrawMethod, token, player, vaultBalance())), http.StatusConflict, "operation_error"},
		{"ok", executeCalldata(t, vaultAdr, pack(t, vault.WithdrawMethod, token, player, vault.DefaultWithdrawalLimit())), http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := postExecute(t, srv.URL, playerToken, tt.calldata)
			assert.Equal(t, tt.code, resp.StatusCode)
			assert.Equal(t, "trace-1", resp.Header.Get("X-Trace-ID"))
			if tt.kind != "" {
				assert.Equal(t, tt.kind, out["error"])
				return
			}
			assert.Equal(t, "0x", out["result"])
			assert.Equal(t, "trace-1", out["trace_id"])
		})
	}
	assert.Equal(t, 0, f.balance(t, player).Cmp(vault.DefaultWithdrawalLimit()))
	assert.Equal(t, "trace-1", f.auditor.last().TraceID)
}

func TestHTTPExecuteRequiresToken(t *testing.T) {
	f := newFixture(t, true)
	srv := newHTTPServer(t, f, newKey(t))

	resp, err := http.Post(srv.URL, "application/json", bytes.NewBufferString(`{"calldata":"0x"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHTTPExecuteRejectsBadHex(t *testing.T) {
	f := newFixture(t, true)
	key := newKey(t)
	srv := newHTTPServer(t, f, key)
	tok, err := auth.NewSigner(key, time.Minute).Issue(player)
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodPost, srv.URL, bytes.NewBufferString(`{"calldata":"0xzz"}`))
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRateLimitMiddleware(t *testing.T) {
	metrics := engine.NewMetrics(nil)
	h := engine.RateLimitMiddleware(rate.NewLimiter(rate.Every(time.Hour), 1), metrics)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/execute", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/execute", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestGRPCExecute(t *testing.T) {
	f := newFixture(t, true)
	f.clock.Advance(vault.DefaultWaitingPeriod + time.Second)
	key := newKey(t)

	lis := bufconn.Listen(1 << 20)
	srv := engine.NewGRPCServer(f.gw, auth.NewBaseValidator(&key.PublicKey), zap.NewNop())
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Без токена
	_, err = engine.ExecuteClient(ctx, conn, nil)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	tok, err := auth.NewSigner(key, time.Minute).Issue(player)
	require.NoError(t, err)
	authCtx := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+tok, "x-trace-id", "grpc-trace")

	smuggled, err := abi.DecodeHex(smuggledPayload)
	require.NoError(t, err)
	_, err = engine.ExecuteClient(authCtx, conn, smuggled)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = engine.ExecuteClient(authCtx, conn, executeCalldata(t, vaultAdr, pack(t, vault.SweepFundsMethod, player, token)))
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	_, err = engine.ExecuteClient(authCtx, conn, pack(t, vault.SweepFundsMethod, player, token))
	assert.Equal(t, codes.Unimplemented, status.Code(err))

	_, err = engine.ExecuteClient(authCtx, conn, executeCalldata(t, vaultAdr, pack(t, vault.WithdrawMethod, token, player, big.NewInt(1))))
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.balance(t, player).Int64())
	assert.Equal(t, "grpc-trace", f.auditor.last().TraceID)

	// Второй withdraw упирается в период ожидания
	_, err = engine.ExecuteClient(authCtx, conn, executeCalldata(t, vaultAdr, pack(t, vault.WithdrawMethod, token, player, big.NewInt(1))))
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestGRPCRecoversFromPanickingOperation(t *testing.T) {
	ctx := context.Background()
	boom := abi.NewMethod("boom", abi.TypeAddress)

	registry := permission.NewRegistry(deployer, zap.NewNop())
	require.NoError(t, registry.Grant(ctx, deployer, permission.NewActionID(boom.Selector(), player, vaultAdr)))
	gw := engine.NewGateway(vaultAdr, registry, zap.NewNop())
	require.NoError(t, gw.Register(engine.NewOperation(boom, func(ctx context.Context, args []any) ([]byte, error) {
		panic("operation bug")
	})))

	key := newKey(t)
	lis := bufconn.Listen(1 << 20)
	srv := engine.NewGRPCServer(gw, auth.NewBaseValidator(&key.PublicKey), zap.NewNop())
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	tok, err := auth.NewSigner(key, time.Minute).Issue(player)
	require.NoError(t, err)
	callCtx := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+tok)

	_, err = engine.ExecuteClient(callCtx, conn, executeCalldata(t, vaultAdr, pack(t, boom, recovery)))
	assert.Equal(t, codes.Internal, status.Code(err))

	// Мьютекс исполнения освобожден, шлюз продолжает работать
	_, err = engine.ExecuteClient(callCtx, conn, executeCalldata(t, vaultAdr, pack(t, boom, recovery)))
	assert.Equal(t, codes.Internal, status.Code(err))
}
