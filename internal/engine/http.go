package engine

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xela07ax/selfauth-gateway/internal/abi"
	"github.com/xela07ax/selfauth-gateway/internal/infra/auth"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

type ExecuteRequest struct {
	Calldata string `json:"calldata"` // hex, с 0x или без
}

type ExecuteResponse struct {
	Result  string `json:"result"`
	TraceID string `json:"trace_id"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HandleHTTPRequest - POST /v1/execute. Вызывающий берется из контекста,
// который заполнил auth-middleware по проверенному токену.
func (g *Gateway) HandleHTTPRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Only POST allowed", http.StatusMethodNotAllowed)
		return
	}

	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", ErrMissingCaller)
		return
	}

	var req ExecuteRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	calldata, err := abi.DecodeHex(req.Calldata)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}

	resp, err := g.Execute(r.Context(), caller, calldata)
	if err != nil {
		status, kind := classify(err)
		if status >= http.StatusInternalServerError {
			g.logger.Error("execute failed", zap.Error(err))
		}
		writeError(w, status, kind, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ExecuteResponse{
		Result:  "0x" + hex.EncodeToString(resp),
		TraceID: extractTraceID(r.Context()),
	})
}

// classify - различимый вид отказа для каждой ветки ошибок.
func classify(err error) (int, string) {
	var opErr *OperationError
	switch {
	case abi.IsDecodeError(err):
		return http.StatusBadRequest, "decode_error"
	case errors.Is(err, ErrNotExecute), errors.Is(err, ErrUnknownOperation):
		return http.StatusNotFound, "unknown_operation"
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrMissingCaller):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, ErrTargetNotAllowed):
		return http.StatusForbidden, "target_not_allowed"
	case errors.As(err, &opErr):
		return http.StatusConflict, "operation_error"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(w http.ResponseWriter, status int, kind string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: kind, Message: err.Error()})
}
