package domain

import (
	"time"

	"github.com/xela07ax/selfauth-gateway/internal/abi"
)

// PermissionView - ответ консоли по конкретному ключу.
type PermissionView struct {
	ID        string     `json:"id"`
	Granted   bool       `json:"granted"`
	GrantedAt *time.Time `json:"granted_at,omitempty"`
}

// ActionIDRequest - входные данные для вычисления ключа авторизации.
type ActionIDRequest struct {
	Selector abi.Selector `json:"selector"`
	Executor abi.Address  `json:"executor"`
	Target   abi.Address  `json:"target"`
}

type InitPermissionsRequest struct {
	IDs []string `json:"ids"`
}

type RegistryStatus struct {
	Admin       string `json:"admin"`
	Initialized bool   `json:"initialized"`
	Granted     int    `json:"granted"`
}

// GrantRecord - выданный ключ в долговременном хранилище.
type GrantRecord struct {
	ID        string    `json:"id"`
	GrantedAt time.Time `json:"granted_at"`
}

// AuditSummary - сводка решений шлюза за последний час.
type AuditSummary struct {
	Total        int64   `json:"total"`
	Succeeded    int64   `json:"succeeded"`
	Denied       int64   `json:"denied"`
	DecodeErrors int64   `json:"decode_errors"`
	Failed       int64   `json:"failed"`
	P95LatencyMs float64 `json:"p95_latency_ms"`
	RPS          float64 `json:"rps"`
}

// Dashboard - обзор консоли: реестр и сводка аудита.
type Dashboard struct {
	Registry RegistryStatus `json:"registry"`
	Audit    *AuditSummary  `json:"audit"`
}
