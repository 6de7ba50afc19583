package audit

import "time"

// Статусы решений шлюза
const (
	StatusSuccess          = "SUCCESS"
	StatusFailed           = "FAILED" // операция вернула доменную ошибку
	StatusDenied           = "DENIED"
	StatusDecodeError      = "DECODE_ERROR"
	StatusUnknownOperation = "UNKNOWN_OPERATION"
	StatusTargetNotAllowed = "TARGET_NOT_ALLOWED"
)

type Event struct {
	ID       string `json:"id"`        // UUID события
	TraceID  string `json:"trace_id"`  // Сквозной ID запроса
	Caller   string `json:"caller"`    // Кто вызывал execute (из транспорта)
	Target   string `json:"target"`    // outer.target
	Selector string `json:"selector"`  // тег внутренней операции
	ActionID string `json:"action_id"` // ключ, по которому принималось решение

	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
}
