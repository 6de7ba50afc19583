package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/selfauth-gateway/internal/abi"
	"github.com/xela07ax/selfauth-gateway/internal/console/handler"
	"github.com/xela07ax/selfauth-gateway/internal/infra/auth"
	"go.uber.org/zap"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger
	admin  abi.Address

	// Интерфейс для проверки токенов (RS256)
	authValidator auth.TokenValidator

	// Обработчики
	permissionHandler *handler.PermissionHandler // /v1/permissions, /v1/action-id
	dashHandler       *handler.DashboardHandler  // /v1/dashboard/stats
	auditHandler      *handler.AuditHandler      // /v1/audit
}

// NewConsoleServer инициализирует сервер админки со всеми зависимостями.
// auditH и dashH могут быть nil, если Postgres не сконфигурирован.
func NewConsoleServer(
	logger *zap.Logger,
	admin abi.Address,
	validator auth.TokenValidator,
	permH *handler.PermissionHandler,
	dashH *handler.DashboardHandler,
	auditH *handler.AuditHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:            chi.NewRouter(),
		logger:            logger.Named("console-api"),
		admin:             admin,
		authValidator:     validator,
		permissionHandler: permH,
		dashHandler:       dashH,
		auditHandler:      auditH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (RS256 токен администратора) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))
		r.Use(s.requireAdmin)

		r.Get("/v1/action-id", s.permissionHandler.ActionID)

		r.Route("/v1/permissions", func(r chi.Router) {
			r.Get("/", s.permissionHandler.List)
			r.Get("/status", s.permissionHandler.Status)
			r.Post("/init", s.permissionHandler.Init) // Однократно
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.permissionHandler.Get)
				r.Put("/", s.permissionHandler.Grant)
				r.Delete("/", s.permissionHandler.Revoke)
			})
		})

		if s.dashHandler != nil {
			r.Get("/v1/dashboard/stats", s.dashHandler.Overview)
		}
		if s.auditHandler != nil {
			r.Get("/v1/audit", s.auditHandler.GetLogs)
		}
	})
}

// requireAdmin пропускает только токен, чей адрес совпадает с администратором реестра.
func (s *ConsoleServer) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := auth.CallerFromContext(r.Context())
		if !ok || caller != s.admin {
			s.logger.Warn("non-admin access attempt",
				zap.String("caller", caller.Hex()),
				zap.String("path", r.URL.Path))
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
