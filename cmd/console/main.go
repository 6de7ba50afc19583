package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/selfauth-gateway/internal/abi"
	"github.com/xela07ax/selfauth-gateway/internal/console/handler"
	"github.com/xela07ax/selfauth-gateway/internal/console/server"
	"github.com/xela07ax/selfauth-gateway/internal/console/service"
	"github.com/xela07ax/selfauth-gateway/internal/infra"
	"github.com/xela07ax/selfauth-gateway/internal/infra/auth"
	"github.com/xela07ax/selfauth-gateway/internal/permission"
	"github.com/xela07ax/selfauth-gateway/internal/repository/postgres"
)

func main() {
	cfg, err := infra.LoadConfigFile(os.Getenv("CONFIG_PATH"))
	if err != nil {
		panic(err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	admin, err := abi.ParseAddress(cfg.Engine.AdminAddress)
	if err != nil {
		logger.Fatal("engine.admin_address is required", zap.Error(err))
	}
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("failed to load auth public key", zap.Error(err))
	}

	// 1. Инициализация ресурсов: консоль без Postgres не работает
	db, err := postgres.Open(cfg.Database)
	if err != nil {
		logger.Fatal("postgres open failed", zap.Error(err))
	}
	defer db.Close()

	// Проверяем соединение с таймаутом
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
	cancel()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()

	// 2. Реестр: Postgres - источник истины, Redis - рассылка инстансам шлюза
	grants := postgres.NewPermissionRepo(db)
	registry := permission.NewRegistry(admin, logger, permission.WithStore(grants))
	syncer := permission.NewSyncer(rdb, registry, logger)
	registry.AttachNotifier(syncer)
	if err := registry.Refresh(context.Background()); err != nil {
		logger.Fatal("failed to load grants", zap.Error(err))
	}

	// Изменения от инстансов шлюза (initial_grants и т.п.) доходят и до консоли;
	// после переподключения перечитываем Postgres целиком
	listenCtx, stopListen := context.WithCancel(context.Background())
	defer stopListen()
	go syncer.Listen(listenCtx, registry.Refresh)

	// 3. Инициализация слоев (Dependency Injection)
	auditRepo := postgres.NewAuditRepo(db)
	permissionService := service.NewPermissionService(registry, grants, logger)
	auditService := service.NewAuditService(auditRepo)

	consoleSrv := server.NewConsoleServer(logger, admin, auth.NewBaseValidator(pubKey),
		handler.NewPermissionHandler(permissionService, logger),
		handler.NewDashboardHandler(auditService, permissionService, logger),
		handler.NewAuditHandler(auditService),
	)

	srv := &http.Server{
		Addr:         cfg.Console.Addr,
		Handler:      consoleSrv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("console API started", zap.String("addr", srv.Addr), zap.Stringer("admin", admin))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("console shutdown failed", zap.Error(err))
	}
	stopListen()
	logger.Info("console exited properly")
}
