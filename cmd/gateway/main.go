package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"

	"github.com/xela07ax/selfauth-gateway/internal/abi"
	"github.com/xela07ax/selfauth-gateway/internal/audit"
	"github.com/xela07ax/selfauth-gateway/internal/engine"
	"github.com/xela07ax/selfauth-gateway/internal/infra"
	"github.com/xela07ax/selfauth-gateway/internal/infra/auth"
	"github.com/xela07ax/selfauth-gateway/internal/permission"
	"github.com/xela07ax/selfauth-gateway/internal/repository/postgres"
	"github.com/xela07ax/selfauth-gateway/internal/vault"
)

func main() {
	// 0. Конфиг и логгер
	cfg, err := infra.LoadConfigFile(os.Getenv("CONFIG_PATH"))
	if err != nil {
		panic(err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	self, err := abi.ParseAddress(cfg.Engine.SelfAddress)
	if err != nil {
		logger.Fatal("engine.self_address is required", zap.Error(err))
	}
	admin, err := abi.ParseAddress(cfg.Engine.AdminAddress)
	if err != nil {
		logger.Fatal("engine.admin_address is required", zap.Error(err))
	}

	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("failed to load auth public key", zap.Error(err))
	}

	// Контекст для управления жизненным циклом фоновых горутин
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)

	// 1. Инфраструктура: Postgres и Redis опциональны
	var db *sql.DB
	if cfg.Database.URL != "" {
		db, err = postgres.Open(cfg.Database)
		if err != nil {
			logger.Fatal("postgres open failed", zap.Error(err))
		}
		defer db.Close()
		if err := db.PingContext(appCtx); err != nil {
			logger.Fatal("postgres is unreachable", zap.Error(err))
		}
		if err := postgres.Migrate(appCtx, db); err != nil {
			logger.Fatal("postgres migration failed", zap.Error(err))
		}
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(appCtx).Err(); err != nil {
			logger.Warn("redis is unreachable, permission sync will retry", zap.Error(err))
		}
	}

	// 2. Реестр разрешений
	var regOpts []permission.Option
	if db != nil {
		regOpts = append(regOpts, permission.WithStore(postgres.NewPermissionRepo(db)))
	}
	registry := permission.NewRegistry(admin, logger, regOpts...)

	var syncer *permission.Syncer
	if rdb != nil {
		syncer = permission.NewSyncer(rdb, registry, logger)
		registry.AttachNotifier(syncer)
	}

	switch {
	case db != nil:
		if err := registry.Refresh(appCtx); err != nil {
			logger.Fatal("failed to load grants", zap.Error(err))
		}
	case syncer != nil:
		if err := syncer.LoadFromSet(appCtx); err != nil {
			logger.Warn("failed to load grants from redis", zap.Error(err))
		}
	}

	if err := applyInitialGrants(appCtx, registry, admin, cfg.Engine.InitialGrants, logger); err != nil {
		logger.Fatal("invalid engine.initial_grants", zap.Error(err))
	}

	if syncer != nil {
		var onReconnect func(context.Context) error
		if db != nil {
			onReconnect = registry.Refresh
			if ids, err := postgres.NewPermissionRepo(db).LoadGrants(appCtx); err == nil {
				if err := syncer.Warmup(appCtx, ids); err != nil {
					logger.Warn("redis warm-up failed", zap.Error(err))
				}
			}
		}
		go syncer.Listen(appCtx, onReconnect)
	}

	// 3. Привилегированные операции
	limit, _ := cfg.Vault.Limit()
	ledger := vault.NewMemoryLedger()
	if cfg.Vault.Token != "" {
		token, err := abi.ParseAddress(cfg.Vault.Token)
		if err != nil {
			logger.Fatal("invalid vault.token", zap.Error(err))
		}
		balance, err := cfg.Vault.Balance()
		if err != nil {
			logger.Fatal("invalid vault.initial_balance", zap.Error(err))
		}
		if err := ledger.Mint(token, self, balance); err != nil {
			logger.Fatal("failed to mint vault balance", zap.Error(err))
		}
	}
	v := vault.NewVault(self, ledger, logger,
		vault.WithWithdrawalLimit(limit),
		vault.WithWaitingPeriod(cfg.Vault.WaitingPeriod),
	)

	// 4. Аудит: Postgres за Circuit Breaker, иначе в лог
	var auditStorage audit.StorageInterface = audit.NewLogStorage(logger)
	if db != nil {
		auditStorage = audit.NewResilientStorage(postgres.NewAuditRepo(db), audit.BreakerSettings{
			MaxRequests: cfg.Engine.CBMaxRequests,
			Interval:    cfg.Engine.CBInterval,
			Timeout:     cfg.Engine.CBTimeout,
			MaxFailures: cfg.Engine.CBMaxFailures,
		}, metrics.CircuitBreakerState.WithLabelValues("audit-storage"))
	}
	trail := audit.NewTrail(auditStorage, logger,
		audit.WithBufferSize(cfg.Engine.AuditBufferSize),
		audit.WithBatchSize(cfg.Engine.AuditBatchSize),
		audit.WithFlushInterval(cfg.Engine.AuditFlushInterval),
		audit.WithBufferGauge(metrics.AuditBufferFill),
	)
	trail.Start()

	// 5. Core
	gw := engine.NewGateway(self, registry, logger,
		engine.WithStrictLayout(cfg.Engine.StrictLayout),
		engine.WithAuditor(trail),
		engine.WithMetrics(metrics),
	)
	if err := gw.Register(v.Operations()...); err != nil {
		logger.Fatal("failed to register operations", zap.Error(err))
	}

	// 6. HTTP. Порядок: Trace -> RateLimit -> Auth -> Execute
	validator := auth.NewBaseValidator(pubKey)
	limiter := rate.NewLimiter(rate.Limit(cfg.Engine.RateLimit), cfg.Engine.RateBurst)
	protectedHandler := engine.TracingMiddleware(
		engine.RateLimitMiddleware(limiter, metrics)(
			auth.NewMiddleware(validator, logger)(
				http.HandlerFunc(gw.HandleHTTPRequest),
			),
		),
	)

	mux := http.NewServeMux()
	mux.Handle("/v1/execute", protectedHandler)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	metricsSrv := &http.Server{
		Addr:    cfg.Metrics.Addr,
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	// 7. gRPC
	var grpcSrv *grpc.Server
	if cfg.GRPC.Addr != "" {
		grpcSrv = engine.NewGRPCServer(gw, validator, logger)

		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			logger.Fatal("failed to listen gRPC", zap.Error(err))
		}
		go func() {
			logger.Info("gateway gRPC server started", zap.String("addr", cfg.GRPC.Addr))
			if err := grpcSrv.Serve(lis); err != nil {
				logger.Error("gRPC server failed", zap.Error(err))
			}
		}()
	}

	// 8. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("gateway started",
			zap.String("addr", srv.Addr),
			zap.Stringer("self", self),
			zap.Bool("strict_layout", cfg.Engine.StrictLayout),
			zap.Int("granted", registry.Len()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("gateway stopping")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	_ = metricsSrv.Shutdown(shutdownCtx)
	cancel()
	trail.Stop() // сбрасываем остаток аудита
	logger.Info("gateway exited properly")
}

// applyInitialGrants - развертывание: администратор выдает стартовый набор ключей.
// Если реестр уже поднят из хранилища, повтор не выполняется.
func applyInitialGrants(ctx context.Context, registry *permission.Registry, admin abi.Address, raw []string, logger *zap.Logger) error {
	if len(raw) == 0 {
		return nil
	}
	ids := make([]permission.ActionID, 0, len(raw))
	for _, r := range raw {
		id, err := permission.ParseActionID(r)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}
	err := registry.SetPermissions(ctx, admin, ids)
	if errors.Is(err, permission.ErrAlreadyInitialized) {
		logger.Info("registry already initialized, skipping initial grants")
		return nil
	}
	return err
}
