package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/stream-gateway/internal/api/handlers"
	"github.com/bigkaa/goartstore/stream-gateway/internal/api/middleware"
	"github.com/bigkaa/goartstore/stream-gateway/internal/api/openapi"
	"github.com/bigkaa/goartstore/stream-gateway/internal/backend"
	"github.com/bigkaa/goartstore/stream-gateway/internal/clock"
	"github.com/bigkaa/goartstore/stream-gateway/internal/config"
	"github.com/bigkaa/goartstore/stream-gateway/internal/database"
	"github.com/bigkaa/goartstore/stream-gateway/internal/pool"
	"github.com/bigkaa/goartstore/stream-gateway/internal/render"
	"github.com/bigkaa/goartstore/stream-gateway/internal/server"
	"github.com/bigkaa/goartstore/stream-gateway/internal/service"
	"github.com/bigkaa/goartstore/stream-gateway/internal/stream"
)

// jwksCheckTimeout — таймаут readiness-проверки JWKS.
const jwksCheckTimeout = 5 * time.Second

// NewServeCommand создаёт команду запуска HTTP-сервера.
func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Запустить Stream Gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

// serve собирает сервис и блокируется до сигнала завершения.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("Stream Gateway запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("store", cfg.Store),
	)

	// 1. Хранилище (миграции применяются при старте)
	st, err := openStores(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer st.Close()

	// 1.1 Адаптер pgxpool → *sql.DB для topologymetrics
	var pgDB *sql.DB
	if st.pg != nil {
		pgDB = stdlib.OpenDBFromPool(st.pg)
		defer pgDB.Close()
	}

	// 2. Реестр файлов и трекер запросов
	clk := clock.Real{}
	recordCache := service.NewRecordCache(cfg.RecordCacheSize, cfg.RecordCacheTTL)
	registry := service.NewRegistryService(st.files, st.users, recordCache, clk, cfg.FileTTL, logger)
	tracker := service.NewTrackerService(st.requests, clk, cfg.RequestTTL, logger)

	// 3. Backend-клиенты: основной и обработчики
	backendOpts := backend.Options{
		CACertPath:  cfg.BackendCACertPath,
		Token:       cfg.BackendToken,
		HealthPath:  cfg.BackendHealthPath,
		DefaultWait: cfg.TransientDefaultWait,
		Logger:      logger,
	}

	var (
		primary     backend.Transport
		primarySpec backend.Spec
	)
	if cfg.PrimaryBackend != "" {
		primarySpec, err = backend.ParseSpec(cfg.PrimaryBackend)
		if err != nil {
			return fmt.Errorf("SG_PRIMARY_BACKEND: %w", err)
		}
		primary, err = backend.Open(primarySpec, backendOpts)
		if err != nil {
			return fmt.Errorf("создание основного клиента: %w", err)
		}
		if err := primary.Start(ctx); err != nil {
			return fmt.Errorf("запуск основного клиента %s: %w", primarySpec.Name, err)
		}
		defer func() {
			if err := primary.Stop(context.Background()); err != nil {
				logger.Warn("Ошибка остановки основного клиента", slog.String("error", err.Error()))
			}
		}()
		logger.Info("Основной клиент запущен", slog.String("client", primary.ID()))
	}

	clients := pool.New(primary, logger)

	var processorSpecs []backend.Spec
	if cfg.MultiClient {
		for _, raw := range cfg.ProcessorBackends {
			spec, err := backend.ParseSpec(raw)
			if err != nil {
				return fmt.Errorf("SG_PROCESSOR_BACKENDS: %w", err)
			}
			processorSpecs = append(processorSpecs, spec)
		}
		clients.Initialize(ctx, processorSpecs, func(spec backend.Spec) (backend.Transport, error) {
			return backend.Open(spec, backendOpts)
		})
	} else if len(cfg.ProcessorBackends) > 0 {
		logger.Info("SG_MULTI_CLIENT=false, клиенты-обработчики не запускаются",
			slog.Int("configured", len(cfg.ProcessorBackends)),
		)
	}
	if clients.Size() == 0 {
		return fmt.Errorf("не запущен ни один backend-клиент")
	}

	// 4. Потоковая выдача
	adapters, err := stream.NewAdapterCache(cfg.AdapterCacheSize, stream.AdapterOptions{
		ChunkTimeout: cfg.ChunkFetchTimeout,
	}, logger)
	if err != nil {
		return err
	}
	downloads := service.NewDownloadService(registry, clients, adapters, cfg.ChunkSize, logger)

	viewer, err := render.NewViewer(registry, clk, cfg.PublicURL, logger)
	if err != nil {
		return err
	}

	// 5. Фоновый сборщик
	reaper := service.NewReaperService(registry, tracker, cfg.FileSweepInterval, cfg.RequestSweepInterval, logger)

	// 6. Readiness checkers (PostgreSQL + JWKS)
	var pgChecker, jwksChecker handlers.ReadinessChecker
	if st.pg != nil {
		pgChecker = database.NewReadinessChecker(st.pg)
	}
	if cfg.JWTJWKSURL != "" {
		checker, err := middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, cfg.JWTCACertPath, jwksCheckTimeout)
		if err != nil {
			return fmt.Errorf("создание JWKS readiness checker: %w", err)
		}
		jwksChecker = checker
	}
	healthHandler := handlers.NewHealthHandler(pgChecker, jwksChecker, clients, clk)

	// 7. API handler (реализует openapi.ServerInterface)
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		registry,
		tracker,
		downloads,
		viewer,
		reaper,
		cfg.PublicURL,
		logger,
	)

	// 8. Middleware внутреннего API: JWT → RBAC → валидация по OpenAPI
	apiMiddlewares, err := buildAPIMiddlewares(cfg, logger)
	if err != nil {
		return err
	}

	// 9. topologymetrics — мониторинг зависимостей (PostgreSQL + HTTP backend)
	depSpecs := processorSpecs
	if primary != nil {
		depSpecs = append([]backend.Spec{primarySpec}, processorSpecs...)
	}
	dephealthSvc, err := service.NewDephealthService(service.DephealthConfig{
		ServiceID:         "stream-gateway",
		Group:             cfg.DephealthGroup,
		DB:                pgDB,
		PgConnURL:         dephealthPgURL(cfg),
		Backends:          depSpecs,
		BackendHealthPath: cfg.BackendHealthPath,
		CheckInterval:     cfg.DephealthCheckInterval,
		IsEntry:           cfg.DephealthIsEntry,
	}, logger)
	switch {
	case err != nil:
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
		dephealthSvc = nil
	case dephealthSvc != nil:
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
			dephealthSvc = nil
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 10. Запуск фоновых задач
	reaper.Start(ctx)

	// 11. HTTP-сервер
	srv := server.New(cfg, logger, apiHandler, apiMiddlewares,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
		middleware.PublicHeaders(),
	)
	runErr := srv.Run(ctx)
	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
	}

	// 12. Graceful shutdown фоновых задач и клиентов
	logger.Info("Останавливаем фоновые задачи...")
	reaper.Stop()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	adapters.Purge(clients.ShutdownAll(shutdownCtx))

	logger.Info("Stream Gateway остановлен")
	return runErr
}

// buildAPIMiddlewares собирает middleware внутреннего API.
// Без SG_JWT_JWKS_URL аутентификация отключается.
func buildAPIMiddlewares(cfg *config.Config, logger *slog.Logger) ([]func(http.Handler) http.Handler, error) {
	var mws []func(http.Handler) http.Handler

	if cfg.JWTJWKSURL != "" {
		jwtAuth, err := middleware.NewJWTAuth(
			cfg.JWTJWKSURL,
			cfg.JWTCACertPath,
			cfg.JWTIssuer,
			cfg.RoleAdminGroups,
			cfg.RoleServiceGroups,
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("создание JWT middleware: %w", err)
		}
		mws = append(mws,
			jwtAuth.Middleware(),
			middleware.RequireRoleOrScope(
				[]string{middleware.RoleAdmin, middleware.RoleService},
				[]string{middleware.ScopeGatewayWrite},
			),
		)
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	} else {
		logger.Warn("SG_JWT_JWKS_URL не задан, внутренний API /api/v1 доступен без аутентификации")
	}

	doc, err := openapi.GetSwagger()
	if err != nil {
		return nil, fmt.Errorf("загрузка OpenAPI-контракта: %w", err)
	}
	validator, err := middleware.RequestValidator(doc, server.APIPrefix)
	if err != nil {
		return nil, fmt.Errorf("создание валидатора запросов: %w", err)
	}
	return append(mws, validator), nil
}

// dephealthPgURL — URL PostgreSQL для лейблов topologymetrics (пусто без PostgreSQL).
func dephealthPgURL(cfg *config.Config) string {
	if cfg.Store != config.StorePostgres {
		return ""
	}
	return cfg.DatabaseURL()
}
