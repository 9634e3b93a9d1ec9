// Точка входа Archive Module: сервис скачивания и распаковки архивов.
// Загружает конфигурацию, выбирает хранилище метаданных (memory или PostgreSQL),
// восстанавливает состояние после рестарта, собирает конвейер и API handlers,
// запускает HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/archive-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/archive-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/archive-module/internal/api/openapi"
	"github.com/bigkaa/goartstore/archive-module/internal/config"
	"github.com/bigkaa/goartstore/archive-module/internal/database"
	"github.com/bigkaa/goartstore/archive-module/internal/progress"
	"github.com/bigkaa/goartstore/archive-module/internal/server"
	"github.com/bigkaa/goartstore/archive-module/internal/service"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/metastore"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/workspace"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Archive Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("metadata_store", cfg.MetadataStore),
	)

	// 3. Директория загрузок
	ws, err := workspace.New(cfg.DownloadsDir)
	if err != nil {
		logger.Error("Ошибка инициализации директории загрузок",
			slog.String("path", cfg.DownloadsDir),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	logger.Info("Директория загрузок готова", slog.String("path", ws.Root()))

	// Отменяется по SIGINT/SIGTERM: останавливает HTTP-сервер
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. Хранилище метаданных
	var store metastore.Store
	var readiness []handlers.ReadinessChecker
	dephealthCfg := service.DephealthConfig{
		ServiceID:     cfg.ServiceID,
		Group:         cfg.DephealthGroup,
		JWKSURL:       cfg.JWKSUrl,
		TLSSkipVerify: cfg.TLSSkipVerify,
		CheckInterval: cfg.DephealthCheckInterval,
	}

	switch cfg.MetadataStore {
	case config.StorePostgres:
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
			os.Exit(1)
		}

		pool, err := database.Connect(ctx, cfg, logger)
		if err != nil {
			logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer pool.Close()

		// Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
		pgDB := stdlib.OpenDBFromPool(pool)
		defer pgDB.Close()

		store = metastore.NewPostgres(pool)
		readiness = append(readiness, database.NewReadinessChecker(pool))
		dephealthCfg.DB = pgDB
		dephealthCfg.PGConnURL = cfg.DatabaseURL()
	default:
		store = metastore.NewMemory()
		logger.Warn("Метаданные хранятся в памяти и теряются при рестарте")
	}

	// 4.1 LRU-кэш завершённых записей
	if cfg.CacheSize > 0 {
		store = metastore.NewCached(store, cfg.CacheSize, cfg.CacheTTL)
		logger.Info("Кэш метаданных включён",
			slog.Int("size", cfg.CacheSize),
			slog.String("ttl", cfg.CacheTTL.String()),
		)
	}

	// 5. Конвейер
	registry := progress.NewRegistry()
	acquirer := service.NewAcquirer(ws, service.AcquirerConfig{
		ConnectTimeout:        cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ChunkSize:             cfg.ChunkSize,
	}, logger)
	extractor := service.NewExtractor(ws, cfg.ChunkSize, logger)
	pipeline := service.NewPipeline(store, registry, ws, acquirer, extractor, logger)

	// 6. Восстановление после рестарта
	recovered, err := pipeline.Recover(ctx)
	if err != nil {
		logger.Error("Ошибка восстановления состояния", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Состояние восстановлено",
		slog.Int("interrupted", recovered.Interrupted),
		slog.Int("orphans", recovered.Orphans),
	)

	// 7. Middleware /api: JWT (только при заданном AR_JWKS_URL) и проверка OpenAPI-контракта
	var apiMiddlewares []func(http.Handler) http.Handler
	if cfg.AuthEnabled() {
		jwtAuth, err := middleware.NewJWTAuth(middleware.JWKSConfig{
			JWKSURL:         cfg.JWKSUrl,
			CACertPath:      cfg.JWKSCACert,
			TLSSkipVerify:   cfg.TLSSkipVerify,
			ClientTimeout:   cfg.JWKSClientTimeout,
			RefreshInterval: cfg.JWKSRefreshInterval,
			JWTLeeway:       cfg.JWTLeeway,
		}, logger)
		if err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			os.Exit(1)
		}
		apiMiddlewares = append(apiMiddlewares, jwtAuth.Middleware())
		logger.Info("JWT middleware инициализирован", slog.String("jwks_url", cfg.JWKSUrl))
	} else {
		logger.Warn("AR_JWKS_URL не задан, API работает без аутентификации")
	}

	validator, err := openapi.NewValidator(logger)
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI-контракта", slog.String("error", err.Error()))
		os.Exit(1)
	}
	apiMiddlewares = append(apiMiddlewares, validator.Middleware())

	// 8. topologymetrics: мониторинг зависимостей (PostgreSQL, JWKS)
	dephealthSvc, err := service.NewDephealthService(dephealthCfg, logger)
	switch {
	case errors.Is(err, service.ErrNoDependencies):
		logger.Info("topologymetrics не запущен: нет внешних зависимостей")
	case err != nil:
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
	default:
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		} else {
			defer dephealthSvc.Stop()
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 9. HTTP-сервер
	srv := server.New(cfg, logger,
		handlers.NewArchivesHandler(pipeline, cfg.MaxUploadSize, logger),
		handlers.NewHealthHandler(ws, readiness...),
		apiMiddlewares,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	)

	// 10. Запуск сервера (блокирующий вызов с graceful shutdown)
	runErr := srv.Run(ctx)
	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
	}

	// 11. Остановка конвейера: ждём незавершённые архивы не дольше AR_SHUTDOWN_TIMEOUT
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := pipeline.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Не все архивы завершились до остановки", slog.String("error", err.Error()))
	}

	logger.Info("Archive Module остановлен")
	if runErr != nil {
		os.Exit(1)
	}
}
