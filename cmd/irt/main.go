// Точка входа irt-server — учёт вмешательств техников IRT.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// создаёт Keycloak-клиент и сервисный слой, запускает фоновую синхронизацию
// профилей, topologymetrics и HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/irt/internal/api/handlers"
	"github.com/bigkaa/irt/internal/api/middleware"
	"github.com/bigkaa/irt/internal/api/openapi"
	"github.com/bigkaa/irt/internal/config"
	"github.com/bigkaa/irt/internal/database"
	"github.com/bigkaa/irt/internal/keycloak"
	"github.com/bigkaa/irt/internal/repository"
	"github.com/bigkaa/irt/internal/server"
	"github.com/bigkaa/irt/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("irt-server запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics.
	// Проверка идёт через существующий пул и замечает его исчерпание.
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. HTTP-клиент с кастомным CA для Keycloak
	var httpClientCA *http.Client
	if cfg.CACertPath != "" {
		httpClientCA, err = buildHTTPClientWithCA(cfg.CACertPath)
		if err != nil {
			logger.Error("Ошибка загрузки CA-сертификата", slog.String("path", cfg.CACertPath), slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("CA-сертификат загружен", slog.String("path", cfg.CACertPath))
	}

	// 6. Keycloak Admin API клиент
	kcClient := keycloak.New(
		cfg.KeycloakURL,
		cfg.KeycloakRealm,
		cfg.KeycloakClientID,
		cfg.KeycloakClientSecret,
		httpClientCA, // nil — стандартный пул CA
		logger,
	)
	logger.Info("Keycloak клиент создан",
		slog.String("url", cfg.KeycloakURL),
		slog.String("realm", cfg.KeycloakRealm),
	)

	// 7. Repositories
	txRunner := repository.NewTxRunner(pool)
	profileRepo := repository.NewProfileRepository(pool)
	interventionRepo := repository.NewInterventionRepository(txRunner)
	syncStateRepo := repository.NewSyncStateRepository(pool)

	// 8. Services
	profileCache := service.NewProfileCache(cfg.ProfileCacheSize, cfg.ProfileCacheTTL)
	profilesSvc := service.NewProfileService(profileRepo, kcClient, profileCache, cfg.BootstrapAdmins, logger)
	interventionsSvc := service.NewInterventionService(interventionRepo, logger)

	// 9. Синхронизация профилей с Keycloak: начальная и периодическая
	profileSyncSvc := service.NewProfileSyncService(kcClient, profileRepo, syncStateRepo, cfg.ProfileSyncInterval, logger)
	if cfg.ProfileSyncInterval > 0 {
		logger.Info("Начальная синхронизация профилей с Keycloak...")
		if result, syncErr := profileSyncSvc.SyncNow(ctx); syncErr != nil {
			logger.Warn("Ошибка начальной синхронизации профилей",
				slog.String("error", syncErr.Error()),
			)
		} else {
			logger.Info("Начальная синхронизация профилей завершена",
				slog.Int("total_keycloak", result.TotalKeycloak),
				slog.Int("total_local", result.TotalLocal),
				slog.Int("created", result.Created),
				slog.Int("deleted", result.Deleted),
				slog.Int("orphaned", result.Orphaned),
			)
		}
		profileSyncSvc.Start(ctx)
	} else {
		logger.Info("Синхронизация профилей отключена (IRT_PROFILE_SYNC_INTERVAL=0)")
	}

	// 10. topologymetrics — мониторинг зависимостей (PostgreSQL + Keycloak)
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:       "irt-server",
		Group:           cfg.DephealthGroup,
		DB:              pgDB,
		PostgresURL:     service.PostgresURL(cfg.DBHost, cfg.DBPort, cfg.DBName),
		KeycloakJWKSURL: cfg.JWTJWKSURL,
		CheckInterval:   cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 11. Readiness checkers (PostgreSQL + Keycloak)
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool), kcClient)

	// 12. OpenAPI контракт и проверка запросов
	doc, err := openapi.Load(ctx)
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI контракта", slog.String("error", err.Error()))
		os.Exit(1)
	}
	validator, err := openapi.RequestValidator(doc, logger)
	if err != nil {
		logger.Error("Ошибка создания валидатора запросов", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 13. API handler
	apiHandler := handlers.NewAPIHandler(healthHandler, profilesSvc, interventionsSvc, openapi.Raw(), logger)

	// 14. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		cfg.JWTIssuer,
		cfg.JWKSClientTimeout,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 15. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, server.Routes{
		Handler:   apiHandler,
		Auth:      jwtAuth.Middleware(),
		Profiles:  profilesSvc,
		Validator: validator,
	})
	if err := srv.Run(ctx); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 16. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	profileSyncSvc.Stop()

	logger.Info("irt-server остановлен")
}

// buildHTTPClientWithCA создаёт HTTP-клиент с кастомным CA-сертификатом.
func buildHTTPClientWithCA(caCertPath string) (*http.Client, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, err
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs:    caCertPool,
				MinVersion: tls.VersionTLS12,
			},
		},
	}, nil
}
