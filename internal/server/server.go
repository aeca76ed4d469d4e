// Пакет server — HTTP-сервер IRT с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на ingress.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	apierrors "github.com/bigkaa/irt/internal/api/errors"
	"github.com/bigkaa/irt/internal/api/handlers"
	"github.com/bigkaa/irt/internal/api/middleware"
	"github.com/bigkaa/irt/internal/config"
	"github.com/bigkaa/irt/internal/domain/policy"
	"github.com/bigkaa/irt/internal/i18n"
)

// Routes — зависимости маршрутизатора.
type Routes struct {
	Handler *handlers.APIHandler
	// Auth — проверка JWT; без неё /api/v1 недоступен (401)
	Auth func(http.Handler) http.Handler
	// Profiles — загрузка профиля вызывающего для RequireProfile
	Profiles middleware.ProfileGetter
	// Validator — проверка запросов по OpenAPI контракту (может быть nil)
	Validator func(http.Handler) http.Handler
}

// NewRouter собирает маршруты API.
//
//	/health/*, /metrics, /api/v1/openapi.yaml — без аутентификации
//	/api/v1/me                                — JWT, профиль может отсутствовать
//	/api/v1/{pricing,interventions,statistics} — JWT + профиль
//	/api/v1/profiles                          — JWT + профиль + manageUsers
func NewRouter(logger *slog.Logger, rt Routes) http.Handler {
	h := rt.Handler
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(chimw.RequestID)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))
	router.Use(chimw.Recoverer)
	router.Use(i18n.Middleware())

	// Health и metrics проверяются Kubernetes напрямую.
	router.Get("/health/live", h.HealthLive)
	router.Get("/health/ready", h.HealthReady)
	router.Get("/metrics", h.GetMetrics)
	router.Get("/api/v1/openapi.yaml", h.GetOpenAPI)

	router.Route("/api/v1", func(r chi.Router) {
		if rt.Auth != nil {
			r.Use(rt.Auth)
		} else {
			r.Use(denyAll)
		}
		if rt.Validator != nil {
			r.Use(rt.Validator)
		}

		r.Get("/me", h.GetMe)
		r.Post("/me", h.CreateMe)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireProfile(rt.Profiles, logger))

			r.Get("/pricing", h.ListPricing)
			r.Get("/pricing/services", h.ListServices)

			r.Get("/interventions", h.ListInterventions)
			r.Post("/interventions", h.CreateIntervention)
			r.Get("/interventions/export", h.ExportInterventions)
			r.Get("/statistics", h.GetStatistics)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireCapability("manageUsers", func(c policy.Capabilities) bool { return c.ManageUsers }))

				r.Get("/profiles", h.ListProfiles)
				r.Post("/profiles", h.CreateProfile)
				r.Patch("/profiles/{id}", h.UpdateProfile)
				r.Delete("/profiles/{id}", h.DeleteProfile)
			})
		})
	})

	return router
}

// denyAll — заглушка аутентификации, когда JWT не настроен.
func denyAll(_ http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		apierrors.Unauthorized(w, "Аутентификация не настроена")
	})
}

// Server — HTTP-сервер IRT.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
// Таймауты ограничивают зависшие запросы клиентов с плохой связью.
func New(cfg *config.Config, logger *slog.Logger, rt Routes) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           NewRouter(logger, rt),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "http_server")),
		cfg:        cfg,
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM)
// или отмены ctx. После этого выполняется graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("Контекст сервера отменён")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
