// Пакет server содержит HTTP-сервер Archive Module: маршруты и graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bigkaa/goartstore/archive-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/archive-module/internal/config"
)

// Server: HTTP-сервер Archive Module.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с маршрутами архивов и health endpoints.
// apiMiddlewares применяются только к /api (JWT, проверка контракта),
// middlewares: ко всем маршрутам, в порядке переданного среза.
func New(
	cfg *config.Config,
	logger *slog.Logger,
	archives *handlers.ArchivesHandler,
	health *handlers.HealthHandler,
	apiMiddlewares []func(http.Handler) http.Handler,
	middlewares ...func(http.Handler) http.Handler,
) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(archives, health, apiMiddlewares, middlewares...),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "server")),
		cfg:        cfg,
	}
}

// NewRouter собирает chi-роутер. Health endpoints и /metrics
// не требуют аутентификации.
func NewRouter(
	archives *handlers.ArchivesHandler,
	health *handlers.HealthHandler,
	apiMiddlewares []func(http.Handler) http.Handler,
	middlewares ...func(http.Handler) http.Handler,
) http.Handler {
	router := chi.NewRouter()
	router.Use(chimw.RequestID, chimw.Recoverer)
	for _, mw := range middlewares {
		router.Use(mw)
	}

	router.Get("/health/live", health.HealthLive)
	router.Get("/health/ready", health.HealthReady)
	router.Get("/metrics", health.GetMetrics)

	router.Route("/api/v1", func(r chi.Router) {
		for _, mw := range apiMiddlewares {
			r.Use(mw)
		}
		r.Get("/me", handlers.Me)
		r.Route("/archives", func(r chi.Router) {
			r.Post("/", archives.Submit)
			r.Post("/upload", archives.Upload)
			r.Get("/{id}", archives.GetStatus)
			r.Delete("/{id}", archives.Delete)
		})
	})

	return router
}

// Run обслуживает запросы, пока не отменён ctx (сигнал завершения в main)
// или сервер не упал. После отмены ctx соединения закрываются не дольше
// AR_SHUTDOWN_TIMEOUT.
func (s *Server) Run(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP-сервер запущен", slog.String("addr", s.httpServer.Addr))
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("ошибка HTTP-сервера: %w", err)
	case <-ctx.Done():
		s.logger.Info("Остановка HTTP-сервера", slog.Any("cause", context.Cause(ctx)))
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown HTTP-сервера: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
