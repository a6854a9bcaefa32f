// Package status serves the local HTTP surface: connection health, the
// recent connection journal, and an ingress endpoint that publishes events
// to subscription fields.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rickgao/relaylink/internal/eventbus"
	"github.com/rickgao/relaylink/internal/journal"
	"github.com/rickgao/relaylink/internal/supervisor"
)

// Supervisor is the connection state the server reports on.
type Supervisor interface {
	Snapshot() supervisor.Snapshot
	Resume() bool
}

// Bus publishes ingress events.
type Bus interface {
	Publish(field string, payload any) int
	Stats() eventbus.Stats
}

// Server is the status HTTP server.
type Server struct {
	Router *chi.Mux

	port    int
	sup     Supervisor
	bus     Bus
	journal journal.Recorder
	logger  *slog.Logger

	http *http.Server
}

// New builds the router. Nothing listens until Start.
func New(port int, sup Supervisor, bus Bus, rec journal.Recorder, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if rec == nil {
		rec = journal.Nop{}
	}

	s := &Server{
		port:    port,
		sup:     sup,
		bus:     bus,
		journal: rec,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(loggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "relaylink-status")
	})

	r.Get("/health", s.handleHealth)
	r.Get("/debug/journal", s.handleJournal)
	r.Post("/v1/relay/resume", s.handleResume)
	r.Post("/v1/events/{field}", s.handlePublish)

	s.Router = r
	return s
}

// Start listens on the configured port and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.port, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.http = &http.Server{
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting status server", "addr", ln.Addr().String())
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown status server: %w", err)
	}
	s.logger.Info("status server stopped")
	return nil
}

// loggingMiddleware logs each request once it completes.
func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.LogAttrs(r.Context(), slog.LevelDebug, "request completed",
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}
