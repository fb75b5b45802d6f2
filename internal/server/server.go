// Package server assembles the HTTP surface of the items API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/mongo-items-api/internal/auth"
	"github.com/vyrodovalexey/mongo-items-api/internal/config"
	"github.com/vyrodovalexey/mongo-items-api/internal/handler"
	"github.com/vyrodovalexey/mongo-items-api/internal/middleware"
	"github.com/vyrodovalexey/mongo-items-api/internal/repository"
)

var allowedMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
	http.MethodOptions,
}

var allowedHeaders = []string{
	"Content-Type",
	"Authorization",
	auth.APIKeyHeader,
	middleware.RequestIDHeader,
}

// Server is the items API HTTP server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	config     *config.Config
	logger     *zap.Logger
	wsHandler  *handler.WebSocketHandler
}

// New creates a Server. authenticator may be nil to disable
// authentication.
func New(
	cfg *config.Config,
	logger *zap.Logger,
	repo repository.ItemRepository,
	authenticator auth.Authenticator,
) *Server {
	s := &Server{
		router: mux.NewRouter(),
		config: cfg,
		logger: logger,
	}

	s.setupRouteMiddleware(authenticator)
	s.setupRoutes(repo)
	s.setupHTTPServer()

	return s
}

// setupRouteMiddleware installs middleware that needs the matched route.
func (s *Server) setupRouteMiddleware(authenticator auth.Authenticator) {
	if s.config.MetricsEnabled {
		s.router.Use(mux.MiddlewareFunc(middleware.Metrics()))
	}
	if authenticator != nil {
		s.router.Use(mux.MiddlewareFunc(middleware.Auth(authenticator, s.logger)))
	}
}

func (s *Server) setupRoutes(repo repository.ItemRepository) {
	s.wsHandler = handler.NewWebSocketHandler(s.logger, s.config.AllowedOrigins())
	s.wsHandler.RegisterRoutes(s.router)

	restHandler := handler.NewRESTHandler(repo, s.wsHandler, s.config.BulkMaxItems, s.logger)
	restHandler.RegisterRoutes(s.router)

	if s.config.MetricsEnabled {
		s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}
}

// setupHTTPServer wraps the router in the outer chain. CORS runs outside the
// router so that preflight requests never reach method matching.
func (s *Server) setupHTTPServer() {
	outer := middleware.Chain(
		middleware.Recovery(s.logger),
		middleware.RequestID(),
		middleware.Logging(s.logger),
		middleware.CORS(s.config.AllowedOrigins(), allowedMethods, allowedHeaders),
	)

	s.httpServer = &http.Server{
		Addr:              s.config.Address(),
		Handler:           outer(s.router),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Address(), err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting server",
		zap.String("address", ln.Addr().String()),
		zap.Bool("metrics_enabled", s.config.MetricsEnabled),
	)

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server serve: %w", err)
	}

	return nil
}

// Shutdown closes WebSocket subscribers and then drains HTTP requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	s.wsHandler.CloseAllConnections()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("server shutdown complete")
	return nil
}

// Subscribers returns the number of connected item event subscribers.
func (s *Server) Subscribers() int {
	return s.wsHandler.ClientCount()
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
