package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/0xmhha/hellostorage-go/api/graphql"
	apimiddleware "github.com/0xmhha/hellostorage-go/api/middleware"
	"github.com/0xmhha/hellostorage-go/api/websocket"
	"github.com/0xmhha/hellostorage-go/service"
)

// Backend is the application surface served over HTTP. *service.Service implements it.
type Backend interface {
	graphql.Backend
	ExplorerURL(hash common.Hash) string
	SetNotifier(n service.Notifier)
}

// Server represents the API server
type Server struct {
	config      *Config
	logger      *zap.Logger
	backend     Backend
	gatherer    prometheus.Gatherer
	router      *chi.Mux
	server      *http.Server
	wsServer    *websocket.Server
	rateLimiter *apimiddleware.RateLimiter
}

// NewServer creates a new API server. A nil gatherer serves the default registry.
func NewServer(config *Config, logger *zap.Logger, backend Backend, gatherer prometheus.Gatherer) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		config:   config,
		logger:   logger,
		backend:  backend,
		gatherer: gatherer,
		router:   chi.NewRouter(),
	}

	s.setupMiddleware()
	if err := s.setupRoutes(); err != nil {
		s.shutdownComponents()
		return nil, err
	}

	s.server = &http.Server{
		Addr:           config.Address(),
		Handler:        s.router,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s, nil
}

// setupMiddleware configures the middleware stack
func (s *Server) setupMiddleware() {
	// Recovery middleware (must be first)
	s.router.Use(apimiddleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(apimiddleware.Logger(s.logger))

	if s.config.EnableRateLimit {
		s.rateLimiter = apimiddleware.NewRateLimiter(s.config.RateLimitPerSecond, s.config.RateLimitBurst, s.logger)
		go s.rateLimiter.Run()
		s.router.Use(s.rateLimiter.Handler)
		s.logger.Info("rate limiting enabled",
			zap.Float64("rate_per_second", s.config.RateLimitPerSecond),
			zap.Int("burst", s.config.RateLimitBurst),
		)
	}

	if s.config.EnableCORS {
		s.router.Use(apimiddleware.CORS(s.config.AllowedOrigins))
	}
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() error {
	if s.config.EnableWebSocket {
		s.wsServer = websocket.NewServer(s.logger, s.checkOrigin)
		s.backend.SetNotifier(s.wsServer.Hub())
		s.router.Get(s.config.WebSocketPath, s.wsServer.ServeHTTP)
		s.logger.Info("WebSocket API enabled", zap.String("path", s.config.WebSocketPath))
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/version", s.handleVersion)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/contract", s.handleContract)
		r.Get("/message", s.handleGetMessage)
		r.Post("/message", s.handleSetMessage)
		r.Get("/history", s.handleHistory)
	})

	if s.config.EnableGraphQL {
		graphqlHandler, err := graphql.NewHandler(s.backend, s.logger)
		if err != nil {
			return fmt.Errorf("failed to create GraphQL handler: %w", err)
		}
		s.router.Handle(s.config.GraphQLPath, graphqlHandler)
		s.router.Get(s.config.GraphQLPlaygroundPath, graphqlHandler.PlaygroundHandler(s.config.GraphQLPath))
		s.logger.Info("GraphQL API enabled",
			zap.String("path", s.config.GraphQLPath),
			zap.String("playground", s.config.GraphQLPlaygroundPath),
		)
	}

	return nil
}

// checkOrigin applies the CORS origin list to websocket upgrades
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || !s.config.EnableCORS {
		return true
	}
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Start starts the API server and blocks until it stops
func (s *Server) Start() error {
	s.logger.Info("starting API server",
		zap.String("address", s.config.Address()),
		zap.Bool("graphql", s.config.EnableGraphQL),
		zap.Bool("websocket", s.config.EnableWebSocket),
	)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Stop gracefully stops the API server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping API server")

	s.shutdownComponents()

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped gracefully")
	return nil
}

func (s *Server) shutdownComponents() {
	if s.wsServer != nil {
		s.backend.SetNotifier(nil)
		s.wsServer.Stop()
	}
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
}

// Router returns the underlying chi router
func (s *Server) Router() *chi.Mux {
	return s.router
}
