package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/platformbuilds/sentinelops/internal/api/handlers"
	"github.com/platformbuilds/sentinelops/internal/api/middleware"
	"github.com/platformbuilds/sentinelops/internal/config"
	"github.com/platformbuilds/sentinelops/internal/search"
	"github.com/platformbuilds/sentinelops/internal/store"
	"github.com/platformbuilds/sentinelops/pkg/cache"
	"github.com/platformbuilds/sentinelops/pkg/logger"
)

// Server is the read-only HTTP surface over the incident store: health,
// service rollups, incident listing/search, the live WebSocket stream, and
// operational endpoints (metrics, swagger).
type Server struct {
	config     *config.Config
	logger     logger.Logger
	cache      cache.Valkey
	store      *store.IncidentStore
	index      *search.IncidentIndex
	backend    handlers.BackendHealth
	hub        *handlers.IncidentHub
	router     *gin.Engine
	httpServer *http.Server
}

func NewServer(
	cfg *config.Config,
	log logger.Logger,
	valkeyCache cache.Valkey,
	incidentStore *store.IncidentStore,
	incidentIndex *search.IncidentIndex,
	backend handlers.BackendHealth,
) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	server := &Server{
		config:  cfg,
		logger:  log,
		cache:   valkeyCache,
		store:   incidentStore,
		index:   incidentIndex,
		backend: backend,
		hub:     handlers.NewIncidentHub(log),
		router:  router,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// Hub exposes the incident stream so the incident manager can broadcast
// creations.
func (s *Server) Hub() *handlers.IncidentHub {
	return s.hub
}

func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.router.Use(gin.Recovery())

	// CORS for the dashboard
	s.router.Use(middleware.CORSMiddleware(s.config.CORS))

	// Request logging
	s.router.Use(middleware.RequestLogger(s.logger))

	// Prometheus request metrics
	s.router.Use(middleware.MetricsMiddleware())

	// Rate limiting using Valkey
	s.router.Use(middleware.RateLimiter(s.cache))

	// OpenAPI specification endpoints
	s.router.StaticFile("/api/openapi.yaml", handlers.ResolveOpenAPIPath())
	s.router.GET("/api/openapi.json", handlers.GetOpenAPISpec)

	// Swagger UI via gin-swagger over the external openapi.yaml.
	// Visit /swagger/index.html
	s.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/api/openapi.yaml")))

	// Prometheus metrics endpoint
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (s *Server) setupRoutes() {
	healthHandler := handlers.NewHealthHandler(s.store, s.backend, s.cache, s.logger)
	incidentsHandler := handlers.NewIncidentsHandler(s.store, s.index, s.cache, s.logger)

	statusWindow := time.Duration(s.config.Detection.BaselineWindowMinutes) * time.Minute
	servicesHandler := handlers.NewServicesHandler(s.store, statusWindow, s.logger)

	// Public health endpoint
	s.router.GET("/health", healthHandler.HealthCheck)

	// Root redirect to Swagger UI for convenience
	s.router.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/swagger/index.html")
	})

	// API v1 group
	v1 := s.router.Group("/api/v1")
	v1.GET("/health", healthHandler.HealthCheck)
	v1.GET("/services", servicesHandler.List)
	v1.GET("/incidents", incidentsHandler.List)
	v1.GET("/incidents/search", incidentsHandler.Search)
	v1.GET("/incidents/:id", incidentsHandler.Get)

	// Root aliases so dashboards pointed at "/" keep working
	s.router.GET("/services", servicesHandler.List)
	s.router.GET("/incidents", incidentsHandler.List)
	s.router.GET("/incidents/search", incidentsHandler.Search)
	s.router.GET("/incidents/:id", incidentsHandler.Get)

	// Live incident stream
	s.router.GET("/ws/incidents", s.hub.HandleIncidentStream)
}

func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("read API server starting", "port", s.config.Port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutting down read API server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}

// Handler returns the underlying Gin engine so tests can mount it.
func (s *Server) Handler() http.Handler {
	return s.router
}
