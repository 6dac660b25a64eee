package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/phonepilot/phonepilot/internal/agent"
	"github.com/phonepilot/phonepilot/internal/api/middleware"
	"github.com/phonepilot/phonepilot/internal/device"
	"github.com/phonepilot/phonepilot/internal/infrastructure/config"
	"github.com/phonepilot/phonepilot/internal/infrastructure/logging"
	"github.com/phonepilot/phonepilot/internal/infrastructure/monitoring"
)

// Server wires the HTTP API over the coordinator and device manager.
type Server struct {
	router      *gin.Engine
	http        *http.Server
	coordinator *agent.Coordinator
	devices     *device.Manager
	metrics     *monitoring.Metrics
	log         *logging.Logger
}

// New builds the router and handler stack.
func New(cfg config.ServerConfig, rl config.RateLimitConfig, coordinator *agent.Coordinator,
	devices *device.Manager, metrics *monitoring.Metrics, log *logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if rl.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: rl.RequestsPerSecond,
			Burst:             rl.Burst,
		}))
	}
	if metrics != nil {
		router.Use(monitoring.Middleware(metrics))
	}

	s := &Server{
		router:      router,
		coordinator: coordinator,
		devices:     devices,
		metrics:     metrics,
		log:         log,
	}

	router.GET("/", s.root)
	router.GET("/health", s.health)
	router.GET("/devices", s.listDevices)
	router.POST("/tasks", s.startTask)
	router.GET("/tasks", s.listTasks)
	router.GET("/tasks/:device", s.taskStatus)
	router.DELETE("/tasks/:device", s.cancelTask)
	router.GET("/stream", s.stream)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.http = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.log.Info("HTTP server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops running sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.coordinator.Shutdown(ctx); err != nil {
		s.log.Warn("Coordinator shutdown incomplete", zap.Error(err))
	}
	return s.http.Shutdown(ctx)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}
