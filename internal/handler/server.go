package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/flybeeper/runtracker/internal/auth"
	"github.com/flybeeper/runtracker/internal/config"
	"github.com/flybeeper/runtracker/internal/metrics"
	"github.com/flybeeper/runtracker/pkg/utils"
)

// Version версия API в ответе health check
var Version = "dev"

const eventsRoute = "/ws/v1/events"

// Server HTTP сервер управления пробежкой
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	logger      *utils.Logger
	config      *config.Config
	restHandler *RESTHandler
	wsHandler   *WebSocketHandler
	auth        *auth.Middleware
	started     time.Time
}

// NewServer создает новый HTTP сервер
func NewServer(cfg *config.Config, tracker Tracker, runs RunReader, logger *utils.Logger) *Server {
	// Production mode для Gin
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(LoggerMiddleware(logger))
	router.Use(gin.Recovery())
	router.Use(CORSMiddleware(cfg.Server.CORSOrigins))
	router.Use(RateLimitMiddleware(cfg.Performance.RateLimitRPS, cfg.Performance.RateLimitBurst))
	router.Use(SecurityHeadersMiddleware())
	if cfg.Monitoring.MetricsEnabled {
		router.Use(metrics.HTTPMetricsMiddleware(eventsRoute, "/metrics"))
	}

	server := &Server{
		router:      router,
		logger:      logger,
		config:      cfg,
		restHandler: NewRESTHandler(tracker, runs, logger),
		wsHandler:   NewWebSocketHandler(tracker, &cfg.Performance, logger),
		auth:        auth.NewMiddleware(auth.NewValidator(cfg.Server.APITokens), logger),
		started:     time.Now(),
	}

	server.httpServer = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	server.setupRoutes()

	return server
}

// setupRoutes настраивает маршруты
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1", s.auth.Authenticate())
	{
		run := v1.Group("/run")
		{
			run.GET("", s.restHandler.GetRun)
			run.POST("/start", s.restHandler.StartRun)
			run.POST("/pause", s.restHandler.PauseRun)
			run.POST("/resume", s.restHandler.ResumeRun)
			run.POST("/stop", s.restHandler.StopRun)
			run.POST("/samples", s.restHandler.PostSamples)
			run.PUT("/settings", s.restHandler.UpdateSettings)
		}

		v1.GET("/errors", s.restHandler.GetErrors)
		v1.GET("/runs/:id", s.restHandler.GetStoredRun)
		v1.GET("/runs/:id/track", s.restHandler.GetTrack)
	}

	s.router.GET(eventsRoute, s.auth.Authenticate(), s.wsHandler.HandleWebSocket)

	if s.config.Monitoring.MetricsEnabled {
		s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
}

// Handler возвращает HTTP обработчик
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start запускает HTTP сервер
func (s *Server) Start() error {
	s.logger.WithFields(map[string]interface{}{
		"address": s.config.Server.Address,
		"mode":    gin.Mode(),
	}).Info("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown корректное завершение сервера
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	s.wsHandler.CloseAll()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"timestamp":      time.Now().Unix(),
		"version":        Version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"ws_clients":     s.wsHandler.ClientCount(),
	})
}

// ==================== Middleware ====================

// LoggerMiddleware логирование запросов
func LoggerMiddleware(logger *utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.WithFields(map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		}).Debug("HTTP request completed")
	}
}

// CORSMiddleware настройка CORS
func CORSMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

// RateLimitMiddleware ограничение частоты запросов
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"code":    "rate_limit_exceeded",
				"message": "Too many requests",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// SecurityHeadersMiddleware заголовки безопасности
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}
