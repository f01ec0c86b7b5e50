package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/cadence/internal/config"
	"github.com/ifuryst/cadence/internal/lock"
	"github.com/ifuryst/cadence/internal/service"
	"github.com/ifuryst/cadence/internal/service/campaign"
	"github.com/ifuryst/cadence/internal/store"
)

type Server struct {
	Config *config.Config
	DB     *gorm.DB
	Redis  *redis.Client
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	// Services
	Jobs       *service.JobService
	Calendar   *service.CalendarService
	Poller     *service.MetricsPoller
	Dispatcher *service.Dispatcher
	Reaper     *service.Reaper
}

// Services are the collaborators the HTTP layer serves. Dispatcher, Reaper
// and Poller are optional background workers.
type Services struct {
	Jobs       *service.JobService
	Calendar   *service.CalendarService
	Poller     *service.MetricsPoller
	Dispatcher *service.Dispatcher
	Reaper     *service.Reaper
}

// NewServer wires every service from configuration
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	policy, err := cfg.Dispatch.Policy()
	if err != nil {
		return nil, err
	}

	// Initialize database
	db, err := store.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	st := store.NewGormStore(db)

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = store.NewRedisClient(context.Background(), &cfg.Redis)
		if err != nil {
			return nil, err
		}
	}

	// Initialize services
	jobs := service.NewJobService(st, logger)
	source := campaign.NewSource(campaign.NewDirectory(&cfg.Campaigns, logger), logger)
	calendarService := service.NewCalendarService(jobs, source, cfg.Calendar.Timezone, logger)

	var sink service.SnapshotSink
	if rdb != nil {
		sink = service.NewRedisSnapshotSink(rdb, cfg.Metrics.RedisKey, 10*config.Duration(cfg.Metrics.Interval, 30*time.Second))
	}
	poller := service.NewMetricsPoller(st, logger,
		config.Duration(cfg.Metrics.Interval, 30*time.Second),
		config.Duration(cfg.Metrics.Window, time.Hour),
		sink)

	var locker lock.Locker = lock.NewLocalLocker()
	if rdb != nil {
		locker = lock.NewRedisLocker(rdb)
	}
	manager := service.NewPublishManager(&cfg.Publishers, policy, logger)
	dispatcher := service.NewDispatcher(st, manager, service.NewMonitoringService(st, logger), policy, logger,
		service.WithScanLock(locker))
	reaper := service.NewReaper(st, policy, logger)

	svcs := Services{
		Jobs:     jobs,
		Calendar: calendarService,
		Poller:   poller,
	}
	if !cfg.Dispatch.Disabled {
		svcs.Dispatcher = dispatcher
		svcs.Reaper = reaper
	} else {
		logger.Info("Dispatcher is disabled")
	}

	srv := New(cfg, svcs, logger)
	srv.DB = db
	srv.Redis = rdb
	return srv, nil
}

// New builds the HTTP server around already constructed services
func New(cfg *config.Config, svcs Services, logger *zap.Logger) *Server {
	// Set gin mode
	gin.SetMode(cfg.Server.Mode)

	srv := &Server{
		Config:     cfg,
		Router:     gin.New(),
		Logger:     logger,
		Jobs:       svcs.Jobs,
		Calendar:   svcs.Calendar,
		Poller:     svcs.Poller,
		Dispatcher: svcs.Dispatcher,
		Reaper:     svcs.Reaper,
	}

	// Setup middleware and routes
	srv.setupMiddleware()
	srv.setupRoutes()

	return srv
}

func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.Router.Use(gin.Recovery())

	// Logger middleware
	s.Router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.Logger.Debug("HTTP request",
			zap.String("client_ip", c.ClientIP()),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("user_agent", c.Request.UserAgent()),
			zap.String("errors", c.Errors.ByType(gin.ErrorTypePrivate).String()))
	})

	s.Router.Use(metricsMiddleware())

	// CORS middleware
	s.Router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})
}

func (s *Server) setupRoutes() {
	// Health check
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})
	s.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API routes
	api := s.Router.Group("/api/v1")
	{
		jobs := api.Group("/jobs")
		{
			jobs.POST("", s.handleCreateJob)
			jobs.GET("", s.handleListJobs)
			jobs.GET("/due", s.handleDueJobs)
			jobs.GET("/:id", s.handleGetJob)
			jobs.PATCH("/:id", s.handleUpdateJob)
			jobs.DELETE("/:id", s.handleDeleteJob)
			jobs.POST("/:id/cancel", s.handleCancelJob)
			jobs.POST("/:id/retry", s.handleRetryJob)
			jobs.GET("/:id/attempts", s.handleListAttempts)
		}

		api.GET("/calendar", s.handleCalendar)
		api.GET("/metrics/live", s.handleLiveMetrics)
	}
}

// Start launches the background workers and serves HTTP until Shutdown
func (s *Server) Start(ctx context.Context) error {
	if s.Dispatcher != nil {
		if err := s.Dispatcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start dispatcher: %w", err)
		}
	}
	if s.Reaper != nil {
		s.Reaper.Start(ctx)
	}
	if s.Poller != nil && !s.Config.Metrics.Disabled {
		s.Poller.Start(ctx)
	}

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)

	s.Server = &http.Server{
		Addr:    addr,
		Handler: s.Router,
	}

	s.Logger.Info("Starting HTTP server", zap.String("addr", addr))

	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		return s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	}

	return s.Server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	// Stop background workers first
	if s.Dispatcher != nil {
		s.Dispatcher.Stop()
	}
	if s.Reaper != nil {
		s.Reaper.Stop()
	}
	if s.Poller != nil {
		s.Poller.Stop()
	}
	if s.Redis != nil {
		defer s.Redis.Close()
	}

	if s.Server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return s.Server.Shutdown(shutdownCtx)
}
