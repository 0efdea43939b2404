package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/BaSui01/taskbridge/agentexec"
	"github.com/BaSui01/taskbridge/api/handlers"
	"github.com/BaSui01/taskbridge/config"
	"github.com/BaSui01/taskbridge/eventbus"
	"github.com/BaSui01/taskbridge/hitl"
	"github.com/BaSui01/taskbridge/internal/metrics"
	"github.com/BaSui01/taskbridge/internal/server"
	"github.com/BaSui01/taskbridge/scheduler"
	"github.com/BaSui01/taskbridge/scheduler/temporalbridge"
	"github.com/BaSui01/taskbridge/taskstore"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 TaskBridge 的 API 服务器，按配置装配调度后端、
// 任务记录存储、人工介入栈，并管理 HTTP / Metrics 双端口
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 核心组件
	collector *metrics.Collector
	bus       *eventbus.Bus
	store     taskstore.Store
	lifecycle *taskstore.Lifecycle
	sched     scheduler.Scheduler
	signaler  hitl.Signaler
	resumer   *hitl.Resumer
	hub       *hitl.Hub

	// 外部连接（有则关闭）
	temporalClient client.Client
	redisClient    *redis.Client
	db             *gorm.DB

	// Handlers
	taskHandler      *handlers.TaskHandler
	healthHandler    *handlers.HealthHandler
	interruptHandler *handlers.InterruptSocketHandler

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.collector = metrics.NewCollector("taskbridge", prometheus.DefaultRegisterer, s.logger)

	// 2. 装配核心组件
	if err := s.initComponents(); err != nil {
		return fmt.Errorf("failed to init components: %w", err)
	}

	// 3. 初始化 Handlers
	s.initHandlers()

	// 4. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 5. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("scheduler_backend", s.cfg.Scheduler.Backend),
		zap.String("hitl_mode", s.cfg.HITL.Mode),
		zap.String("database_driver", s.cfg.Database.Driver),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initComponents 按配置装配事件总线、存储、人工介入栈与调度后端
func (s *Server) initComponents() error {
	s.bus = eventbus.New(s.logger, s.collector)

	// 任务记录存储
	switch s.cfg.Database.Driver {
	case "memory":
		s.store = taskstore.NewMemoryStore()
	case "postgres", "sqlite":
		db, err := openDatabase(s.cfg.Database, s.logger)
		if err != nil {
			return fmt.Errorf("open task record database: %w", err)
		}
		s.db = db
		store, err := taskstore.NewGormStore(db, s.logger)
		if err != nil {
			return fmt.Errorf("init gorm task store: %w", err)
		}
		s.store = store
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Database.Driver)
	}

	s.lifecycle = taskstore.NewLifecycle(s.store, s.bus, s.logger)

	// Agent 注册表
	registry := agentexec.NewRegistry(s.logger)
	registry.Register("echo", agentexec.NewEchoRunner())

	// 检查点存储
	checkpoints, redisClient, err := newCheckpointStore(s.cfg, s.logger)
	if err != nil {
		return err
	}
	s.redisClient = redisClient

	// 中断处理策略
	var interrupts hitl.Handler
	switch s.cfg.HITL.Mode {
	case "live":
		s.hub = hitl.NewHub(s.logger)
		interrupts = hitl.NewLiveHandler(checkpoints, s.hub, s.logger)
	default:
		interrupts = hitl.NewDurableHandler(checkpoints, s.logger)
	}

	// 调度后端
	switch s.cfg.Scheduler.Backend {
	case "temporal":
		c, err := client.Dial(client.Options{
			HostPort:  s.cfg.Temporal.HostPort,
			Namespace: s.cfg.Temporal.Namespace,
			Logger:    temporalbridge.NewZapAdapter(s.logger),
		})
		if err != nil {
			return fmt.Errorf("dial workflow engine: %w", err)
		}
		s.temporalClient = c
		backend := temporalbridge.NewBackend(c, s.cfg.Temporal.TaskQueue, s.bus, s.collector, s.logger)
		s.sched = backend
		s.signaler = backend
	default:
		backend := scheduler.NewInProcess(registry, s.bus, interrupts, s.collector, s.logger)
		s.sched = backend
		s.signaler = backend
	}

	s.resumer = hitl.NewResumer(checkpoints, s.signaler, s.logger)

	return nil
}

// newCheckpointStore 按配置创建检查点存储，redis 模式同时返回客户端
func newCheckpointStore(cfg *config.Config, logger *zap.Logger) (hitl.CheckpointStore, *redis.Client, error) {
	switch cfg.HITL.CheckpointStore {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
		store := hitl.NewRedisCheckpointStore(client, cfg.Redis.KeyPrefix, cfg.HITL.CheckpointTTL, logger)
		return store, client, nil
	case "memory":
		return hitl.NewMemoryCheckpointStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported checkpoint store: %s", cfg.HITL.CheckpointStore)
	}
}

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() {
	s.taskHandler = handlers.NewTaskHandler(s.sched, s.store, s.lifecycle, s.resumer, s.logger)

	s.healthHandler = handlers.NewHealthHandler(s.logger)
	if s.db != nil {
		db := s.db
		s.healthHandler.RegisterCheck(handlers.NewDatabaseHealthCheck("database", func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}))
	}
	if s.redisClient != nil {
		rc := s.redisClient
		s.healthHandler.RegisterCheck(handlers.NewRedisHealthCheck("redis", func(ctx context.Context) error {
			return rc.Ping(ctx).Err()
		}))
	}
	if s.temporalClient != nil {
		tc := s.temporalClient
		s.healthHandler.RegisterCheck(handlers.NewWorkflowEngineHealthCheck(func(ctx context.Context) error {
			_, err := tc.CheckHealth(ctx, &client.CheckHealthRequest{})
			return err
		}))
	}

	if s.hub != nil {
		s.interruptHandler = handlers.NewInterruptSocketHandler(s.hub, s.logger)
	}
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// 健康检查端点
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)

	// 版本信息端点
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// 任务 API
	s.taskHandler.Register(mux)

	// 实时策略下的中断通知通道
	if s.interruptHandler != nil {
		s.interruptHandler.Register(mux)
		s.logger.Info("Interrupt notification socket registered")
	}

	// 构建中间件链
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 1. 停止 rate limiter 清理 goroutine
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	// 2. 并发关闭 HTTP 与 Metrics 服务器
	g, gctx := errgroup.WithContext(ctx)
	for _, m := range []*server.Manager{s.httpManager, s.metricsManager} {
		if m == nil {
			continue
		}
		m := m
		g.Go(func() error { return m.Shutdown(gctx) })
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("server shutdown error", zap.Error(err))
	}

	// 3. 释放外部连接
	if s.temporalClient != nil {
		s.temporalClient.Close()
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("redis close error", zap.Error(err))
		}
	}
	if s.db != nil {
		if sqlDB, err := s.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				s.logger.Error("database close error", zap.Error(err))
			}
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
