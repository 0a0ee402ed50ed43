package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dropmail/backend/internal/config"
	"dropmail/backend/internal/health"
	"dropmail/backend/internal/logger"
	"dropmail/backend/internal/middleware"
	"dropmail/backend/internal/monitoring"
	"dropmail/backend/internal/service"
	"dropmail/backend/internal/spool"
	"dropmail/backend/internal/storage"
	"dropmail/backend/internal/storage/memory"
	sqlstore "dropmail/backend/internal/storage/sql"
	"dropmail/backend/internal/task"
	httptransport "dropmail/backend/internal/transport/http"
	"dropmail/backend/internal/websocket"
)

// main 启动包含 HTTP API、暂存文件导入与过期清扫的综合服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     "",
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting dropmail server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
		zap.Strings("domains", cfg.Mailbox.AllowedDomains),
	)

	// 初始化存储层
	var store storage.Store
	if cfg.Database.Type != "" && cfg.Database.DSN != "" {
		store, err = sqlstore.NewStore(
			cfg.Database.Type,
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
		)
		if err != nil {
			panic(fmt.Sprintf("failed to initialize database storage: %v", err))
		}
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
	} else {
		store = memory.NewStore()
		log.Info("using memory storage (development mode)")
	}
	defer store.Close()

	// 初始化监控与健康检查
	metrics := monitoring.NewMetrics()
	healthChecker := health.NewChecker(store, log)

	// 初始化服务层
	sessions := service.NewSessionService(store, cfg.Mailbox, log,
		service.WithMetrics(metrics),
	)

	// WebSocket Hub：新邮件实时推送
	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, sessions, log)

	// 暂存文件导入器
	importer := spool.NewImporter(cfg.Spool.Path, store, log,
		spool.WithNotifier(wsHub),
		spool.WithMetrics(metrics),
	)

	// 限流器：配置了 Redis 时多副本共享计数
	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		log.Info("using redis rate limit counters", zap.String("address", cfg.Redis.Address))
	}
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.CreatePerMinute, rdb, log)

	// 创建 HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:         cfg,
		SessionService: sessions,
		WebSocketHub:   wsHub,
		RateLimiter:    rateLimiter,
		Metrics:        metrics,
		HealthHandler:  healthChecker.Handler(),
		Logger:         log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// WebSocket Hub goroutine
	group.Go(func() error {
		log.Info("starting WebSocket hub")
		return wsHub.Run(groupCtx)
	})

	// 暂存文件导入任务
	ingest := &task.Recurring{
		Name:     "spool-import",
		Interval: cfg.Spool.Interval,
		Log:      log,
		Run: func(ctx context.Context) error {
			metrics.SpoolRuns.Inc()
			imported, err := importer.Run(ctx)
			if imported > 0 {
				log.Info("spool records imported", zap.Int("count", imported))
			}
			return err
		},
	}
	group.Go(func() error {
		return ingest.Start(groupCtx)
	})

	// 过期会话清扫任务
	sweeper := &task.Recurring{
		Name:     "session-sweep",
		Interval: cfg.Sweep.Interval,
		Log:      log,
		Run: func(ctx context.Context) error {
			_, err := sessions.Sweep()
			return err
		},
	}
	group.Go(func() error {
		return sweeper.Start(groupCtx)
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if rdb != nil {
			if err := rdb.Close(); err != nil {
				log.Warn("redis close warning", zap.Error(err))
			}
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}
