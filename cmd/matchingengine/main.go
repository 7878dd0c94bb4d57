// MatchingEngine 主程序
// 功能：股票撮合服务，市价单/限价单按价格时间优先撮合，成交在单个事务内结算资金与持仓
// 架构：DDD 分层 + Gin REST/WebSocket + gRPC 健康检查 + Kafka 事件
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/sharematching/internal/matchingengine/application"
	"github.com/wyfcoding/sharematching/internal/matchingengine/domain"
	"github.com/wyfcoding/sharematching/internal/matchingengine/infrastructure/lock"
	"github.com/wyfcoding/sharematching/internal/matchingengine/infrastructure/messaging"
	"github.com/wyfcoding/sharematching/internal/matchingengine/infrastructure/persistence/memory"
	"github.com/wyfcoding/sharematching/internal/matchingengine/infrastructure/persistence/mysql"
	bookcache "github.com/wyfcoding/sharematching/internal/matchingengine/infrastructure/persistence/redis"
	grpcserver "github.com/wyfcoding/sharematching/internal/matchingengine/interfaces/grpc"
	httpserver "github.com/wyfcoding/sharematching/internal/matchingengine/interfaces/http"
	"github.com/wyfcoding/sharematching/pkg/cache"
	"github.com/wyfcoding/sharematching/pkg/config"
	"github.com/wyfcoding/sharematching/pkg/db"
	"github.com/wyfcoding/sharematching/pkg/logger"
	"github.com/wyfcoding/sharematching/pkg/metrics"
	"github.com/wyfcoding/sharematching/pkg/middleware"
	"github.com/wyfcoding/sharematching/pkg/mq"
	"github.com/wyfcoding/sharematching/pkg/ratelimit"
	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		configPath   string
		allowMissing bool
	)
	flag.StringVar(&configPath, "config", config.GetEnv("APP_CONFIG_PATH", "configs/matchingengine/config.toml"), "path to config file")
	flag.BoolVar(&allowMissing, "allow-missing-config", false, "use defaults and APP_ env overrides when the config file is absent")
	flag.Parse()

	// 1. 加载配置
	load := config.Load
	if allowMissing {
		load = config.LoadWithDefaults
	}
	cfg, err := load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "Starting MatchingEngine",
		"service", cfg.ServiceName,
		"version", cfg.Version,
		"environment", cfg.Environment,
	)

	// 3. 指标
	m := metrics.New(cfg.ServiceName)
	if err := m.Register(nil); err != nil {
		logger.Fatal(ctx, "Failed to register metrics", "error", err)
	}

	reporter := grpcserver.NewHealthReporter(cfg.ServiceName, 10*time.Second, log)

	// 4. 存储
	store, closeStore := initStore(ctx, cfg, reporter)
	defer closeStore()

	// 5. Redis：订单簿缓存、分布式锁、限流
	var (
		bookCache domain.OrderBookReadRepository
		limiter   ratelimit.RateLimiter
		locker    domain.SymbolLocker = lock.NewLocalLocker()
	)
	if cfg.Redis.Enabled {
		redisCache, err := cache.New(cache.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			MaxPoolSize:  cfg.Redis.MaxPoolSize,
			ConnTimeout:  cfg.Redis.ConnTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			logger.Fatal(ctx, "Failed to initialize redis", "error", err)
		}
		defer redisCache.Close()
		reporter.AddProbe("redis", redisCache.Ping)

		bookCache = bookcache.NewOrderBookRedisRepository(redisCache, time.Duration(cfg.Matching.BookCacheTTLMs)*time.Millisecond)
		limiter = ratelimit.NewRedisRateLimiter(redisCache.GetClient())
		if cfg.Matching.LockBackend == "redis" {
			locker = lock.NewRedisLocker(redisCache, time.Duration(cfg.Matching.LockTTLMs)*time.Millisecond, log)
		}
	}

	// 6. 事件投递：WebSocket 订阅中心 + Kafka
	hub := messaging.NewEventHub()
	notifier := application.NewNotifier(log, m, hub)
	if cfg.Kafka.Enabled {
		producer, err := mq.NewProducer(mq.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			MaxRetries:   cfg.Kafka.MaxRetries,
			RetryBackoff: cfg.Kafka.RetryBackoff,
			WriteTimeout: cfg.Kafka.WriteTimeout,
			Async:        cfg.Kafka.Async,
		})
		if err != nil {
			logger.Fatal(ctx, "Failed to initialize kafka producer", "error", err)
		}
		defer producer.Close()
		notifier.AddSink(messaging.NewKafkaEventPublisher(producer, cfg.Kafka.TopicPrefix))
	}

	// 7. 应用服务
	opts := application.Options{
		FeeRate:         cfg.Matching.FeeRateDecimal(),
		MaxAttempts:     cfg.Matching.MaxRetries,
		InitialInterval: time.Duration(cfg.Matching.RetryInitialIntervalMs) * time.Millisecond,
		MaxInterval:     time.Duration(cfg.Matching.RetryMaxIntervalMs) * time.Millisecond,
	}
	cmdService := application.NewMatchingCommandService(store, locker, notifier, bookCache, m, log, opts)
	queryService := application.NewMatchingQueryService(store, bookCache, log, cfg.Matching.DefaultDepth)
	expiryJob := application.NewExpirySweepJob(cmdService, log,
		time.Duration(cfg.Matching.ExpirySweepIntervalS)*time.Second, cfg.Matching.ExpiryBatchSize)

	// 8. 接口层
	httpServer := createHTTPServer(cfg, m, limiter, httpserver.NewMatchingHandler(cmdService, queryService, hub))
	grpcServer := grpcserver.NewServer(reporter, cfg.GRPC.MaxConcurrentStreams, time.Duration(cfg.GRPC.IdleTimeout)*time.Second)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		expiryJob.Start(gctx)
		return nil
	})

	g.Go(func() error {
		reporter.Start(gctx)
		return nil
	})

	g.Go(func() error {
		addr := fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to listen on gRPC address %s: %w", addr, err)
		}
		logger.Info(ctx, "Starting gRPC server", "addr", addr)
		return grpcServer.Serve(lis)
	})

	g.Go(func() error {
		logger.Info(ctx, "Starting HTTP server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	if metricsServer := createMetricsServer(cfg); metricsServer != nil {
		g.Go(func() error {
			logger.Info(ctx, "Starting metrics server", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server error: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return shutdownHTTP(metricsServer)
		})
	}

	// 9. 优雅关停
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(ctx, "Shutting down MatchingEngine")
		grpcServer.GracefulStop()
		return shutdownHTTP(httpServer)
	})

	if err := g.Wait(); err != nil {
		logger.Error(ctx, "MatchingEngine exited with error", "error", err)
	}
	logger.Info(ctx, "MatchingEngine stopped")
}

// initStore driver 为 memory 时使用进程内存储，否则走 GORM
func initStore(ctx context.Context, cfg *config.Config, reporter *grpcserver.HealthReporter) (domain.Store, func()) {
	if cfg.Database.Driver == "memory" {
		logger.Warn(ctx, "Using in-memory store, data is lost on restart")
		return memory.NewStore(), func() {}
	}

	database, err := db.Init(db.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	})
	if err != nil {
		logger.Fatal(ctx, "Failed to initialize database", "error", err)
	}

	store := mysql.NewStore(database, cfg.Database.Isolation)
	if cfg.Database.AutoMigrate {
		if err := store.AutoMigrate(ctx); err != nil {
			logger.Fatal(ctx, "Failed to migrate database", "error", err)
		}
	}

	reporter.AddProbe("database", func(ctx context.Context) error {
		sqlDB, err := database.DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})

	return store, func() {
		if err := database.Close(); err != nil {
			logger.Error(ctx, "Failed to close database", "error", err)
		}
	}
}

// createHTTPServer 创建 HTTP 服务器
func createHTTPServer(cfg *config.Config, m *metrics.Metrics, limiter ratelimit.RateLimiter, handler *httpserver.MatchingHandler) *http.Server {
	if cfg.Environment != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(middleware.GinRecoveryMiddleware())
	router.Use(middleware.GinLoggingMiddleware(m))
	router.Use(middleware.GinCORSMiddleware())
	router.Use(middleware.AccountIdentity())
	router.Use(middleware.RateLimitMiddleware(limiter, cfg.RateLimit))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"service":   cfg.ServiceName,
			"timestamp": time.Now().Unix(),
		})
	})
	if cfg.Metrics.Enabled && !separateMetricsPort(cfg) {
		router.GET(cfg.Metrics.Path, gin.WrapH(metrics.Handler()))
	}

	handler.RegisterRoutes(&router.RouterGroup)

	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}
}

// createMetricsServer 指标使用独立端口时返回专用服务器
func createMetricsServer(cfg *config.Config) *http.Server {
	if !cfg.Metrics.Enabled || !separateMetricsPort(cfg) {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, metrics.Handler())
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.Metrics.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func separateMetricsPort(cfg *config.Config) bool {
	return cfg.Metrics.Port > 0 && cfg.Metrics.Port != cfg.HTTP.Port
}

func shutdownHTTP(server *http.Server) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "addr", server.Addr, "error", err)
		return err
	}
	return nil
}
