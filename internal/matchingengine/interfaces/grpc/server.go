// Package grpc 撮合引擎的 gRPC 入口：标准健康检查与反射，供编排系统探活
package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wyfcoding/sharematching/pkg/middleware"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
)

// Probe 依赖探测，返回 nil 表示可用
type Probe func(ctx context.Context) error

// HealthReporter 周期性探测依赖（数据库、Redis 等），任一失败即对外报告 NOT_SERVING
type HealthReporter struct {
	health   *health.Server
	service  string
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	probes map[string]Probe
	failed map[string]bool
}

func NewHealthReporter(service string, interval time.Duration, logger *slog.Logger) *HealthReporter {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	r := &HealthReporter{
		health:   health.NewServer(),
		service:  service,
		interval: interval,
		timeout:  interval / 2,
		logger:   logger.With("module", "health_reporter"),
		probes:   make(map[string]Probe),
		failed:   make(map[string]bool),
	}
	r.setStatus(healthpb.HealthCheckResponse_SERVING)
	return r
}

// AddProbe 注册依赖探测
func (r *HealthReporter) AddProbe(name string, probe Probe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes[name] = probe
}

// CheckOnce 执行一轮探测并更新状态
func (r *HealthReporter) CheckOnce(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, probe := range r.probes {
		pctx, cancel := context.WithTimeout(ctx, r.timeout)
		err := probe(pctx)
		cancel()

		if err != nil {
			if !r.failed[name] {
				r.logger.WarnContext(ctx, "dependency unhealthy", "dependency", name, "error", err)
			}
			r.failed[name] = true
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", name, err)
			}
			continue
		}
		if r.failed[name] {
			r.logger.InfoContext(ctx, "dependency recovered", "dependency", name)
		}
		delete(r.failed, name)
	}

	if firstErr != nil {
		r.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	} else {
		r.setStatus(healthpb.HealthCheckResponse_SERVING)
	}
	return firstErr
}

// Start 阻塞直到 ctx 结束，结束时报告 NOT_SERVING 以便摘流
func (r *HealthReporter) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	_ = r.CheckOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			r.health.Shutdown()
			return
		case <-ticker.C:
			_ = r.CheckOnce(ctx)
		}
	}
}

func (r *HealthReporter) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	r.health.SetServingStatus("", status)
	r.health.SetServingStatus(r.service, status)
}

// NewServer 创建 gRPC 服务器并注册健康检查与反射
func NewServer(reporter *HealthReporter, maxConcurrentStreams int, idleTimeout time.Duration) *grpc.Server {
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			middleware.GRPCRecoveryInterceptor(),
			middleware.GRPCLoggingInterceptor(),
		),
	}
	if maxConcurrentStreams > 0 {
		opts = append(opts, grpc.MaxConcurrentStreams(uint32(maxConcurrentStreams)))
	}
	if idleTimeout > 0 {
		opts = append(opts, grpc.KeepaliveParams(keepalive.ServerParameters{MaxConnectionIdle: idleTimeout}))
	}

	server := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(server, reporter.health)
	reflection.Register(server)
	return server
}
