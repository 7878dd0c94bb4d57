package application

import (
	"context"
	"log/slog"
	"time"
)

// ExpirySweepJob 定期撤销已过期的限价单
type ExpirySweepJob struct {
	cmdService *MatchingCommandService
	logger     *slog.Logger
	interval   time.Duration
	batchSize  int
}

func NewExpirySweepJob(cmdService *MatchingCommandService, logger *slog.Logger, interval time.Duration, batchSize int) *ExpirySweepJob {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &ExpirySweepJob{
		cmdService: cmdService,
		logger:     logger.With("module", "expiry_sweep_job"),
		interval:   interval,
		batchSize:  batchSize,
	}
}

// Start 阻塞直到 ctx 结束
func (j *ExpirySweepJob) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("Expiry sweep job started", "interval", j.interval)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("Expiry sweep job stopped")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce 分批处理，直到一批不满为止
func (j *ExpirySweepJob) RunOnce(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		n, err := j.cmdService.ExpireOrders(ctx, j.batchSize)
		if err != nil {
			j.logger.Error("failed to expire orders", "error", err)
			break
		}
		total += n
		if n < j.batchSize {
			break
		}
	}
	if total > 0 {
		j.logger.Info("expired orders cancelled", "count", total)
	}
	return total
}
