// Command reaper periodically hands due FailedWebhooks to the retry queue.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/app"
	"github.com/imrishuroy/marketplace-orderflow/internal/config"
	"github.com/imrishuroy/marketplace-orderflow/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	zl, err := logger.New(cfg.AppEnv)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	a, err := app.New(context.Background(), cfg, zl)
	if err != nil {
		zl.Fatal("failed to init app", zap.Error(err))
	}
	if cfg.RetryQueueURL == "" {
		zl.Warn("RETRY_QUEUE_URL is empty, due webhooks will be retried inline")
	}

	s := newSweeper(a.Reconciler, int32(cfg.ReaperBatch), zl.Named("reaper"))
	cl := cronLogger{zl.Named("cron").Sugar()}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	if _, err := c.AddFunc(cfg.ReaperSchedule, s.sweep); err != nil {
		zl.Fatal("add cron job", zap.String("schedule", cfg.ReaperSchedule), zap.Error(err))
	}
	zl.Info("reaper started", zap.String("schedule", cfg.ReaperSchedule), zap.Int("batch", cfg.ReaperBatch))
	c.Start()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	<-c.Stop().Done()
	zl.Info("reaper stopped")
}
