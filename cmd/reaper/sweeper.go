package main

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// sweepTimeout bounds one run so a slow table cannot stack runs.
const sweepTimeout = 4 * time.Minute

// Enqueuer is satisfied by webhooks.Reconciler.
type Enqueuer interface {
	EnqueueDue(ctx context.Context, limit int32) (int, error)
}

type sweeper struct {
	enqueuer Enqueuer
	batch    int32
	logger   *zap.Logger
}

func newSweeper(e Enqueuer, batch int32, logger *zap.Logger) *sweeper {
	if batch <= 0 {
		batch = 50
	}
	return &sweeper{enqueuer: e, batch: batch, logger: logger}
}

func (s *sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	n, err := s.enqueuer.EnqueueDue(ctx, s.batch)
	if err != nil {
		s.logger.Error("sweep failed webhooks", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("due webhooks handed off", zap.Int("count", n))
	}
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
