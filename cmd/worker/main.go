package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
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
	p := NewProcessor(a.Reconciler, zl.Named("worker"))

	// If RUN_LOCAL=true, run a single simulated SQS event.
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			body = `{"webhookId":"local-webhook-1"}`
		}
		resp, err := p.Handle(context.Background(), events.SQSEvent{
			Records: []events.SQSMessage{{MessageId: "local-1", Body: body}},
		})
		if err != nil {
			zl.Fatal("local handler error", zap.Error(err))
		}
		zl.Info("local run finished", zap.Int("failures", len(resp.BatchItemFailures)))
		return
	}

	lambda.Start(p.Handle)
}
