package main

import (
	"context"
	"log"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/app"
	"github.com/imrishuroy/marketplace-orderflow/internal/config"
	"github.com/imrishuroy/marketplace-orderflow/internal/handlers"
	"github.com/imrishuroy/marketplace-orderflow/internal/logger"
	"github.com/imrishuroy/marketplace-orderflow/internal/middleware"
)

func setupRouter(a *app.App) *gin.Engine {
	if !a.Config.Development() {
		gin.SetMode(gin.ReleaseMode)
	}
	return handlers.NewRouter(handlers.Deps{
		Pipeline:     a.Pipeline,
		Orders:       a.Orders,
		Reconciler:   a.Reconciler,
		Splits:       a.Splits,
		Tabs:         a.Tabs,
		Gateways:     a.Gateways,
		Notifier:     a.Notifier,
		Logger:       a.Logger.Named("http"),
		OrderLimiter: middleware.NewRateLimiter(a.Config.OrderRateLimit, a.Config.OrderRateBurst, 10*time.Minute),
	})
}

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
	r := setupRouter(a)

	// if RUN_LOCAL is set, serve HTTP directly for development
	if cfg.RunLocal {
		addr := ":" + cfg.Port
		zl.Info("running local server", zap.String("addr", addr))
		if err := r.Run(addr); err != nil {
			zl.Fatal("failed to run local server", zap.Error(err))
		}
		return
	}

	adapter := ginadapter.New(r)
	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
