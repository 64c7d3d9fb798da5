package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/imrishuroy/docmarket-payments/internal/aws"
	"github.com/imrishuroy/docmarket-payments/internal/config"
	"github.com/imrishuroy/docmarket-payments/internal/logging"
	"github.com/imrishuroy/docmarket-payments/internal/notifications"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		logger.Fatal("failed to init aws clients", zap.Error(err))
	}
	janitor := notifications.NewJanitor(
		notifications.NewStore(clients.DynamoDB, cfg.Tables.Notifications),
		cfg.NotificationRetention,
		cfg.JanitorInterval,
		logger,
	)

	if cfg.RunLocal {
		if _, err := janitor.RunOnce(context.Background()); err != nil {
			logger.Fatal("cleanup failed", zap.Error(err))
		}
		return
	}

	// one pass per scheduled invocation
	lambda.Start(func(ctx context.Context, ev events.CloudWatchEvent) error {
		deleted, err := janitor.RunOnce(ctx)
		if err != nil {
			return err
		}
		logger.Info("scheduled cleanup finished",
			zap.String("event_id", ev.ID),
			zap.Int("deleted", deleted))
		return nil
	})
}
