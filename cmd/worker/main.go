package main

import (
	"context"
	"log"
	"os"

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
	processor := notifications.NewProcessor(
		notifications.NewStore(clients.DynamoDB, cfg.Tables.Notifications),
		logger,
	)

	// If RUN_LOCAL=true, process a single simulated SQS event for local testing.
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			body = `{"notification_id":"local-1","recipient_id":"local-user","title":"Order Received","message":"local test","status":"active"}`
		}
		event := events.SQSEvent{
			Records: []events.SQSMessage{{MessageId: "local", Body: body}},
		}
		if err := processor.Handle(context.Background(), event); err != nil {
			logger.Fatal("local handler error", zap.Error(err))
		}
		return
	}

	lambda.Start(processor.Handle)
}
