package main

import (
	"context"
	"log"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/docmarket-payments/internal/auth"
	"github.com/imrishuroy/docmarket-payments/internal/aws"
	"github.com/imrishuroy/docmarket-payments/internal/cache"
	"github.com/imrishuroy/docmarket-payments/internal/catalog"
	"github.com/imrishuroy/docmarket-payments/internal/config"
	"github.com/imrishuroy/docmarket-payments/internal/gateway"
	"github.com/imrishuroy/docmarket-payments/internal/handlers"
	"github.com/imrishuroy/docmarket-payments/internal/ledger"
	"github.com/imrishuroy/docmarket-payments/internal/logging"
	"github.com/imrishuroy/docmarket-payments/internal/materialize"
	"github.com/imrishuroy/docmarket-payments/internal/notifications"
	"github.com/imrishuroy/docmarket-payments/internal/orders"
	"github.com/imrishuroy/docmarket-payments/internal/payments"
	"github.com/imrishuroy/docmarket-payments/internal/reconcile"
)

type app struct {
	router     *gin.Engine
	dispatcher *notifications.Dispatcher
	janitor    *notifications.Janitor
}

func setupRouter(cfg handlers.HandlerConfig, catalogCache *cache.Cache, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logging.RequestLogger(logger))

	// health
	r.GET("/health", func(c *gin.Context) {
		hits, misses := catalogCache.Stats()
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"cache":  gin.H{"hits": hits, "misses": misses},
		})
	})

	handlers.RegisterPaymentsRoutes(r, cfg)
	handlers.RegisterOrdersRoutes(r, cfg)

	return r
}

func newCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) *cache.Cache {
	rdb, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("redis unavailable, using in-process cache", zap.Error(err))
	}
	if rdb == nil {
		return cache.New(nil, "docmarket", logger)
	}
	return cache.New(rdb, "docmarket", logger)
}

func build(ctx context.Context, cfg *config.Config, clients *aws.AWSClients, logger *zap.Logger) *app {
	metrics := aws.NewMetrics(clients.CloudWatch, cfg.MetricsNamespace, logger)

	attempts := payments.NewStore(clients.DynamoDB, cfg.Tables.Payments)
	ledgerStore := ledger.NewStore(clients.DynamoDB, cfg.Tables.Transactions)
	orderStore := orders.NewStore(clients.DynamoDB, cfg.Tables.Orders)
	notificationStore := notifications.NewStore(clients.DynamoDB, cfg.Tables.Notifications)

	dispatcher := notifications.NewDispatcher(
		aws.NewPublisher(clients.SQS, cfg.Queues.NotificationsURL),
		notificationStore,
		logger,
	)
	catalogCache := newCache(ctx, cfg, logger)
	services := catalog.NewCachedReader(
		catalog.NewStore(clients.DynamoDB, cfg.Tables.Services),
		catalogCache,
		cfg.CatalogCacheTTL,
	)

	materializer := materialize.New(materialize.Deps{
		DynamoDB: clients.DynamoDB,
		Attempts: attempts,
		Orders:   orderStore,
		Ledger:   ledgerStore,
		Catalog:  services,
		Notifier: dispatcher,
		Metrics:  metrics,
		Logger:   logger,
	})
	gw := gateway.NewClient(gateway.Config{
		Environment: cfg.Gateway.Environment,
		AppID:       cfg.Gateway.AppID,
		Secret:      cfg.Gateway.Secret,
		APIVersion:  cfg.Gateway.APIVersion,
		Timeout:     cfg.Gateway.Timeout,
	}, logger)

	svc := reconcile.NewService(reconcile.Config{
		FrontendURL:    cfg.FrontendURL,
		BackendURL:     cfg.BackendURL,
		WebhookSecret:  cfg.Gateway.WebhookSecret,
		GatewayTimeout: cfg.Gateway.Timeout,
	}, reconcile.Deps{
		DynamoDB:     clients.DynamoDB,
		Attempts:     attempts,
		Ledger:       ledgerStore,
		Orders:       orderStore,
		Materializer: materializer,
		Gateway:      gw,
		Metrics:      metrics,
		Logger:       logger,
	})

	router := setupRouter(handlers.HandlerConfig{
		Payments: svc,
		Orders:   orders.NewService(orderStore, dispatcher, logger),
		Verifier: auth.NewVerifier(cfg.Auth.AccessTokenSecret),
		Logger:   logger,
	}, catalogCache, logger)

	return &app{
		router:     router,
		dispatcher: dispatcher,
		janitor:    notifications.NewJanitor(notificationStore, cfg.NotificationRetention, cfg.JanitorInterval, logger),
	}
}

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

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()
	clients, err := aws.NewAWSClients(ctx)
	if err != nil {
		logger.Fatal("failed to init aws clients", zap.Error(err))
	}
	a := build(ctx, cfg, clients, logger)

	// if RUN_LOCAL is set, run a local HTTP server with the cleanup job in the background.
	if cfg.RunLocal {
		jobCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go a.janitor.Run(jobCtx)

		addr := ":" + cfg.Port
		logger.Info("running local server", zap.String("addr", addr))
		if err := a.router.Run(addr); err != nil {
			logger.Fatal("failed to run local server", zap.Error(err))
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(a.router)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		resp, err := adapter.ProxyWithContext(ctx, req)
		// the execution environment may freeze once the response is returned
		a.dispatcher.Wait()
		return resp, err
	})
}
