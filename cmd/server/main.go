package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/ghostzx3/telegrupos-payments/internal/api"
	"github.com/ghostzx3/telegrupos-payments/internal/api/handler"
	rediscache "github.com/ghostzx3/telegrupos-payments/internal/cache/redis"
	"github.com/ghostzx3/telegrupos-payments/internal/config"
	"github.com/ghostzx3/telegrupos-payments/internal/domain"
	"github.com/ghostzx3/telegrupos-payments/internal/integration/pixgateway"
	"github.com/ghostzx3/telegrupos-payments/internal/integration/sns"
	"github.com/ghostzx3/telegrupos-payments/internal/logger"
	"github.com/ghostzx3/telegrupos-payments/internal/metrics"
	dynamorepo "github.com/ghostzx3/telegrupos-payments/internal/repository/dynamodb"
	pgrepo "github.com/ghostzx3/telegrupos-payments/internal/repository/postgres"
	"github.com/ghostzx3/telegrupos-payments/internal/service"
	"github.com/ghostzx3/telegrupos-payments/internal/telemetry"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	if err := logger.Setup(cfg.Log.Level, cfg.Development()); err != nil {
		logger.Fatal("invalid log level", zap.Error(err), zap.String("level", cfg.Log.Level))
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	if !cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.InitProvider(ctx, cfg.Telemetry, cfg.Env)
	if err != nil {
		logger.Fatal("failed to init telemetry", zap.Error(err))
	}
	metrics.MustRegister()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Fatal("unable to load SDK config", zap.Error(err))
	}

	var (
		paymentRepo domain.PaymentRepository
		userDir     domain.UserDirectory
	)
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		pool, err := pgrepo.Connect(ctx, cfg.Store.Postgres.URL)
		if err != nil {
			logger.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer pool.Close()
		if err := pgrepo.Migrate(ctx, pool); err != nil {
			logger.Fatal("failed to apply schema", zap.Error(err))
		}
		paymentRepo = pgrepo.NewPaymentRepository(pool)
		userDir = pgrepo.NewUserRepository(pool)
	default:
		dbClient := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.Store.DynamoDB.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Store.DynamoDB.Endpoint)
			}
		})
		tables := cfg.Store.DynamoDB
		paymentRepo = dynamorepo.NewPaymentRepository(dbClient, tables.PaymentsTable, tables.GroupsTable)
		userDir = dynamorepo.NewUserRepository(dbClient, tables.UsersTable)
	}

	var statusCache service.StatusCache
	if cfg.Redis.Addr != "" {
		redisClient, err := rediscache.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("status cache disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			statusCache = rediscache.NewStatusCache(redisClient, cfg.Redis.TTL)
		}
	}

	var publisher domain.PaymentEventPublisher
	if cfg.SNS.TopicARN != "" {
		publisher = sns.NewClient(awsCfg, cfg.SNS.TopicARN)
	}

	gateway := pixgateway.NewClient(pixgateway.Config{
		BaseURL:     cfg.Gateway.BaseURL,
		APIKey:      cfg.Gateway.APIKey,
		Timeout:     cfg.Gateway.Timeout,
		CreatePaths: cfg.Gateway.CreatePaths,
		StatusPaths: cfg.Gateway.StatusPaths,
	})

	paymentService := service.NewPaymentService(paymentRepo, userDir, gateway,
		service.WithChargeTTL(cfg.Gateway.ChargeTTL),
		service.WithCallbackURL(cfg.Gateway.CallbackURL),
	)
	var webhookOpts []service.WebhookOption
	if cfg.Webhook.VerifyWithProvider {
		webhookOpts = append(webhookOpts, service.WithProviderConfirmation(gateway))
	}
	webhookProcessor := service.NewWebhookProcessor(paymentRepo, publisher, webhookOpts...)
	reader := service.NewReconciliationReader(paymentRepo, statusCache)

	if cfg.Webhook.Secret == "" {
		logger.Warn("webhook secret not configured, signatures will not be verified")
	}

	r := api.SetupRouter(
		handler.NewPaymentHandler(paymentService, reader),
		handler.NewWebhookHandler(webhookProcessor, cfg.Webhook.Secret,
			handler.WithSignatureTolerance(cfg.Webhook.SignatureTolerance),
		),
		cfg.Auth.JWTSecret,
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("port", cfg.Server.Port),
			zap.String("store", cfg.Store.Driver),
			zap.Bool("status_cache", statusCache != nil),
			zap.Bool("events", publisher != nil),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to run server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Error("telemetry shutdown failed", zap.Error(err))
	}
}
