package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/promo-engine/internal/config"
	"github.com/kursadbilgin/promo-engine/internal/handler"
	"github.com/kursadbilgin/promo-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/promo-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/promo-engine/internal/infra/redis"
	"github.com/kursadbilgin/promo-engine/internal/notifier"
	"github.com/kursadbilgin/promo-engine/internal/observability"
	"github.com/kursadbilgin/promo-engine/internal/queue"
	"github.com/kursadbilgin/promo-engine/internal/ratelimit"
	"github.com/kursadbilgin/promo-engine/internal/repository"
	"github.com/kursadbilgin/promo-engine/internal/service"
	"github.com/kursadbilgin/promo-engine/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	jobRetention      = 7 * 24 * time.Hour
	jobLockTTL        = 30 * time.Second
	dbConnLifetime    = 30 * time.Minute
	shutdownTimeout   = 10 * time.Second
	brokerDialTimeout = 5 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, postgresql.PoolOptions{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: dbConnLifetime,
	})
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	var rdb *redis.Client
	if cfg.RedisEnabled() {
		rdb, err = infraredis.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis initialization failed", zap.Error(err))
		}
		defer rdb.Close()
	}

	metrics := observability.NewMetrics()

	batchRepo := repository.NewGormBatchRepo(db)
	codeRepo := repository.NewGormPromoCodeRepo(db)
	listingRepo := repository.NewGormListingRepo(db)

	generationJob, err := service.NewGenerationJob(batchRepo, codeRepo, nil, logger)
	if err != nil {
		logger.Fatal("generation job init failed", zap.Error(err))
	}
	generationJob.SetMetrics(metrics)

	var (
		jobQueue service.JobQueue
		broker   handler.BrokerStatus
	)
	if cfg.GenerationEnabled() {
		rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			logger.Fatal("rabbitmq initialization failed", zap.Error(err))
		}
		defer rabbit.Close()

		dialCtx, cancel := context.WithTimeout(ctx, brokerDialTimeout)
		if err := rabbit.Connect(dialCtx); err != nil {
			logger.Warn("rabbitmq not reachable at startup, will retry lazily", zap.Error(err))
		}
		cancel()
		broker = rabbit

		jobStore, err := queue.NewRedisJobStore(rdb, jobRetention)
		if err != nil {
			logger.Fatal("job store init failed", zap.Error(err))
		}
		generateQueue, err := queue.NewGenerateQueue(jobStore, queue.NewRabbitMQPublisher(rabbit), logger)
		if err != nil {
			logger.Fatal("generate queue init failed", zap.Error(err))
		}
		jobQueue = generateQueue

		worker, err := newWorker(cfg, jobStore, generationJob, batchRepo, rabbit, rdb, logger)
		if err != nil {
			logger.Fatal("worker init failed", zap.Error(err))
		}
		worker.SetMetrics(metrics)

		go func() {
			if err := worker.Start(ctx); err != nil {
				logger.Error("generation worker stopped", zap.Error(err))
				stop()
			}
		}()
	} else {
		logger.Warn("generation disabled, RABBITMQ_URL and REDIS_URL are required")
	}

	generationService, err := service.NewGenerationService(batchRepo, jobQueue, logger)
	if err != nil {
		logger.Fatal("generation service init failed", zap.Error(err))
	}
	listingService, err := service.NewListingService(listingRepo, listingRepo, logger)
	if err != nil {
		logger.Fatal("listing service init failed", zap.Error(err))
	}
	verifyService, err := service.NewVerifyService(codeRepo, logger)
	if err != nil {
		logger.Fatal("verify service init failed", zap.Error(err))
	}
	verifyService.SetMetrics(metrics)
	exportService, err := service.NewExportService(batchRepo, codeRepo, logger)
	if err != nil {
		logger.Fatal("export service init failed", zap.Error(err))
	}

	var verifyLimiter ratelimit.RateLimiter
	if rdb != nil {
		verifyLimiter, err = infraredis.NewRedisRateLimiter(rdb, "verify", cfg.VerifyRateLimitPerSec)
		if err != nil {
			logger.Fatal("verify rate limiter init failed", zap.Error(err))
		}
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, sqlDB, rdb, broker)

	validate := validator.New()
	if err := handler.RegisterGenerateRoutes(app, generationService, validate); err != nil {
		logger.Fatal("generate routes init failed", zap.Error(err))
	}
	if err := handler.RegisterListingRoutes(app, listingService); err != nil {
		logger.Fatal("listing routes init failed", zap.Error(err))
	}
	if err := handler.RegisterVerifyRoutes(app, verifyService, transport.RateLimit(verifyLimiter, logger)); err != nil {
		logger.Fatal("verify routes init failed", zap.Error(err))
	}
	if err := handler.RegisterExportRoutes(app, exportService); err != nil {
		logger.Fatal("export routes init failed", zap.Error(err))
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("promo-engine api started",
		zap.Int("port", cfg.APIPort),
		zap.Bool("generation_enabled", cfg.GenerationEnabled()),
	)
	if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("http server stopped", zap.Error(err))
	}
	logger.Info("promo-engine api stopped")
}

// newWorker builds the in-process generation worker. Jobs are serialized per
// id through a redis lock so a redelivered message never runs alongside its
// original.
func newWorker(
	cfg *config.Config,
	jobStore *queue.RedisJobStore,
	runner service.GenerationRunner,
	batches repository.BatchRepository,
	rabbit *queue.RabbitMQ,
	rdb *redis.Client,
	logger *zap.Logger,
) (*service.WorkerService, error) {
	locker, err := infraredis.NewRedisLocker(rdb, "promo:job-lock", jobLockTTL)
	if err != nil {
		return nil, err
	}

	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.WorkerConcurrency, logger)
	worker, err := service.NewWorkerService(
		jobStore,
		runner,
		batches,
		consumer,
		locker,
		cfg.WorkerConcurrency,
		cfg.GenerateMaxAttempts,
		logger,
	)
	if err != nil {
		return nil, err
	}

	if cfg.BatchWebhookURL != "" {
		webhook, err := notifier.NewWebhookNotifier(cfg.BatchWebhookURL)
		if err != nil {
			return nil, err
		}
		worker.SetNotifier(webhook)
	}
	return worker, nil
}
