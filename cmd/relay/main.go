package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/course-relay/internal/catalog"
	"github.com/kursadbilgin/course-relay/internal/config"
	"github.com/kursadbilgin/course-relay/internal/handler"
	"github.com/kursadbilgin/course-relay/internal/infra/postgresql"
	"github.com/kursadbilgin/course-relay/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/course-relay/internal/infra/redis"
	"github.com/kursadbilgin/course-relay/internal/linkresolver"
	"github.com/kursadbilgin/course-relay/internal/media"
	"github.com/kursadbilgin/course-relay/internal/messenger"
	"github.com/kursadbilgin/course-relay/internal/observability"
	"github.com/kursadbilgin/course-relay/internal/queue"
	"github.com/kursadbilgin/course-relay/internal/repository"
	"github.com/kursadbilgin/course-relay/internal/service"
	"github.com/kursadbilgin/course-relay/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

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

	if err := run(cfg, logger); err != nil {
		logger.Fatal("course-relay stopped with error", zap.Error(err))
	}
	logger.Info("course-relay stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.SendRatePerSec, cfg.SendGlobalRatePerSec)
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}

	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL, logger)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer broker.Close()

	metrics := observability.NewMetrics()

	batches := repository.NewGormBatchRepo(db)
	states := repository.NewGormDeliveryStateRepo(db)
	ledger := repository.NewGormDeliveredAssetRepo(db)
	archives := repository.NewGormArchiveRepo(db)
	topics := repository.NewGormTopicRepo(db)

	telegram, err := messenger.NewTelegramMessenger(cfg.TelegramAPIURL, cfg.TelegramBotToken, logger)
	if err != nil {
		return fmt.Errorf("telegram messenger initialization failed: %w", err)
	}
	paced, err := messenger.NewPacedMessenger(telegram, limiter)
	if err != nil {
		return fmt.Errorf("paced messenger initialization failed: %w", err)
	}
	paced.SetMetrics(metrics)

	walker, err := catalog.NewWalker(
		catalog.NewHTTPClient(cfg.CatalogTimeout, cfg.CatalogMaxRetries),
		linkresolver.New(),
		catalog.Config{Concurrency: cfg.CatalogConcurrency, Location: loc},
		logger,
	)
	if err != nil {
		return fmt.Errorf("catalog walker initialization failed: %w", err)
	}

	mediaClient := media.NewHTTPClient()
	downloader, err := media.NewDownloader(cfg.WorkDir, mediaClient, logger)
	if err != nil {
		return fmt.Errorf("downloader initialization failed: %w", err)
	}
	thumbnailer, err := media.NewThumbnailer(cfg.WorkDir, cfg.FFmpegBinary, cfg.WatermarkText, mediaClient, logger)
	if err != nil {
		return fmt.Errorf("thumbnailer initialization failed: %w", err)
	}

	pipeline, err := service.NewPipeline(service.PipelineDeps{
		Ledger:      ledger,
		Archives:    archives,
		Topics:      topics,
		States:      states,
		Messenger:   paced,
		Fetcher:     downloader,
		Prober:      media.NewFFProbe(cfg.FFprobeBinary),
		Thumbnailer: thumbnailer,
	}, cfg.ArchiveChatID, loc, logger)
	if err != nil {
		return fmt.Errorf("pipeline initialization failed: %w", err)
	}
	pipeline.SetMetrics(metrics)

	runner, err := service.NewRunner(batches, states, walker, pipeline, paced, logger)
	if err != nil {
		return fmt.Errorf("runner initialization failed: %w", err)
	}
	runner.SetMetrics(metrics)

	publisher := queue.NewRabbitMQPublisher(broker)
	launcher, err := queue.NewRunPublisher(publisher)
	if err != nil {
		return fmt.Errorf("run publisher initialization failed: %w", err)
	}

	scheduler, err := service.NewScheduler(batches, runner, paced, loc, logger)
	if err != nil {
		return fmt.Errorf("scheduler initialization failed: %w", err)
	}

	batchService, err := service.NewBatchService(batches, states, ledger, launcher, scheduler, logger)
	if err != nil {
		return fmt.Errorf("batch service initialization failed: %w", err)
	}

	recovery, err := service.NewRecoverySupervisor(batches, states, launcher, paced, cfg.RecoveryDelay, logger)
	if err != nil {
		return fmt.Errorf("recovery supervisor initialization failed: %w", err)
	}

	consumer := queue.NewRabbitMQConsumer(broker, cfg.RunConcurrency, logger)
	worker, err := service.NewRunWorker(batches, consumer, runner, cfg.RunConcurrency, logger)
	if err != nil {
		return fmt.Errorf("run worker initialization failed: %w", err)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, sqlDB, rdb, broker)
	if err := handler.RegisterBatchRoutes(app, batchService, cfg.DefaultAPIBase); err != nil {
		return fmt.Errorf("batch routes registration failed: %w", err)
	}

	launched, err := recovery.Recover(ctx)
	if err != nil && ctx.Err() == nil {
		logger.Error("recovery pass failed", zap.Error(err))
	}
	logger.Info("recovery pass finished", zap.Int("launched", launched))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return worker.Start(gctx)
	})

	g.Go(func() error {
		return scheduler.Start(gctx)
	})

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		logger.Info("course-relay api started", zap.String("addr", addr))
		if err := app.Listen(addr); err != nil {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
