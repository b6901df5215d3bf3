package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/vitovidale/video-ingest-service/config"
	"github.com/vitovidale/video-ingest-service/domain"
	"github.com/vitovidale/video-ingest-service/infrastructure"
	"github.com/vitovidale/video-ingest-service/usecase"
)

func main() {
	cfg, err := config.Load()
	logger := newLogger(cfg.Production)
	slog.SetDefault(logger)
	if err != nil {
		// Missing secrets are the one startup failure allowed to stop the process.
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.JWTSecretDefaulted {
		logger.Warn("JWT_SECRET environment variable not set. Using a default secret for development. THIS IS INSECURE FOR PRODUCTION!")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("service stopped")
}

func newLogger(production bool) *slog.Logger {
	if production {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	db, err := infrastructure.OpenDB(ctx, cfg.DatabaseDriver, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := infrastructure.NewPostgresVideoRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		return err
	}

	store, err := infrastructure.NewS3ObjectStore(ctx, infrastructure.S3Options{
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		KeyPrefix: cfg.S3KeyPrefix,
	}, logger)
	if err != nil {
		return err
	}

	verifier, err := infrastructure.NewHMACVerifier([]byte(cfg.HMACSecret))
	if err != nil {
		return err
	}

	publisher, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("failed to close queue publisher", "backend", cfg.QueueBackend, "error", err)
		}
	}()
	if err := publisher.EnsureTopic(ctx); err != nil {
		return err
	}

	metrics := infrastructure.NewMetrics()
	queue := infrastructure.NewInstrumentedQueue(publisher, cfg.QueueBackend, metrics)

	var locker domain.Locker = infrastructure.NewKeyedMutex()
	checks := map[string]infrastructure.Pinger{"database": repo, "queue": publisher}
	if cfg.RedisAddr != "" {
		redisLocker := infrastructure.NewRedisLocker(cfg.RedisAddr, cfg.RedisPassword, 0, logger)
		defer redisLocker.Close()
		locker = redisLocker
		checks["redis"] = redisLocker
	}

	var notifier domain.NotificationService = infrastructure.NoopNotifier{}
	if cfg.LegacyNotifierEnabled {
		legacy := infrastructure.NewUnixSocketNotifier(cfg.LegacySocketPath, logger)
		defer legacy.Close()
		notifier = legacy
		// Ends when Close closes the error channel.
		go func() {
			for range legacy.Errors() {
				metrics.LegacyNotifyErrors.Inc()
			}
		}()
	}

	uploadUC := usecase.NewUploadVideoUseCase(repo, store, logger)
	uploadUC.URLTTL = cfg.UploadURLTTL
	uploadUC.SignTimeout = cfg.SignTimeout

	confirmUC := usecase.NewConfirmUploadUseCase(repo, queue, verifier, notifier, locker, logger)
	confirmUC.PublishTimeout = cfg.PublishTimeout
	confirmUC.StaleClaimAfter = cfg.StaleClaimAfter

	updateUC := usecase.NewUpdateVideoUseCase(repo, logger)

	handlers := infrastructure.NewVideoHandlers(uploadUC, confirmUC, updateUC, metrics, logger)
	handlers.SignatureHeader = cfg.SignatureHeader
	handlers.Checks = checks

	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	router := infrastructure.NewRouter(handlers, infrastructure.AuthMiddleware([]byte(cfg.JWTSecret)))

	grp, ctx := errgroup.WithContext(ctx)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	grp.Go(func() error {
		logger.Info("video ingest service listening", "port", cfg.Port, "backend", cfg.QueueBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	grp.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return grp.Wait()
}

// newPublisher builds the job publisher selected by QUEUE_BACKEND.
func newPublisher(ctx context.Context, cfg config.Config, logger *slog.Logger) (domain.MessageQueueService, error) {
	switch cfg.QueueBackend {
	case config.BackendKafka:
		return infrastructure.NewKafkaJobPublisher(infrastructure.KafkaOptions{
			Brokers:           cfg.KafkaBrokers,
			Topic:             cfg.QueueTopic,
			Partitions:        cfg.QueuePartitions,
			ReplicationFactor: cfg.QueueReplication,
		}, logger)
	case config.BackendRabbitMQ:
		return infrastructure.NewRabbitMQJobPublisher(cfg.RabbitMQURL, cfg.QueueTopic, cfg.QueuePartitions, logger)
	case config.BackendNATS:
		return infrastructure.NewJetStreamJobPublisher(cfg.NATSURL, cfg.QueueTopic, cfg.QueuePartitions, cfg.QueueReplication, logger)
	case config.BackendSQS:
		return infrastructure.NewSQSJobPublisher(ctx, cfg.SQSQueueURL, cfg.S3Region, logger)
	default:
		return nil, fmt.Errorf("queue backend %q: %w", cfg.QueueBackend, domain.ErrInvalidArgument)
	}
}
