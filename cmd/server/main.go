package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/seaport-ferry/service-booking/internal/application"
	"github.com/seaport-ferry/service-booking/internal/collaborator"
	"github.com/seaport-ferry/service-booking/internal/config"
	bookingEvents "github.com/seaport-ferry/service-booking/internal/events"
	"github.com/seaport-ferry/service-booking/internal/handler"
	"github.com/seaport-ferry/service-booking/internal/lock"
	"github.com/seaport-ferry/service-booking/internal/notification"
	"github.com/seaport-ferry/service-booking/internal/repository"
	"github.com/seaport-ferry/service-booking/internal/scheduler"
	"github.com/seaport-ferry/service-booking/pkg/auth"
	"github.com/seaport-ferry/service-booking/pkg/database"
	"github.com/seaport-ferry/service-booking/pkg/health"
	"github.com/seaport-ferry/service-booking/pkg/kafka"
	"github.com/seaport-ferry/service-booking/pkg/logger"
	"github.com/seaport-ferry/service-booking/pkg/middleware"
	"github.com/seaport-ferry/service-booking/pkg/tracing"
)

const serviceName = "service-booking"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewNamed(cfg.AppEnv, serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting service-booking",
		zap.String("port", cfg.Port),
		zap.String("lock_backend", cfg.Lifecycle.LockBackend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing is optional; spans are no-ops without a provider.
	if cfg.Tracing.Enabled {
		shutdownTracing, err := tracing.Init(ctx, serviceName, cfg.AppEnv, cfg.Tracing.Endpoint)
		if err != nil {
			log.Fatal("failed to initialize tracing", zap.Error(err))
		}
		defer func() {
			tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(tctx); err != nil {
				log.Warn("failed to flush traces", zap.Error(err))
			}
		}()
	}

	// Connect to database
	dbConfig := database.PostgresConfig{
		Host:     cfg.DBConfig.Host,
		Port:     cfg.DBConfig.Port,
		User:     cfg.DBConfig.User,
		Password: cfg.DBConfig.Password,
		DBName:   cfg.DBConfig.DBName,
		SSLMode:  cfg.DBConfig.SSLMode,
	}
	db, err := database.Connect(dbConfig, log)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}

	// Run database migrations
	if cfg.AppEnv == "development" {
		if err := db.AutoMigrate(&repository.BookingModel{}); err != nil {
			log.Fatal("failed to run auto-migration", zap.Error(err))
		}
		log.Info("database migration completed (dev auto-migrate)")
	} else {
		if err := database.RunMigrations(dbConfig.DatabaseURL(), "migrations", log); err != nil {
			log.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	// Initialize JWT manager
	jwtManager := auth.NewJWTManager(
		cfg.JWTConfig.Secret,
		15*time.Minute,
		7*24*time.Hour,
	)

	// Initialize Kafka producers
	kafkaProducer := kafka.NewProducer(cfg.KafkaConfig.Brokers, log)
	defer func() { _ = kafkaProducer.Close() }()

	notifier, err := notification.NewKafkaNotifier(notification.ProducerConfig{
		Brokers: cfg.KafkaConfig.Brokers,
		Topic:   cfg.KafkaConfig.NotificationsTopic,
	}, log)
	if err != nil {
		log.Fatal("failed to create notifier", zap.Error(err))
	}
	defer func() { _ = notifier.Close() }()

	// Per-booking lock and event de-duplication
	var (
		locker lock.Locker
		dedup  bookingEvents.Deduplicator
	)
	switch cfg.Lifecycle.LockBackend {
	case config.LockBackendRedis:
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Addr,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		})
		defer func() { _ = redisClient.Close() }()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		locker = lock.NewRedisLocker(redisClient, cfg.Lifecycle.LockTTL, log)
		dedup = bookingEvents.NewRedisDeduplicator(redisClient, cfg.Lifecycle.DedupTTL)
	default:
		locker = lock.NewKeyedMutex()
		dedup = bookingEvents.NewMemoryDeduplicator()
	}

	// Initialize repository and collaborators
	bookingRepo := repository.NewGormBookingRepository(db)
	capacityClient := collaborator.NewCapacityClient(cfg.Collaborators.CapacityURL, cfg.Collaborators.Timeout)
	paymentClient := collaborator.NewPaymentClient(cfg.Collaborators.PaymentURL, cfg.Collaborators.Timeout)

	// Initialize deadline scheduler and application service
	deadlines := scheduler.New(nil, scheduler.DefaultOptions(), log.Named("scheduler"))
	bookingService := application.NewBookingService(
		bookingRepo,
		locker,
		deadlines,
		capacityClient,
		paymentClient,
		notifier,
		kafkaProducer,
		application.Config{
			PaymentWindow:      cfg.Lifecycle.PaymentWindow,
			ReviewWindow:       cfg.Lifecycle.ReviewWindow,
			LockWait:           cfg.Lifecycle.LockWait,
			BookingEventsTopic: cfg.KafkaConfig.BookingEventsTopic,
		},
		log,
	)
	deadlines.SetFireFunc(bookingService.FireDeadline)

	restored, err := bookingService.RestoreDeadlines(ctx)
	if err != nil {
		log.Fatal("failed to restore deadlines", zap.Error(err))
	}
	log.Info("deadline timers armed", zap.Int("bookings", restored))

	// Initialize payment event consumer
	groupID := cfg.KafkaConfig.GroupPrefix + "booking-service"
	paymentConsumer := bookingEvents.NewPaymentEventConsumer(
		cfg.KafkaConfig.Brokers,
		groupID,
		cfg.KafkaConfig.PaymentEventsTopic,
		bookingService,
		dedup,
		log,
	)
	defer func() { _ = paymentConsumer.Close() }()

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Apply global middleware
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.LoggerMiddleware(log))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())

	// Register health check routes
	healthHandler := health.NewHandler(db, serviceName)
	healthHandler.RegisterRoutes(router)

	// Register routes
	handler.NewBookingHandler(bookingService).RegisterRoutes(&router.RouterGroup, jwtManager)
	handler.NewAdminBookingHandler(bookingService).RegisterRoutes(&router.RouterGroup, jwtManager)

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("HTTP server starting", zap.String("addr", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		log.Info("starting payment event consumer", zap.String("topic", cfg.KafkaConfig.PaymentEventsTopic))
		if err := paymentConsumer.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("payment consumer: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down service-booking...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server forced shutdown", zap.Error(err))
		}

		deadlines.Stop()
		bookingService.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("service-booking exited with error", zap.Error(err))
	}
	log.Info("service-booking stopped")
}
