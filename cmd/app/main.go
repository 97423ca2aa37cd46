package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"courtbooking/internal/auth"
	"courtbooking/internal/backup"
	"courtbooking/internal/blob"
	"courtbooking/internal/booking"
	"courtbooking/internal/config"
	"courtbooking/internal/db"
	"courtbooking/internal/lifecycle"
	"courtbooking/internal/logger"
	"courtbooking/internal/notify"
	"courtbooking/internal/persister"
	"courtbooking/internal/retry"
	"courtbooking/internal/rule"
	"courtbooking/internal/scheduler"
	"courtbooking/internal/server"
	"courtbooking/internal/store"
)

// Headroom over the state and url attributes of the lifecycle item.
const maxLifecycleAttributes = 10

func main() {
	logger.Init()
	logger.Info("Starting court booking service")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatalf("Failed to load time zone %q: %v", cfg.TimeZone, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i].Close()
		}
	}()

	var redisClient *redis.Client
	if cfg.StoreDriver == "redis" || cfg.Notifier == "email" {
		logger.Info("Connecting to redis...", "addr", cfg.RedisAddr)
		redisClient, err = db.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Fatalf("Failed to connect to redis: %v", err)
		}
		closers = append(closers, redisClient)
	}

	attributes, closer, err := openStore(cfg, redisClient)
	if err != nil {
		logger.Fatalf("Failed to open attribute store: %v", err)
	}
	if closer != nil {
		closers = append(closers, closer)
	}
	logger.Info("Attribute store ready", "driver", cfg.StoreDriver)

	publisher, err := newPublisher(ctx, cfg, redisClient)
	if err != nil {
		logger.Fatalf("Failed to create notifier: %v", err)
	}
	if c, ok := publisher.(io.Closer); ok {
		closers = append(closers, c)
	}
	logger.Info("Notifier ready", "notifier", cfg.Notifier)

	var blobs blob.Store = blob.NewMemoryStore()
	if redisClient != nil {
		blobs = blob.NewRedisStore(redisClient)
	}

	policy := retry.Policy{Attempts: cfg.RetryAttempts, Pause: cfg.RetryPause}
	newPersister := func(maxAttributes int) *persister.Persister {
		p := persister.New(attributes, policy)
		if err := p.Initialise(maxAttributes); err != nil {
			logger.Fatalf("Failed to initialise persister: %v", err)
		}
		return p
	}

	limits := booking.Limits{MaxCourts: cfg.MaxCourts, MaxSlots: cfg.MaxSlots}
	clock := booking.NewClock(loc)

	lifecycleManager := lifecycle.NewManager(newPersister(maxLifecycleAttributes), policy)
	bookingManager := booking.NewManager(newPersister(cfg.MaxBookingsPerDay), lifecycleManager, publisher, booking.Options{
		Limits:     limits,
		Retry:      policy,
		Clock:      clock,
		AdminTopic: cfg.AdminTopic,
	})
	ruleManager := rule.NewManager(newPersister(cfg.MaxRules), lifecycleManager, bookingManager, publisher, rule.Options{
		MaxExclusions: cfg.MaxExclusionsPerRule,
		Retry:         policy,
		Clock:         clock,
		AdminTopic:    cfg.AdminTopic,
	})
	backupManager := backup.NewManager(bookingManager, ruleManager, blobs, publisher, cfg.BackupBucket, cfg.BackupTopic, policy)

	if cfg.AdminPasswordHash == "" {
		logger.Warn("ADMIN_PASSWORD_HASH is not set; admin login is disabled")
	}

	srv := server.New(server.Handlers{
		Auth:      auth.NewHandler(cfg.AdminPasswordHash, cfg.JWTSecret, cfg.JWTRefreshSecret),
		Bookings:  booking.NewHandler(bookingManager, backupManager, cfg.BookingWindowDays),
		Rules:     rule.NewHandler(ruleManager, limits, backupManager),
		Lifecycle: lifecycle.NewHandler(lifecycleManager),
		Backup:    backup.NewHandler(backupManager),
	}, server.Options{
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	if cfg.SchedulerEnabled {
		jobs := scheduler.New(ruleManager, bookingManager, backupManager, clock, cfg.BookingWindowDays, cfg.SchedulerInterval)
		go jobs.Start(ctx)
	}

	serverErrChan := make(chan error, 1)
	go func() {
		logger.Infof("Server starting on port %s", cfg.Port)
		if err := srv.Start(cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Infof("Received signal: %v", sig)
	case err := <-serverErrChan:
		logger.Errorf("Server error: %v", err)
	}

	logger.Info("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Error during server shutdown: %v", err)
	}

	logger.Info("Server stopped")
}

func openStore(cfg *config.Config, redisClient *redis.Client) (store.AttributeStore, io.Closer, error) {
	switch cfg.StoreDriver {
	case "postgres":
		logger.Info("Connecting to database...")
		database, err := db.Connect(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := db.RunMigrations(database, cfg.MigrationsPath); err != nil {
			database.Close()
			return nil, nil, err
		}
		logger.Info("Migrations completed")
		return store.NewPostgresStore(database), database, nil
	case "redis":
		return store.NewRedisStore(redisClient), nil, nil
	case "memory":
		logger.Warn("Using the in-memory attribute store; data is lost on restart")
		return store.NewMemoryStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func newPublisher(ctx context.Context, cfg *config.Config, redisClient *redis.Client) (notify.Publisher, error) {
	switch cfg.Notifier {
	case "amqp":
		return notify.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	case "email":
		publisher := notify.NewEmailPublisher(redisClient, notify.SMTPConfig{
			From:     cfg.EmailFrom,
			FromName: cfg.EmailFromName,
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Pass:     cfg.SMTPPass,
		}, map[string]string{
			cfg.AdminTopic:  cfg.AdminEmail,
			cfg.BackupTopic: cfg.AdminEmail,
		})
		go publisher.Start(ctx)
		return publisher, nil
	case "log":
		return notify.LogPublisher{}, nil
	default:
		return nil, fmt.Errorf("unknown notifier %q", cfg.Notifier)
	}
}
