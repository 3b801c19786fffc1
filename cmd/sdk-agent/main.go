package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Wuchinator/analytics-sdk-core/internal/config"
	"github.com/Wuchinator/analytics-sdk-core/internal/manager"
	"github.com/Wuchinator/analytics-sdk-core/internal/message"
	"github.com/Wuchinator/analytics-sdk-core/internal/policy"
	"github.com/Wuchinator/analytics-sdk-core/internal/store"
	"github.com/Wuchinator/analytics-sdk-core/pkg/kafka"
	"github.com/Wuchinator/analytics-sdk-core/pkg/logger"
	"github.com/Wuchinator/analytics-sdk-core/pkg/sqlite"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

const idleCheckInterval = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Error loading config: %v", err))
	}

	log, err := logger.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		panic(fmt.Sprintf("Error initializing logger: %v", err))
	}
	defer log.Sync()

	log = logger.WithService(log, "sdk-agent")
	log.Info("Starting SDK agent",
		zap.String("environment", cfg.Environment),
		zap.String("db_path", cfg.Storage.Path),
		zap.Bool("kafka", cfg.Kafka.Enabled),
	)
	if err := cfg.Validate(); err != nil {
		log.Warn("Records will not be stored until credentials are configured", zap.Error(err))
	}

	db := store.NewLazy(sqlite.Config{Path: cfg.Storage.Path, BusyTimeout: cfg.Storage.BusyTimeout},
		logger.WithComponent(log, "store"))
	closers := []func() error{db.Close}

	engine := policy.NewEngine(policy.Defaults{
		SessionTimeout:       cfg.SDK.SessionTimeout,
		UploadInterval:       cfg.SDK.UploadInterval,
		BreadcrumbLimit:      cfg.SDK.BreadcrumbLimit,
		InfluenceOpenTimeout: cfg.SDK.InfluenceOpenTimeout,
		ReportUncaughtErrors: cfg.SDK.ReportUncaughtErrors,
		Development:          cfg.IsDevelopment(),
	}, db, kitLogger{log: logger.WithComponent(log, "kits")}, logger.WithComponent(log, "policy"))

	var uploader manager.Uploader
	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:          cfg.Kafka.Brokers,
			Topic:            cfg.Kafka.TriggerTopic,
			Retries:          cfg.Kafka.ProducerRetries,
			Timeout:          cfg.Kafka.ProducerTimeout,
			RequiredAcks:     cfg.Kafka.RequiredAcks,
			Compression:      cfg.Kafka.CompressionType,
			IdempotentWrites: cfg.Kafka.IdempotentWrites,
			MaxMessageBytes:  cfg.Kafka.MaxMessageBytes,
		}, log)
		if err != nil {
			log.Fatal("Error initializing kafka producer", zap.Error(err))
		}
		closers = append(closers, producer.Close)
		uploader = &triggerPublisher{producer: producer}

		consumer, err = kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:    cfg.Kafka.Brokers,
			Topics:     []string{cfg.Kafka.ConfigTopic},
			GroupID:    cfg.Kafka.ConsumerGroup,
			FromOldest: true, // a fresh agent replays the config history, newest last
		}, configHandler(engine), log)
		if err != nil {
			log.Fatal("Error initializing kafka consumer", zap.Error(err))
		}
		closers = append(closers, consumer.Close)
	}

	mgr := manager.New(manager.Options{
		APIKey:    cfg.SDK.APIKey,
		APISecret: cfg.SDK.APISecret,
		Open:      db.Repository,
		Policy:    engine,
		Device: manager.NewDevice(
			manager.AppInfo{Package: cfg.SDK.AppPackage, Version: cfg.SDK.AppVersion},
			manager.DeviceInfo{Model: cfg.SDK.DeviceModel, OSVersion: cfg.SDK.OSVersion},
		),
		Uploader:          uploader,
		EndOrphanSessions: cfg.SDK.OrphanRecoveryOnStart,
		Logger:            logger.WithComponent(log, "manager"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr.Start(ctx)
	mgr.StartSession()
	mgr.LogStateTransition(message.StateTransitionInit)

	if consumer != nil {
		go func() {
			if err := consumer.Run(ctx); err != nil {
				log.Error("Config consumer stopped", zap.Error(err))
			}
		}()
	}
	go watchIdle(ctx, mgr, log)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down SDK agent")
	cancel()

	mgr.LogStateTransition(message.StateTransitionExit)
	_ = mgr.EndSession(true)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := mgr.Close(shutdownCtx); err != nil {
		log.Warn("Queue did not drain", zap.Error(err))
	}
	if err := closeAll(closers...)(); err != nil {
		log.Error("Failed to close resources", zap.Error(err))
	}
	log.Info("SDK agent stopped")
}

// watchIdle ends the session once it has been idle for the session timeout.
func watchIdle(ctx context.Context, mgr *manager.Manager, log *zap.Logger) {
	ticker := time.NewTicker(idleCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if mgr.EndSessionIfIdle(now) {
				log.Info("Idle session ended")
			}
		}
	}
}

func closeAll(closers ...func() error) func() error {
	return func() error {
		var result *multierror.Error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				result = multierror.Append(result, err)
			}
		}
		return result.ErrorOrNil()
	}
}
