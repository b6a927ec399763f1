package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/flow-alert-service/internal/adapter/email"
	httpadapter "github.com/couchcryptid/flow-alert-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/flow-alert-service/internal/adapter/kafka"
	"github.com/couchcryptid/flow-alert-service/internal/adapter/mysql"
	"github.com/couchcryptid/flow-alert-service/internal/adapter/nwps"
	"github.com/couchcryptid/flow-alert-service/internal/adapter/push"
	"github.com/couchcryptid/flow-alert-service/internal/adapter/redisstore"
	"github.com/couchcryptid/flow-alert-service/internal/adapter/sms"
	"github.com/couchcryptid/flow-alert-service/internal/cache"
	"github.com/couchcryptid/flow-alert-service/internal/config"
	"github.com/couchcryptid/flow-alert-service/internal/dispatch"
	"github.com/couchcryptid/flow-alert-service/internal/observability"
	"github.com/couchcryptid/flow-alert-service/internal/scheduler"
)

func main() {
	godotenv.Load() //nolint:errcheck // .env is optional

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := mysql.Open(ctx, cfg.MySQLDSN)
	if err != nil {
		logger.Error("mysql connect failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("schema bootstrap failed", "error", err)
		os.Exit(1)
	}

	// Durable cache backing (feature-flagged via REDIS_ADDR).
	var cacheStore cache.Store
	var redisStore *redisstore.Store
	if cfg.RedisEnabled {
		redisStore, err = redisstore.New(ctx, cfg.RedisAddr, cfg.CacheTTL)
		if err != nil {
			logger.Error("redis connect failed", "error", err)
			os.Exit(1)
		}
		defer redisStore.Close()
		cacheStore = redisStore
		logger.Info("redis cache store enabled", "addr", cfg.RedisAddr)
	} else {
		logger.Info("redis cache store disabled")
	}

	nwpsClient := nwps.NewClient(cfg.NWPSBaseURL, cfg.NWPSTimeout, logger)
	tables := cache.New(nwpsClient, cacheStore, cfg.CacheTTL, clock, logger, metrics)

	const channelTimeout = 10 * time.Second
	pusher := push.NewClient(cfg.PushGatewayURL, cfg.PushAPIKey, channelTimeout, logger)

	var smsSender dispatch.SMSSender
	if cfg.SMSEnabled {
		smsSender = sms.NewClient(cfg.SMSBaseURL, cfg.SMSAccountSID, cfg.SMSAuthToken, cfg.SMSFrom, channelTimeout, logger)
		logger.Info("sms channel enabled")
	} else {
		logger.Info("sms channel disabled")
	}

	var emailSender dispatch.EmailSender
	if cfg.EmailEnabled {
		emailSender = email.NewSender(cfg.SendGridAPIKey, "Flow Alerts", cfg.SendGridFrom, logger)
		logger.Info("email channel enabled")
	} else {
		logger.Info("email channel disabled")
	}

	var events dispatch.EventPublisher
	var alertWriter *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		alertWriter = kafkaadapter.NewWriter(cfg.KafkaBrokers, cfg.KafkaAlertTopic, logger)
		events = alertWriter
		logger.Info("kafka event mirror enabled", "topic", cfg.KafkaAlertTopic)
	} else {
		logger.Info("kafka event mirror disabled")
	}

	dispatcher := dispatch.New(pusher, smsSender, emailSender, store, events, clock, logger, metrics)

	sched := scheduler.New(store, nwpsClient, tables, dispatcher, store, clock, logger, metrics, scheduler.Config{
		ScaleFactor:   cfg.ScaleFactor,
		MaxConcurrent: cfg.MaxConcurrent,
		Cooldown:      cfg.AlertCooldown,
		DemoMode:      cfg.DemoMode,
		QuietHoursLoc: cfg.QuietHoursTZ,
	})

	if cfg.RunOnce {
		sweepCtx, cancel := context.WithTimeout(ctx, cfg.CheckInterval)
		defer cancel()
		if err := sched.RunSweep(sweepCtx); err != nil {
			logger.Error("sweep failed", "error", err)
			os.Exit(1)
		}
		closeWriter(alertWriter, logger)
		return
	}

	runner := scheduler.NewRunner(sched, cfg.CheckInterval, clock, logger)

	checks := []httpadapter.Check{
		{Name: "database", Probe: store.Ping},
		{Name: "sweeper", Probe: func(context.Context) error {
			if !runner.Ready() {
				return errors.New("first sweep not complete")
			}
			return nil
		}},
	}
	if redisStore != nil {
		checks = append(checks, httpadapter.Check{Name: "redis", Probe: redisStore.Ping})
	}
	srv := httpadapter.NewServer(cfg.HTTPAddr, checks, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	go runner.Run(ctx)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	closeWriter(alertWriter, logger)

	logger.Info("shutdown complete")
}

func closeWriter(w *kafkaadapter.Writer, logger *slog.Logger) {
	if w == nil {
		return
	}
	if err := w.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}
}
