package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lunch_order_bot/internal/config"
	"lunch_order_bot/internal/health"
	"lunch_order_bot/internal/logging"
	"lunch_order_bot/internal/menu"
	"lunch_order_bot/internal/order"
	"lunch_order_bot/internal/schedule"
	"lunch_order_bot/internal/store"
	"lunch_order_bot/internal/telegram"
	"lunch_order_bot/internal/workflow"
)

const (
	mongoConnectTimeout     = 10 * time.Second
	mongoIndexTimeout       = 5 * time.Second
	mongoDisconnectTimeout  = 5 * time.Second
	restoreTimeout          = 5 * time.Second
	submitTimeout           = 90 * time.Second
	submitWorkers           = 2
	telegramShutdownTimeout = 10 * time.Second
	healthShutdownTimeout   = 5 * time.Second
)

func main() {
	configOnly := flag.Bool("config-only", false, "load and print configuration then exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	if *configOnly {
		logging.Info("configuration check", logging.Fields{"event": "config_only"})
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return
	}

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.WithError(err).Error("timezone error")
		fmt.Fprintf(os.Stderr, "timezone error: %v\n", err)
		os.Exit(1)
	}

	logger.WithFields(logging.Fields{
		"event":    "startup",
		"timezone": cfg.Timezone,
		"dev_mode": cfg.DevMode,
	}).Info("configuration loaded")

	reminderSchedule := schedule.Default(location, cfg.ReminderHour, cfg.ReminderMinute)
	if err := reminderSchedule.Validate(); err != nil {
		logger.WithError(err).Error("schedule error")
		fmt.Fprintf(os.Stderr, "schedule error: %v\n", err)
		os.Exit(1)
	}

	var mongoManager *store.Manager
	var subscriptionRepo *store.SubscriptionRepository

	if cfg.MongoEnabled() {
		connectCtx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
		mongoManager, err = store.NewManager(connectCtx, cfg)
		cancel()
		if err != nil {
			logger.WithError(err).Error("mongo connection error")
			fmt.Fprintf(os.Stderr, "mongo connection error: %v\n", err)
			os.Exit(1)
		}

		logger.WithField("event", "mongo_connect").Info("connected to mongo")

		indexCtx, cancelIndexes := context.WithTimeout(context.Background(), mongoIndexTimeout)
		err = mongoManager.EnsureBaseIndexes(indexCtx)
		cancelIndexes()
		if err != nil {
			logger.WithError(err).Error("mongo index setup error")
			fmt.Fprintf(os.Stderr, "mongo index setup error: %v\n", err)
			os.Exit(1)
		}

		logger.WithField("event", "mongo_indexes").Info("ensured base mongo indexes")

		subscriptionRepo = store.NewSubscriptionRepository(mongoManager.Subscriptions())
	} else {
		logger.WithField("event", "mongo_disabled").Info("no mongo uri configured, subscriptions will not survive restarts")
	}

	checker := menu.NewChecker(cfg.MenuPageURL, logger)
	extractor := menu.NewExtractor(logger)

	submitter := order.NewSubmitter(submitTimeout, true, logger)
	pool, err := order.NewPool(submitWorkers, logger)
	if err != nil {
		logger.WithError(err).Error("worker pool setup error")
		fmt.Fprintf(os.Stderr, "worker pool setup error: %v\n", err)
		os.Exit(1)
	}

	tgClient, err := telegram.NewClient(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("telegram client setup error")
		fmt.Fprintf(os.Stderr, "telegram client setup error: %v\n", err)
		os.Exit(1)
	}

	var snapshotStore workflow.Store
	if subscriptionRepo != nil {
		snapshotStore = subscriptionRepo
	}

	orchestrator, err := workflow.New(workflow.Params{
		Schedule:      reminderSchedule,
		Messenger:     tgClient,
		Checker:       checker,
		Menu:          extractor,
		Submitter:     order.NewPooledSubmitter(pool, submitter),
		Store:         snapshotStore,
		ContactNumber: cfg.WhatsAppNumber,
		DevMode:       cfg.DevMode,
		DevInterval:   cfg.DevReminderEvery,
		Logger:        logger,
	})
	if err != nil {
		logger.WithError(err).Error("workflow setup error")
		fmt.Fprintf(os.Stderr, "workflow setup error: %v\n", err)
		os.Exit(1)
	}

	tgClient.Attach(orchestrator)

	if subscriptionRepo != nil {
		restoreCtx, cancelRestore := context.WithTimeout(context.Background(), restoreTimeout)
		snaps, err := subscriptionRepo.ListActive(restoreCtx)
		cancelRestore()
		if err != nil {
			logger.WithError(err).Warn("could not restore subscriptions")
		} else {
			orchestrator.Restore(context.Background(), snaps)
		}
	}

	var storeChecker health.StoreChecker
	if mongoManager != nil {
		storeChecker = mongoManager
	}
	healthServer := health.NewServer(cfg.HTTPPort, storeChecker, orchestrator.Registry(), logger)
	go func() {
		if err := healthServer.ListenAndServe(); err != nil {
			logger.WithError(err).Error("health server error")
		}
	}()

	logger.WithField("event", "telegram_ready").Info("telegram client initialized")

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telegramCtx, cancelTelegram := context.WithCancel(context.Background())
	tgDone := make(chan struct{})

	go func() {
		tgClient.Start(telegramCtx)
		close(tgDone)
	}()

	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping telegram polling")
	case <-tgDone:
		logger.WithField("event", "telegram_stopped_early").Warn("telegram client stopped before shutdown signal")
	}

	cancelTelegram()

	waitCtx, cancelWait := context.WithTimeout(context.Background(), telegramShutdownTimeout)
	select {
	case <-tgDone:
	case <-waitCtx.Done():
		logger.WithField("event", "telegram_shutdown_timeout").Warn("timed out waiting for telegram client to stop")
	}
	cancelWait()

	healthCtx, cancelHealth := context.WithTimeout(context.Background(), healthShutdownTimeout)
	if err := healthServer.Shutdown(healthCtx); err != nil {
		logger.WithError(err).Error("health server shutdown error")
	}
	cancelHealth()

	pool.Release()

	if mongoManager != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
		if err := mongoManager.Close(shutdownCtx); err != nil {
			logger.WithError(err).Error("mongo disconnect error")
		} else {
			logger.WithField("event", "mongo_disconnect").Info("mongo client disconnected")
		}
		cancelShutdown()
	}

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}
