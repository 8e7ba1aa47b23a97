package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"venue-backend/config"
	"venue-backend/internal/api"
	"venue-backend/internal/auction"
	"venue-backend/internal/db"
	"venue-backend/internal/logging"
	"venue-backend/internal/notification"
	"venue-backend/internal/room"
	"venue-backend/internal/scheduler"
	"venue-backend/internal/store"
	"venue-backend/internal/transport"
	"venue-backend/internal/transport/logtransport"
	"venue-backend/internal/transport/telegram"
	"venue-backend/internal/trigger"
)

func main() {
	configFlag := pflag.StringP("config", "c", "", "path to the YAML config (default $CONFIG_PATH or ./config/config.yaml)")
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	pflag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Str("path", *envFile).Msg("failed to load env file")
	}

	configPath := *configFlag
	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("failed to load configuration")
	}
	logger := logging.New(cfg.Log, os.Stdout)
	logger.Info().Str("path", configPath).Msg("configuration loaded")

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize database")
	}
	appStore := store.NewGormStore(gormDB)
	logger.Info().Str("driver", cfg.Database.Driver).Msg("database initialized")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		tr transport.Transport
		tg *telegram.Adapter
	)
	if cfg.Telegram.Enabled {
		tg, err = telegram.New(cfg.Telegram, cfg.Labels, gormDB, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to start telegram transport")
		}
		tr = tg
	} else {
		logger.Warn().Msg("telegram is disabled; messages go to the log")
		tr = logtransport.New(logger)
	}

	var (
		webpushOptions *webpush.Options
		notifier       room.AvailabilityNotifier
	)
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, webpushOptions, logger)
		pool.Start(ctx)
		notifier = pool
	} else {
		logger.Warn().Msg("VAPID keys are not configured; web push is disabled")
	}

	rooms := room.NewService(appStore, tr, notifier, room.Options{
		SlotUnit:        cfg.Rooms.SlotUnit,
		MaxSlots:        cfg.Rooms.MaxSlots,
		ReserveSlots:    cfg.Rooms.ReserveSlots,
		OperatorChannel: cfg.Channels.Operator,
		Location:        cfg.Scheduler.Location,
	}, logger)
	auctions := auction.NewService(appStore, tr, auction.Options{
		MaxRaiseFactor:    cfg.Auction.MaxRaiseFactor,
		ConfirmTimeout:    cfg.Auction.ConfirmTimeout,
		ParticipantsLimit: cfg.Auction.ParticipantsLimit,
		Currency:          cfg.Auction.Currency,
		PingRole:          cfg.Auction.PingRole,
		PublicChannel:     cfg.Channels.AuctionPublic,
		OperatorChannel:   cfg.Channels.Operator,
		Location:          cfg.Scheduler.Location,
	}, logger)
	gate := trigger.NewGate(trigger.FromConfig(cfg.Triggers), tr, cfg.Channels.Notifier, logger)

	go func() {
		err := config.Watch(ctx, configPath, logger, func(c *config.Config) {
			gate.Replace(trigger.FromConfig(c.Triggers))
		})
		if err != nil {
			logger.Error().Err(err).Msg("config watcher stopped")
		}
	}()

	if tg != nil {
		tg.Handle(auctions)
		tg.HandleCancel(auctions)
		tg.Start(ctx)
	}

	sched := scheduler.NewService(rooms, auctions, gate, appStore, cfg.Scheduler.Interval, cfg.Scheduler.Location, logger)
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(ctx)
	}()

	handler := api.NewHandler(appStore, rooms, auctions, gate, webpushOptions, logger).WithLabels(tr)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(handler, cfg.Server, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server stopped")
		}
	}()

	notify(logger, daemon.SdNotifyReady)
	<-ctx.Done()
	notify(logger, daemon.SdNotifyStopping)
	logger.Info().Msg("shutdown signal received, stopping services")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown")
	}
	if tg != nil {
		if err := tg.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("telegram shutdown")
		}
	}
	select {
	case <-schedDone:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("scheduler did not stop in time")
	}
	logger.Info().Msg("stopped")
}

func notify(logger zerolog.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logger.Warn().Err(err).Msg("sd_notify failed")
		return
	}
	if sent {
		logger.Debug().Str("state", state).Msg("sd_notify sent")
	}
}
