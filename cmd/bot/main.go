package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"LegSentinel/internal/broker"
	"LegSentinel/internal/config"
	"LegSentinel/internal/engine"
	"LegSentinel/internal/httpapi"
	"LegSentinel/internal/logger"
	"LegSentinel/internal/notifier"
	"LegSentinel/internal/recorder"
	"LegSentinel/internal/scheduler"
	"LegSentinel/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("could not read .env")
	}

	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("config validation")
	}

	logCloser, err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		logrus.WithError(err).Fatal("init logger")
	}
	defer logCloser.Close()
	log := logger.Component("main")
	log.WithField("config", cfgPath).Info("LegSentinel starting...")

	quotes, orders := buildBroker(cfg, log)

	// Init state store
	var st store.Store
	if cfg.State.Backend == "badger" {
		st, err = store.OpenBadger(cfg.State.Path)
	} else {
		st, err = store.NewFileStore(cfg.State.Path)
	}
	if err != nil {
		log.WithError(err).Fatal("open state store")
	}
	defer st.Close()
	log.WithFields(logrus.Fields{"backend": cfg.State.Backend, "path": cfg.State.Path}).Info("state store ready")

	// Init recorder
	var rec recorder.Recorder
	if cfg.Database.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath)
		if err != nil {
			log.WithError(err).Warn("init sqlite recorder failed, using noop")
			rec = recorder.NewNoopRecorder()
		} else {
			rec = sr
		}
	} else {
		rec = recorder.NewNoopRecorder()
	}
	defer rec.Close()

	// Init notifier
	var notif notifier.Notifier = notifier.LogNotifier{}
	var tn *notifier.TelegramNotifier
	if cfg.Telegram.BotToken != "" {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy)
		notif = tn
	}

	eng, err := engine.New(cfg, engine.Deps{
		Quotes:   quotes,
		Orders:   orders,
		Store:    st,
		Recorder: rec,
		Notifier: notif,
	})
	if err != nil {
		log.WithError(err).Fatal("init engine")
	}
	if err := eng.Restore(); err != nil {
		log.WithError(err).Fatal("restore session")
	}
	eng.Start()
	defer eng.Stop()

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched, err := scheduler.NewScheduler(ctx, cfg, eng, notif, cancel)
	if err != nil {
		log.WithError(err).Fatal("init scheduler")
	}
	if err := sched.RegisterAll(); err != nil {
		log.WithError(err).Fatal("register cron tasks")
	}
	sched.Start()
	defer sched.Stop()
	go sched.CatchUp(time.Now())

	srv := httpapi.New(cfg.HTTP.Listen, eng)
	srv.Start()
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.WithError(err).Warn("http shutdown")
		}
	}()

	if tn != nil {
		go tn.StartPolling(ctx, sched.HandleCommand)
		log.Info("telegram polling started")
	}

	log.Info("LegSentinel is running. Press Ctrl+C to stop.")

	// Wait for shutdown signal, end of day, or the session to finish
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigCh:
		log.WithField("signal", s.String()).Info("shutdown signal received, stopping...")
	case <-ctx.Done():
		log.Info("end of day reached, stopping...")
	case <-eng.Done():
		log.Info("session finished, stopping...")
	}
	cancel()
	log.Info("LegSentinel stopped")
}

// buildBroker returns the quote source and order gateway for the configured
// mode. Paper mode simulates orders and takes prices from the bridge when
// one is configured.
func buildBroker(cfg *config.Config, log *logrus.Entry) (broker.QuoteSource, broker.OrderGateway) {
	var bridge *broker.BridgeClient
	if cfg.Broker.BaseURL != "" {
		bridge = broker.NewBridgeClient(cfg.Broker.BaseURL, cfg.Broker.APIKey, cfg.Proxy, cfg.Broker.Timeout)
	}
	if cfg.Broker.Mode == "bridge" {
		log.WithField("url", cfg.Broker.BaseURL).Info("broker: bridge")
		return bridge, bridge
	}
	paper := broker.NewPaperBroker()
	if bridge != nil {
		log.WithField("url", cfg.Broker.BaseURL).Info("broker: paper orders, bridge quotes")
		return bridge, paper
	}
	log.Warn("broker: paper without a quote bridge, no market data will arrive")
	return paper, paper
}
