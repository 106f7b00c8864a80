// Package main is the entry point for the lurecage honeypot service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lurecage/internal/alert"
	"lurecage/internal/anomaly"
	"lurecage/internal/api"
	"lurecage/internal/broadcast"
	"lurecage/internal/config"
	"lurecage/internal/emulator"
	"lurecage/internal/recorder"
	"lurecage/internal/schema"
	"lurecage/internal/store"
)

var version = "dev"

func main() {
	var (
		showVersion bool
		testAlert   bool
	)
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.BoolVar(&testAlert, "test-alert", false, "Send a test alert through configured channels and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("lurecage %s\n", version)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	// Setup structured logging
	logLevel := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	slog.SetDefault(slog.New(handler))

	channels := buildChannels(cfg)

	if testAlert {
		runTestAlert(channels)
		return
	}

	slog.Info("configuration loaded",
		"ssh_address", cfg.Honeypot.Address,
		"api_address", cfg.API.Address,
		"clickhouse_enabled", cfg.ClickHouse.Enabled,
		"archive_enabled", cfg.Archive.Enabled,
		"kafka_enabled", cfg.Kafka.Enabled,
		"redis_enabled", cfg.Redis.Enabled,
		"alert_channels", len(channels),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Fan-out hub
	bc := broadcast.New()

	// Optional S3 archive for evicted sessions
	var archiver store.Archiver
	if cfg.Archive.Enabled {
		s3Archive, err := store.NewS3Archive(ctx, cfg.Archive, slog.Default())
		if err != nil {
			slog.Error("failed to initialize s3 archive", "error", err)
			os.Exit(1)
		}
		archiver = s3Archive
	}

	// Session store
	st := store.New(cfg.Store, bc, archiver)

	// Scorer and periodic retraining
	scorer := anomaly.NewScorer(cfg.Bands)
	trainer := anomaly.NewTrainer(cfg.Trainer, scorer, st)
	go trainer.Run(ctx)

	// Optional durable exchange log
	var exchangeLog *store.ExchangeLog
	var exchangeWriter recorder.ExchangeWriter
	if cfg.ClickHouse.Enabled {
		exchangeLog, err = store.NewExchangeLog(cfg.ClickHouse)
		if err != nil {
			slog.Error("failed to connect to clickhouse", "error", err)
			os.Exit(1)
		}
		exchangeWriter = exchangeLog
	}

	// Optional Kafka mirror of the event feed
	var kafkaMirror *broadcast.KafkaMirror
	if cfg.Kafka.Enabled {
		kafkaMirror, err = broadcast.NewKafkaMirror(cfg.Kafka, bc)
		if err != nil {
			slog.Error("failed to start kafka mirror", "error", err)
			os.Exit(1)
		}
	}

	// Alert pipeline
	var cooldown alert.CooldownStore
	if cfg.Redis.Enabled {
		redisCooldown, err := alert.NewRedisCooldown(ctx, cfg.Redis)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		cooldown = redisCooldown
	} else {
		cooldown = alert.NewMemoryCooldown()
	}
	delivery := alert.NewDelivery(cfg.Delivery, channels)
	dispatcher := alert.NewDispatcher(cfg.Alert, cooldown, delivery, bc)

	// Capture pipeline and honeypot
	rec := recorder.New(st, scorer, exchangeWriter)
	sshServer, err := emulator.NewServer(cfg.Honeypot, rec)
	if err != nil {
		slog.Error("failed to create ssh server", "error", err)
		os.Exit(1)
	}
	if err := sshServer.Start(); err != nil {
		slog.Error("failed to start ssh server", "error", err)
		os.Exit(1)
	}

	// Query interface
	apiServer := api.NewServer(cfg.API, st, scorer, bc)
	if err := apiServer.Start(); err != nil {
		slog.Error("failed to start api server", "error", err)
		os.Exit(1)
	}

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	// Graceful shutdown, sources first
	sshServer.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		slog.Error("api shutdown error", "error", err)
	}

	dispatcher.Close()
	delivery.Stop()

	if kafkaMirror != nil {
		if err := kafkaMirror.Close(); err != nil {
			slog.Error("kafka mirror close error", "error", err)
		}
	}

	cancel()
	bc.Close()

	if exchangeLog != nil {
		if err := exchangeLog.Close(); err != nil {
			slog.Error("exchange log close error", "error", err)
		}
	}

	// Log final metrics
	stats := st.Stats()
	slog.Info("shutdown complete",
		"sessions", stats.TotalSessions,
		"exchanges", stats.TotalExchanges,
		"evicted", stats.Evicted,
		"alerts_dispatched", dispatcher.Metrics().Dispatched,
		"alerts_suppressed", dispatcher.Metrics().Suppressed,
	)
}

// buildChannels assembles notification channels from configuration.
func buildChannels(cfg *config.Config) []alert.NotificationChannel {
	var channels []alert.NotificationChannel
	if cfg.Channels.Telegram.Enabled {
		channels = append(channels, alert.NewTelegramChannel(
			cfg.Channels.Telegram.BotToken,
			cfg.Channels.Telegram.ChatID,
		))
	}
	if cfg.Channels.Slack.Enabled {
		channels = append(channels, alert.NewSlackChannel(
			cfg.Channels.Slack.WebhookURL,
			cfg.Channels.Slack.Channel,
			cfg.Channels.Slack.Username,
		))
	}
	for _, wh := range cfg.Channels.Webhooks {
		channels = append(channels, alert.NewWebhookChannel(wh.Name, wh.URL, wh.Headers))
	}
	return channels
}

// runTestAlert sends a harmless alert through every configured channel
// so operators can verify credentials before going live.
func runTestAlert(channels []alert.NotificationChannel) {
	if len(channels) == 0 {
		fmt.Fprintln(os.Stderr, "no alert channels configured")
		os.Exit(1)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	failed := 0
	for _, ch := range channels {
		var err error
		if tg, ok := ch.(*alert.TelegramChannel); ok {
			err = tg.SendTest(ctx)
		} else {
			err = ch.Send(ctx, &alert.Alert{
				SourceAddr: "test",
				Command:    "configuration test, no attacker involved",
				Level:      schema.ThreatLow,
				Timestamp:  time.Now().UTC(),
			})
		}
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s: %v\n", ch.Name(), err)
			continue
		}
		fmt.Printf("%s: ok\n", ch.Name())
	}
	if failed > 0 {
		os.Exit(1)
	}
}
