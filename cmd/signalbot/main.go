// Binary signalbot receives signed alerts over HTTP and tracks one position per symbol.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/BANCRIPFUTBOT/bancripfutbot/internal/config"
	"github.com/BANCRIPFUTBOT/bancripfutbot/internal/engine"
	"github.com/BANCRIPFUTBOT/bancripfutbot/internal/journal"
	"github.com/BANCRIPFUTBOT/bancripfutbot/internal/metrics"
	"github.com/BANCRIPFUTBOT/bancripfutbot/internal/notify"
	"github.com/BANCRIPFUTBOT/bancripfutbot/internal/position"
	"github.com/BANCRIPFUTBOT/bancripfutbot/internal/risk"
	"github.com/BANCRIPFUTBOT/bancripfutbot/internal/server"
	"github.com/BANCRIPFUTBOT/bancripfutbot/internal/stream"
	"github.com/BANCRIPFUTBOT/bancripfutbot/internal/util"
)

func main() {
	configPath := flag.String("config", os.Getenv("SIGNALBOT_CONFIG"), "path to YAML config (optional)")
	envFile := flag.String("env", ".env", "dotenv file loaded before env overrides")
	flag.Parse()

	boot := util.NewLogger("info")
	if err := config.LoadDotEnv(*envFile); err != nil {
		boot.Warn().Err(err).Msg("dotenv")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		boot.Fatal().Err(err).Msg("load config")
	}
	log := util.NewLoggerTo(os.Stdout, cfg.App.LogLevel, cfg.App.LogFormat).With().Str("service", cfg.App.Name).Logger()
	if cfg.Webhook.Secret == "" {
		log.Warn().Msg("WEBHOOK_SECRET is empty: every signal will be rejected")
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	metricsSrv := metrics.Serve(cfg.App.MetricsAddr)
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	states, events, err := openStores(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("open storage")
	}
	defer events.Close()

	notifiers := notify.Multi{notify.NewLogNotifier(log)}
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		opts := []notify.TelegramOption{notify.WithTimeout(time.Duration(cfg.Telegram.TimeoutSec) * time.Second)}
		if cfg.Telegram.BaseURL != "" {
			opts = append(opts, notify.WithBaseURL(cfg.Telegram.BaseURL))
		}
		notifiers = append(notifiers, notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, log, opts...))
	} else {
		log.Warn().Msg("telegram not configured; notifications go to the log only")
	}

	var hub *stream.Hub
	deps := engine.Deps{
		States:   states,
		Journal:  events,
		Notifier: notifiers,
		Log:      log,
	}
	if cfg.Stream.Enabled {
		hub = stream.NewHub(log, stream.WithBacklog(cfg.Stream.Backlog))
		deps.Stream = hub
	}

	proc := engine.New(engine.Config{
		Secret:        []byte(cfg.Webhook.Secret),
		Passphrase:    cfg.Webhook.Passphrase,
		MaxSkew:       time.Duration(cfg.Webhook.MaxSkewSecs) * time.Second,
		NonceTTL:      time.Duration(cfg.Webhook.NonceTTLSecs) * time.Second,
		NonceCapacity: cfg.Webhook.NonceCapacity,
		Limits: risk.Limits{
			CooldownMinutes:  cfg.Risk.CooldownMinutes,
			MaxSignalsPerDay: cfg.Risk.MaxSignalsPerDay,
			MinRR:            cfg.Risk.MinRR,
		},
	}, deps)

	opts := []server.Option{
		server.WithName(cfg.App.Name),
		server.WithMaxBody(cfg.Webhook.MaxBodyBytes),
		server.WithRawLogLimit(cfg.Webhook.RawLogMaxBytes),
	}
	if hub != nil {
		opts = append(opts, server.WithStream(hub))
	}
	srv := server.New(proc, events, log, opts...)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.App.Addr).Str("storage", cfg.Storage.Driver).Msg("webhook server up")
		errCh <- srv.ListenAndServe(cfg.App.Addr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server stopped")
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if hub != nil {
		hub.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	_ = metricsSrv.Shutdown(shutdownCtx)
}

// openStores picks the position store and journal for the configured driver.
func openStores(ctx context.Context, cfg *config.Config) (position.Store, journal.Journal, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		return position.NewMemoryStore(), journal.NewMemoryStore(256), nil
	case config.DriverPostgres:
		states, err := position.OpenFileStore(cfg.Storage.StatePath)
		if err != nil {
			return nil, nil, err
		}
		pgCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		events, err := journal.OpenPostgres(pgCtx, cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return states, events, nil
	case config.DriverJSONL:
		states, err := position.OpenFileStore(cfg.Storage.StatePath)
		if err != nil {
			return nil, nil, err
		}
		events, err := journal.NewJSONLStore(cfg.Storage.JournalPath)
		if err != nil {
			return nil, nil, err
		}
		return states, events, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}
