package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/wardenhq/warden/internal/action"
	"github.com/wardenhq/warden/internal/clock"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/database/boltstore"
	"github.com/wardenhq/warden/internal/enforce"
	"github.com/wardenhq/warden/internal/lifecycle"
	"github.com/wardenhq/warden/internal/metrics"
	"github.com/wardenhq/warden/internal/notify"
	"github.com/wardenhq/warden/internal/platform"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger isn't configured yet; plain stderr is all we have.
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("Invalid configuration")
	}

	configureLogging(cfg)

	log.Info().Msg("Starting Warden moderation daemon")

	dbPath := cfg.DBPath
	if dbPath == "" {
		// Default to XDG data directory or home directory, which avoids
		// issues when running from read-only locations.
		dataDir := os.Getenv("XDG_DATA_HOME")
		if dataDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to get home directory")
			}
			dataDir = filepath.Join(home, ".local", "share")
		}
		dbPath = filepath.Join(dataDir, "warden", "warden.db")
	}

	store, err := boltstore.Open(boltstore.Options{
		Path: dbPath,
	})
	if err != nil {
		log.Fatal().Err(err).Str("path", dbPath).Msg("Failed to open database")
	}
	defer store.Close()

	log.Info().Str("path", dbPath).Msg("Database opened")

	actions := store.ActionStore()
	audit := store.AuditStore()

	client, err := platform.NewREST(platform.Options{
		BaseURL: cfg.PlatformURL,
		Token:   cfg.PlatformToken,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize platform client")
	}

	applier := enforce.NewApplier(client, enforce.Options{})

	sinks := []notify.Sink{
		notify.LogSink{},
		notify.AuditSink{Store: audit},
	}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.WebhookURL))
		log.Info().Str("url", cfg.WebhookURL).Msg("Webhook notifications enabled")
	}

	controller := lifecycle.New(actions, applier, clock.System(), sinks, lifecycle.Options{
		TickInterval: cfg.TickInterval,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := controller.Recover(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to recover pending expirations")
	}

	metrics.StartCollector(ctx, metrics.StatsSource{
		SchedulerEntryCount: controller.SchedulerLen,
		StoredActionCount: func() int {
			n, err := actions.Count(ctx)
			if err != nil {
				return -1
			}
			return n
		},
		FailedActionCount: func() int {
			failed, err := actions.ListByStatus(ctx, action.StatusFailed)
			if err != nil {
				return -1
			}
			return len(failed)
		},
	}, time.Minute)

	controller.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: mux,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("Metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()

		controller.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("Daemon exited with error")
	}

	log.Info().Msg("Shutdown complete")
}

func configureLogging(cfg *config.Config) {
	switch cfg.LogLevel {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info", "":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if cfg.LogFormat == "json" {
		// Production: JSON logs
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		// Development: pretty console logs
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}
}
