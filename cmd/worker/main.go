package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/mail-ledger/internal/app"
	"github.com/dvloznov/mail-ledger/internal/config"
	"github.com/dvloznov/mail-ledger/internal/logger"
)

// worker runs the periodic scheduler without the HTTP surface.
func main() {
	configFile := flag.String("config", "", "Path to config file (default: ./config.yaml)")
	flag.Parse()

	cfg, err := config.Load(config.New(*configFile))
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.Open(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	sched, err := a.Scheduler(log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scheduler")
	}

	log.Info().Msg("Starting worker service")

	if err := sched.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}

	log.Info().
		Int("interval_minutes", cfg.Schedule.IntervalMinutes).
		Str("summary_time", cfg.Schedule.SummaryTime).
		Msg("Worker service started, waiting for schedule...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	a.Orchestrator.Cancel()
	if err := sched.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	log.Info().Msg("Worker service exited")
}
