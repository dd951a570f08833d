package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/mail-ledger/internal/api"
	"github.com/dvloznov/mail-ledger/internal/api/handlers"
	"github.com/dvloznov/mail-ledger/internal/api/ws"
	"github.com/dvloznov/mail-ledger/internal/app"
	"github.com/dvloznov/mail-ledger/internal/config"
	"github.com/dvloznov/mail-ledger/internal/jobs"
	"github.com/dvloznov/mail-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/mail-ledger/internal/logger"
	"github.com/dvloznov/mail-ledger/internal/scheduler"
)

func main() {
	var (
		configFile = flag.String("config", "", "Path to config file (default: ./config.yaml)")
		port       = flag.String("port", "", "HTTP server port (overrides api.port)")
		autostart  = flag.Bool("autostart", false, "Start the scheduler immediately")
	)
	flag.Parse()

	cfg, err := config.Load(config.New(*configFile))
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *port != "" {
		cfg.API.Port = *port
	}

	log := logger.Open(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx := logger.WithContext(context.Background(), log)

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	sched, err := a.Scheduler(log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scheduler")
	}

	// Initialize job infrastructure. The orchestrator is the guard: an accepted
	// job holds the run slot from publish until the handler returns.
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(jobStore, a.Orchestrator)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	jobHandler := func(ctx context.Context, job jobs.Job) error {
		rangeJob, ok := job.(*jobs.SummarizeRangeJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}

		log.Info().
			Str("job_id", rangeJob.JobID).
			Str("start_date", rangeJob.StartDate.String()).
			Str("end_date", rangeJob.EndDate.String()).
			Msg("Processing summarize-range job")

		if err := a.Orchestrator.RunReserved(ctx, rangeJob.Range(), rangeJob.Notify); err != nil {
			log.Error().Err(err).Str("job_id", rangeJob.JobID).Msg("Range run failed")
			return err
		}
		return nil
	}

	if err := jobQueue.Start(workerCtx, jobHandler); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job worker")
	}

	controlHandler := handlers.NewControlHandler(sched, a.Orchestrator, a.Status, jobQueue, cfg.API.RangeMaxDays, cfg.API.StopTimeout, log)
	hub := ws.NewHub(func() interface{} { return controlHandler.Snapshot() }, log)
	controlHandler.SetBroadcaster(hub)
	a.Status.OnChange(hub.Broadcast)
	go hub.Run(workerCtx, cfg.API.PushInterval)

	router := api.NewRouter(api.Handlers{
		Control: controlHandler,
		Ledger:  handlers.NewLedgerHandler(a.Store, log),
		Jobs:    handlers.NewJobsHandler(jobStore, log),
		Status:  hub,
	}, cfg.API.Token, log)

	if *autostart {
		if err := sched.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to start scheduler")
		}
	}

	server := &http.Server{
		Addr:         ":" + cfg.API.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.API.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop producing work before the HTTP side goes away
	if err := sched.Stop(shutdownCtx); err != nil && !errors.Is(err, scheduler.ErrNotRunning) {
		log.Error().Err(err).Msg("Error stopping scheduler")
	}
	a.Orchestrator.Cancel()
	cancelWorker()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
}
