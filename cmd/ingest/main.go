package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dvloznov/mail-ledger/internal/app"
	"github.com/dvloznov/mail-ledger/internal/config"
	"github.com/dvloznov/mail-ledger/internal/domain"
	"github.com/dvloznov/mail-ledger/internal/gcsarchive"
	"github.com/dvloznov/mail-ledger/internal/llm"
	"github.com/dvloznov/mail-ledger/internal/logger"
	"github.com/dvloznov/mail-ledger/internal/mailsource"
	"github.com/dvloznov/mail-ledger/internal/pipeline"
)

// ingest replays exported .eml files through the extraction pipeline.
func main() {
	var (
		configFile = flag.String("config", "", "Path to config file (default: ./config.yaml)")
		path       = flag.String("path", "", "Directory or gs:// prefix holding .eml files")
		timeout    = flag.Duration("timeout", 30*time.Minute, "Overall timeout")
	)
	flag.Parse()

	cfg, err := config.Load(config.New(*configFile))
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.Open(cfg.Log.Level, cfg.Log.Format, os.Stdout)

	if *path == "" {
		log.Fatal().Msg("Error: --path is required")
	}
	if err := cfg.ValidateStore(); err != nil {
		log.Fatal().Err(err).Msg("Invalid store configuration")
	}

	// Create context with timeout so the run doesn't hang
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	st, err := app.OpenStore(ctx, cfg.Store, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer st.Close()

	client, err := llm.NewClient(ctx, cfg.LLM, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create LLM client")
	}

	var objects gcsarchive.ObjectStore
	if strings.HasPrefix(*path, "gs://") {
		gcs, err := gcsarchive.NewClient(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create storage client")
		}
		defer gcs.Close()
		objects = gcs
	}

	source, err := mailsource.NewFileSource(*path, objects, mailsource.NewFilter(cfg.Mail.BlockedSenders, cfg.Mail.BlockedLabels), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create file source")
	}

	msgs, err := source.All(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read messages")
	}

	log.Info().Str("path", *path).Int("messages", len(msgs)).Msg("Starting ingestion")

	processor := pipeline.NewProcessor(client, st, pipeline.Options{LLMPrefilter: cfg.Pipeline.LLMPrefilter}, log)
	txs, err := processor.ProcessMessages(ctx, msgs, func(processed, total int, msg domain.RawMessage) {
		log.Debug().Int("processed", processed).Int("total", total).Str("subject", msg.Subject).Msg("Message processed")
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Ingestion failed")
	}

	fmt.Printf("Ingestion completed: %d transactions from %d messages.\n", len(txs), len(msgs))
}
