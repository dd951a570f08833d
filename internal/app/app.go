// Package app builds the runtime graph shared by the binaries from a loaded Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/mail-ledger/internal/config"
	"github.com/dvloznov/mail-ledger/internal/domain"
	"github.com/dvloznov/mail-ledger/internal/gcsarchive"
	"github.com/dvloznov/mail-ledger/internal/llm"
	"github.com/dvloznov/mail-ledger/internal/mailsource"
	"github.com/dvloznov/mail-ledger/internal/notifier"
	"github.com/dvloznov/mail-ledger/internal/notionsync"
	"github.com/dvloznov/mail-ledger/internal/orchestrator"
	"github.com/dvloznov/mail-ledger/internal/pipeline"
	"github.com/dvloznov/mail-ledger/internal/scheduler"
	"github.com/dvloznov/mail-ledger/internal/store"
	"github.com/dvloznov/mail-ledger/internal/store/bigquery"
	"github.com/dvloznov/mail-ledger/internal/store/memory"
	"github.com/dvloznov/mail-ledger/internal/store/postgres"
)

// App holds the long-lived components of a process.
type App struct {
	Config       *config.Config
	Store        store.Store
	LLM          llm.Client
	Mail         mailsource.Source
	Processor    *pipeline.Processor
	Notifier     *notifier.Notifier
	Status       *orchestrator.StatusTracker
	Orchestrator *orchestrator.Orchestrator

	closers []func() error
}

// Build wires every component from cfg. The caller must Close the App.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg}

	st, err := OpenStore(ctx, cfg.Store, log)
	if err != nil {
		return nil, err
	}
	a.Store = st
	a.closers = append(a.closers, st.Close)

	a.LLM, err = llm.NewClient(ctx, cfg.LLM, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("Build: %w", err)
	}

	a.Mail, err = NewMailSource(ctx, cfg.Mail, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	deliverers, err := a.deliverers(ctx, cfg.Notify, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Processor = pipeline.NewProcessor(a.LLM, a.Store, pipeline.Options{LLMPrefilter: cfg.Pipeline.LLMPrefilter}, log)
	a.Notifier = notifier.New(a.Store, log, deliverers...)
	a.Status = orchestrator.NewStatusTracker()
	a.Orchestrator = orchestrator.New(a.Mail, a.Processor, a.Notifier, a.Status, log)

	log.Info().
		Str("store", cfg.Store.Driver).
		Str("llm", cfg.LLM.Provider).
		Str("mail", cfg.Mail.Source).
		Strs("channels", a.Notifier.Channels()).
		Msg("Application initialized")

	return a, nil
}

// Scheduler creates a scheduler driving a.Orchestrator with the configured schedule.
func (a *App) Scheduler(log zerolog.Logger) (*scheduler.Scheduler, error) {
	sched, summaryAt, err := ScheduleFromConfig(a.Config.Schedule)
	if err != nil {
		return nil, err
	}
	return scheduler.New(
		a.Orchestrator,
		scheduler.StoredDigest(a.Store, a.Notifier),
		a.Status,
		sched,
		scheduler.Options{PollInterval: a.Config.Schedule.PollInterval, SummaryTime: summaryAt},
		log,
	)
}

// Close releases every opened resource in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// OpenStore connects the configured store driver.
func OpenStore(ctx context.Context, cfg config.StoreConfig, log zerolog.Logger) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		st, err := postgres.New(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, fmt.Errorf("OpenStore: %w", err)
		}
		return st, nil
	case "bigquery":
		st, err := bigquery.New(ctx, cfg.ProjectID, cfg.Dataset, log)
		if err != nil {
			return nil, fmt.Errorf("OpenStore: %w", err)
		}
		return st, nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("OpenStore: unknown store driver %q", cfg.Driver)
	}
}

// NewMailSource creates the configured inbox source.
func NewMailSource(ctx context.Context, cfg config.MailConfig, log zerolog.Logger) (mailsource.Source, error) {
	filter := mailsource.NewFilter(cfg.BlockedSenders, cfg.BlockedLabels)

	switch cfg.Source {
	case "gmail":
		src, err := mailsource.NewGmailSource(ctx, cfg.CredentialsFile, cfg.TokenFile, filter, cfg.MaxPerDay, log)
		if err != nil {
			return nil, fmt.Errorf("NewMailSource: %w", err)
		}
		return src, nil
	case "imap":
		src, err := mailsource.NewIMAPSource(mailsource.IMAPConfig{
			Server:   cfg.IMAPServer,
			Port:     cfg.IMAPPort,
			Address:  cfg.Address,
			Password: cfg.Password,
			Timeout:  cfg.Timeout,
		}, filter, cfg.MaxPerDay, log)
		if err != nil {
			return nil, fmt.Errorf("NewMailSource: %w", err)
		}
		return src, nil
	default:
		return nil, fmt.Errorf("NewMailSource: unknown mail source %q", cfg.Source)
	}
}

// deliverers enables every channel whose key settings are present.
func (a *App) deliverers(ctx context.Context, cfg config.NotifyConfig, log zerolog.Logger) ([]notifier.Deliverer, error) {
	var out []notifier.Deliverer

	if cfg.SMTPUser != "" && cfg.To != "" {
		from := cfg.From
		if from == "" {
			from = cfg.SMTPUser
		}
		d, err := notifier.NewSMTPDeliverer(cfg.SMTPServer, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, from, cfg.To)
		if err != nil {
			return nil, fmt.Errorf("deliverers: %w", err)
		}
		out = append(out, d)
	}

	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		d, err := notifier.NewTelegramDeliverer(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			return nil, fmt.Errorf("deliverers: %w", err)
		}
		out = append(out, d)
	}

	if cfg.NotionToken != "" && cfg.NotionDigestDB != "" {
		out = append(out, notifier.NewNotionDeliverer(notionsync.NewNotionClient(cfg.NotionToken), cfg.NotionDigestDB))
	}

	if cfg.ArchiveBucket != "" {
		objects, err := gcsarchive.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("deliverers: %w", err)
		}
		a.closers = append(a.closers, objects.Close)
		out = append(out, notifier.NewArchiveDeliverer(objects, cfg.ArchiveBucket, cfg.ArchivePrefix))
	}

	if len(out) == 0 {
		log.Warn().Msg("No notification channels configured, digests will only be stored")
	}
	return out, nil
}

// ScheduleFromConfig converts the configured schedule and digest time.
func ScheduleFromConfig(cfg config.ScheduleConfig) (domain.ScheduleConfig, *domain.TimeOfDay, error) {
	sched := domain.ScheduleConfig{Interval: time.Duration(cfg.IntervalMinutes) * time.Minute}

	parse := func(key, value string) (*domain.TimeOfDay, error) {
		if value == "" {
			return nil, nil
		}
		t, err := domain.ParseTimeOfDay(value)
		if err != nil {
			return nil, fmt.Errorf("ScheduleFromConfig: schedule.%s: %w", key, err)
		}
		return &t, nil
	}

	var err error
	if sched.StartTime, err = parse("start_time", cfg.StartTime); err != nil {
		return sched, nil, err
	}
	if sched.EndTime, err = parse("end_time", cfg.EndTime); err != nil {
		return sched, nil, err
	}
	summaryAt, err := parse("summary_time", cfg.SummaryTime)
	if err != nil {
		return sched, nil, err
	}
	if err := sched.Validate(); err != nil {
		return sched, nil, fmt.Errorf("ScheduleFromConfig: %w", err)
	}
	return sched, summaryAt, nil
}
