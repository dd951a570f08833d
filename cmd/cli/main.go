package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dvloznov/mail-ledger/internal/app"
	"github.com/dvloznov/mail-ledger/internal/config"
	"github.com/dvloznov/mail-ledger/internal/domain"
	"github.com/dvloznov/mail-ledger/internal/logger"
	"github.com/dvloznov/mail-ledger/internal/textfilter"
)

var (
	configFile string
	v          *viper.Viper
	timeNow    = time.Now
)

var rootCmd = &cobra.Command{
	Use:   "mail-ledger",
	Short: "Mail Ledger CLI",
	Long:  "Extracts financial transactions from the inbox and sends daily digests",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v = config.New(configFile)
		return v.BindPFlag("log.level", cmd.Root().PersistentFlags().Lookup("log-level"))
	},
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process mail for a date range or the most recent messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		recent, _ := cmd.Flags().GetBool("recent")
		notify, _ := cmd.Flags().GetBool("notify")
		start, _ := cmd.Flags().GetString("start")
		end, _ := cmd.Flags().GetString("end")

		return withApp(cmd, true, func(ctx context.Context, a *app.App, log zerolog.Logger) error {
			if recent {
				batch, days := a.Config.Processor.BatchSize, a.Config.Processor.DaysBack
				if cmd.Flags().Changed("batch-size") {
					batch, _ = cmd.Flags().GetInt("batch-size")
				}
				if cmd.Flags().Changed("days-back") {
					days, _ = cmd.Flags().GetInt("days-back")
				}
				if err := a.Orchestrator.RunRecent(ctx, batch, days); err != nil {
					return err
				}
			} else {
				r, err := parseRange(start, end)
				if err != nil {
					return err
				}
				if err := a.Orchestrator.RunRange(ctx, r, notify); err != nil {
					return err
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), a.Status.Snapshot().Message)
			return nil
		})
	},
}

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Send the digest of stored transactions for one date",
	RunE: func(cmd *cobra.Command, args []string) error {
		dateStr, _ := cmd.Flags().GetString("date")

		return withApp(cmd, true, func(ctx context.Context, a *app.App, log zerolog.Logger) error {
			date := domain.Today(timeNow())
			if dateStr != "" {
				d, err := civil.ParseDate(dateStr)
				if err != nil {
					return fmt.Errorf("invalid --date %q, expected YYYY-MM-DD", dateStr)
				}
				date = d
			}

			txs, err := a.Store.QueryTransactions(ctx, domain.SingleDay(date))
			if err != nil {
				return err
			}
			summary, err := a.Notifier.SendDailyDigest(ctx, txs, date)
			if summary == nil && err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "No transactions stored for %s.\n", date)
				return nil
			}
			if summary != nil {
				fmt.Fprintln(cmd.OutOrStdout(), summary.SummaryText)
			}
			return err
		})
	},
}

var summariesCmd = &cobra.Command{
	Use:   "summaries",
	Short: "List stored daily summaries",
	RunE: func(cmd *cobra.Command, args []string) error {
		start, _ := cmd.Flags().GetString("start")
		end, _ := cmd.Flags().GetString("end")

		return withApp(cmd, false, func(ctx context.Context, a *app.App, log zerolog.Logger) error {
			r, err := parseRange(start, end)
			if err != nil {
				return err
			}
			summaries, err := a.Store.QuerySummaries(ctx, r)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summaries)
		})
	},
}

var transactionsCmd = &cobra.Command{
	Use:   "transactions",
	Short: "List stored transactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		start, _ := cmd.Flags().GetString("start")
		end, _ := cmd.Flags().GetString("end")

		return withApp(cmd, false, func(ctx context.Context, a *app.App, log zerolog.Logger) error {
			r, err := parseRange(start, end)
			if err != nil {
				return err
			}
			txs, err := a.Store.QueryTransactions(ctx, r)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), txs)
		})
	},
}

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Run the lexical transaction gates over text read from stdin",
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		return printJSON(cmd.OutOrStdout(), classify(string(text)))
	},
}

// Classification is the lexical verdict printed by classify.
type Classification struct {
	BankVocabulary bool `json:"bank_vocabulary"`
	Completed      bool `json:"completed"`
}

func classify(text string) Classification {
	return Classification{
		BankVocabulary: textfilter.IsBankTransaction(text),
		Completed:      textfilter.IsPositiveTransaction(text),
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level")

	runCmd.Flags().String("start", "", "Start date YYYY-MM-DD")
	runCmd.Flags().String("end", "", "End date YYYY-MM-DD (default: start)")
	runCmd.Flags().Bool("notify", false, "Send a digest for every date with transactions")
	runCmd.Flags().Bool("recent", false, "Process the most recent messages instead of a date range")
	runCmd.Flags().Int("batch-size", 0, "Messages to fetch with --recent (default: processor.batch_size)")
	runCmd.Flags().Int("days-back", 0, "Days to look back with --recent (default: processor.days_back)")
	runCmd.MarkFlagsMutuallyExclusive("recent", "start")
	runCmd.MarkFlagsOneRequired("recent", "start")

	digestCmd.Flags().String("date", "", "Date YYYY-MM-DD (default: today)")

	for _, c := range []*cobra.Command{summariesCmd, transactionsCmd} {
		c.Flags().String("start", "", "Start date YYYY-MM-DD")
		c.Flags().String("end", "", "End date YYYY-MM-DD (default: start)")
		_ = c.MarkFlagRequired("start")
	}

	rootCmd.AddCommand(runCmd, digestCmd, summariesCmd, transactionsCmd, classifyCmd)
}

// withApp loads configuration and runs fn against the built application.
// Only the store section is validated when full is false, and a reduced
// App with just the store is built.
func withApp(cmd *cobra.Command, full bool, fn func(ctx context.Context, a *app.App, log zerolog.Logger) error) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	log := logger.Open(cfg.Log.Level, cfg.Log.Format, os.Stderr)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	if !full {
		if err := cfg.ValidateStore(); err != nil {
			return err
		}
		st, err := app.OpenStore(ctx, cfg.Store, log)
		if err != nil {
			return err
		}
		defer st.Close()
		return fn(ctx, &app.App{Config: cfg, Store: st}, log)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a, log)
}

func parseRange(start, end string) (domain.DateRange, error) {
	s, err := civil.ParseDate(start)
	if err != nil {
		return domain.DateRange{}, fmt.Errorf("invalid --start %q, expected YYYY-MM-DD", start)
	}
	e := s
	if end != "" {
		if e, err = civil.ParseDate(end); err != nil {
			return domain.DateRange{}, fmt.Errorf("invalid --end %q, expected YYYY-MM-DD", end)
		}
	}
	r := domain.DateRange{Start: s, End: e}
	if !r.Valid() {
		return r, fmt.Errorf("--start must not be after --end")
	}
	return r, nil
}

func printJSON(w io.Writer, value interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
