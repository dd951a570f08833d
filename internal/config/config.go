package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrMissing is wrapped by Validate for every required value that is absent.
var ErrMissing = errors.New("missing required configuration")

// Config is the full runtime configuration of the service and its tools.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Mail      MailConfig      `mapstructure:"mail"`
	Store     StoreConfig     `mapstructure:"store"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Processor ProcessorConfig `mapstructure:"processor"`
	API       APIConfig       `mapstructure:"api"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console | json
}

// LLMConfig selects and tunes the language-model backend.
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"` // remote | local | gemini
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	ModelPath   string        `mapstructure:"model_path"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	TopK        int           `mapstructure:"top_k"`
	TopP        float64       `mapstructure:"top_p"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type PipelineConfig struct {
	// LLMPrefilter enables the potential-transaction model gate after the lexical gate.
	LLMPrefilter bool `mapstructure:"llm_prefilter"`
}

// MailConfig selects the mail source and its pre-filter.
type MailConfig struct {
	Source          string        `mapstructure:"source"` // gmail | imap
	Address         string        `mapstructure:"address"`
	Password        string        `mapstructure:"password"`
	IMAPServer      string        `mapstructure:"imap_server"`
	IMAPPort        int           `mapstructure:"imap_port"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	TokenFile       string        `mapstructure:"token_file"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxPerDay       int           `mapstructure:"max_per_day"`
	BlockedSenders  []string      `mapstructure:"blocked_senders"`
	BlockedLabels   []string      `mapstructure:"blocked_labels"`
}

// StoreConfig selects the transaction store backend.
type StoreConfig struct {
	Driver      string `mapstructure:"driver"` // postgres | bigquery | memory
	DatabaseURL string `mapstructure:"database_url"`
	ProjectID   string `mapstructure:"project_id"`
	Dataset     string `mapstructure:"dataset"`
}

// NotifyConfig enables digest delivery channels; a channel is on when its key fields are set.
type NotifyConfig struct {
	SMTPServer       string `mapstructure:"smtp_server"`
	SMTPPort         int    `mapstructure:"smtp_port"`
	SMTPUser         string `mapstructure:"smtp_user"`
	SMTPPassword     string `mapstructure:"smtp_password"`
	From             string `mapstructure:"from"`
	To               string `mapstructure:"to"`
	TelegramToken    string `mapstructure:"telegram_token"`
	TelegramChatID   int64  `mapstructure:"telegram_chat_id"`
	NotionToken      string `mapstructure:"notion_token"`
	NotionDigestDB   string `mapstructure:"notion_digest_db"`
	NotionTransactDB string `mapstructure:"notion_transactions_db"`
	ArchiveBucket    string `mapstructure:"archive_bucket"`
	ArchivePrefix    string `mapstructure:"archive_prefix"`
}

// ScheduleConfig is the initial periodic schedule; the API may replace it at runtime.
type ScheduleConfig struct {
	IntervalMinutes int           `mapstructure:"interval_minutes"`
	StartTime       string        `mapstructure:"start_time"`
	EndTime         string        `mapstructure:"end_time"`
	SummaryTime     string        `mapstructure:"summary_time"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
}

type ProcessorConfig struct {
	BatchSize int `mapstructure:"batch_size"`
	DaysBack  int `mapstructure:"days_back"`
}

type APIConfig struct {
	Port         string        `mapstructure:"port"`
	RangeMaxDays int           `mapstructure:"range_max_days"`
	PushInterval time.Duration `mapstructure:"push_interval"`
	StopTimeout  time.Duration `mapstructure:"stop_timeout"`
	// Token, when set, is required as a bearer token on every API request.
	Token string `mapstructure:"token"`
}

// SetDefaults registers the default value of every key on v. Keys without a
// meaningful default are registered empty so AutomaticEnv can still populate them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("llm.provider", "remote")
	v.SetDefault("llm.base_url", "http://localhost:8080/v1")
	v.SetDefault("llm.model", "gpt-3.5-turbo")
	v.SetDefault("llm.temperature", 0.25)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.top_k", 40)
	v.SetDefault("llm.top_p", 0.38)
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model_path", "")

	v.SetDefault("pipeline.llm_prefilter", false)

	v.SetDefault("mail.source", "gmail")
	v.SetDefault("mail.address", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.credentials_file", "")
	v.SetDefault("mail.imap_server", "imap.gmail.com")
	v.SetDefault("mail.imap_port", 993)
	v.SetDefault("mail.token_file", "token.json")
	v.SetDefault("mail.timeout", 30*time.Second)
	v.SetDefault("mail.max_per_day", 200)
	v.SetDefault("mail.blocked_senders", []string{
		"facebookmail.com",
		"linkedin.com",
		"twitter.com",
		"x.com",
		"instagram.com",
		"noreply@medium.com",
		"quora.com",
		"pinterest.com",
	})
	v.SetDefault("mail.blocked_labels", []string{"CATEGORY_SOCIAL", "CATEGORY_PROMOTIONS"})

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.dataset", "mail_ledger")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.project_id", "")

	v.SetDefault("notify.smtp_server", "smtp.gmail.com")
	v.SetDefault("notify.smtp_port", 587)
	v.SetDefault("notify.archive_prefix", "digests")
	for _, key := range []string{
		"smtp_user", "smtp_password", "from", "to",
		"telegram_token", "notion_token", "notion_digest_db",
		"notion_transactions_db", "archive_bucket",
	} {
		v.SetDefault("notify."+key, "")
	}
	v.SetDefault("notify.telegram_chat_id", 0)

	v.SetDefault("schedule.interval_minutes", 30)
	v.SetDefault("schedule.start_time", "")
	v.SetDefault("schedule.end_time", "")
	v.SetDefault("schedule.summary_time", "23:00")
	v.SetDefault("schedule.poll_interval", time.Second)

	v.SetDefault("processor.batch_size", 20)
	v.SetDefault("processor.days_back", 0)

	v.SetDefault("api.port", "8080")
	v.SetDefault("api.range_max_days", 7)
	v.SetDefault("api.push_interval", time.Second)
	v.SetDefault("api.stop_timeout", 5*time.Second)
	v.SetDefault("api.token", "")
}

// New returns a viper instance wired with defaults, config file search paths and env overrides.
// Environment variables use the MAIL_LEDGER_ prefix with dots replaced by underscores,
// e.g. MAIL_LEDGER_LLM_API_KEY.
func New(configFile string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.mail-ledger")
	}

	v.SetEnvPrefix("mail_ledger")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file and decodes everything into a Config.
// A missing config file is not an error; a malformed one is.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && v.ConfigFileUsed() != "" {
			return nil, fmt.Errorf("Load: reading config file %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("Load: decoding config: %w", err)
	}
	return &cfg, nil
}

// Validate reports required values that are missing for the selected backends.
func (c *Config) Validate() error {
	var errs []error
	missing := func(key string) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrMissing, key))
	}

	switch c.LLM.Provider {
	case "remote":
		if c.LLM.BaseURL == "" {
			missing("llm.base_url")
		}
	case "local":
		if c.LLM.ModelPath == "" {
			missing("llm.model_path")
		}
	case "gemini":
		if c.LLM.APIKey == "" {
			missing("llm.api_key")
		}
	default:
		errs = append(errs, fmt.Errorf("unknown llm.provider %q", c.LLM.Provider))
	}

	switch c.Mail.Source {
	case "gmail":
		if c.Mail.CredentialsFile == "" {
			missing("mail.credentials_file")
		}
	case "imap":
		if c.Mail.Address == "" {
			missing("mail.address")
		}
		if c.Mail.Password == "" {
			missing("mail.password")
		}
	default:
		errs = append(errs, fmt.Errorf("unknown mail.source %q", c.Mail.Source))
	}

	errs = append(errs, c.validateStore()...)

	if _, err := time.Parse("15:04", c.Schedule.SummaryTime); err != nil {
		errs = append(errs, fmt.Errorf("schedule.summary_time %q is not HH:MM", c.Schedule.SummaryTime))
	}
	if c.Schedule.IntervalMinutes <= 0 {
		errs = append(errs, fmt.Errorf("schedule.interval_minutes must be positive"))
	}

	return errors.Join(errs...)
}

// ValidateStore checks only the store section, for tools that touch nothing else.
func (c *Config) ValidateStore() error {
	return errors.Join(c.validateStore()...)
}

func (c *Config) validateStore() []error {
	var errs []error
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissing, "store.database_url"))
		}
	case "bigquery":
		if c.Store.ProjectID == "" {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissing, "store.project_id"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	return errs
}
