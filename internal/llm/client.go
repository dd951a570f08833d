// Package llm provides the language-model capability used by the extraction pipeline.
// Every backend returns the same chat-completion shaped Response; ExtractContent
// is the single place that knows about the two result shapes.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/mail-ledger/internal/config"
)

// Roles used in prompts.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role/content turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Schema constrains the model output to a JSON schema.
type Schema struct {
	Name       string
	Strict     bool
	Definition map[string]any
}

// Client is the language-model capability.
type Client interface {
	// Call sends ordered messages with an optional response schema and returns the raw response.
	Call(ctx context.Context, messages []Message, schema *Schema) (*Response, error)
}

// Options carries sampling and transport settings shared by the HTTP backends.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	TopK        int
	TopP        float64
	Timeout     time.Duration
}

// DefaultOptions mirrors the sampling parameters the prompts were tuned with.
func DefaultOptions() Options {
	return Options{
		Temperature: 0.25,
		MaxTokens:   1024,
		TopK:        40,
		TopP:        0.38,
		Timeout:     30 * time.Second,
	}
}

// ErrConfig is returned by constructors when a required setting is missing.
var ErrConfig = errors.New("llm: invalid configuration")

// NewClient builds the backend selected by cfg.Provider.
func NewClient(ctx context.Context, cfg config.LLMConfig, log zerolog.Logger) (Client, error) {
	opts := Options{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		TopK:        cfg.TopK,
		TopP:        cfg.TopP,
		Timeout:     cfg.Timeout,
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}

	switch cfg.Provider {
	case "remote":
		return NewRemoteClient(cfg.BaseURL, cfg.APIKey, opts, log)
	case "local":
		return NewLocalClient(cfg.BaseURL, cfg.ModelPath, opts, log)
	case "gemini":
		return NewGeminiClient(ctx, cfg.APIKey, opts, log)
	default:
		return nil, fmt.Errorf("NewClient: unknown provider %q: %w", cfg.Provider, ErrConfig)
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
