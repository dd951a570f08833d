package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured for the gemini provider.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiClient adapts the Gemini API to the chat-completion shaped Client.
type GeminiClient struct {
	client *genai.Client
	opts   Options
	log    zerolog.Logger
}

// NewGeminiClient creates a Gemini API client. An API key is required.
func NewGeminiClient(ctx context.Context, apiKey string, opts Options, log zerolog.Logger) (*GeminiClient, error) {
	return newGeminiClient(ctx, apiKey, "", opts, log)
}

// newGeminiClient allows pointing the client at another endpoint; an empty
// baseURL keeps the SDK default.
func newGeminiClient(ctx context.Context, apiKey, baseURL string, opts Options, log zerolog.Logger) (*GeminiClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("NewGeminiClient: API key is required: %w", ErrConfig)
	}
	if opts.Model == "" || strings.HasPrefix(opts.Model, "gpt-") {
		opts.Model = DefaultGeminiModel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1beta", BaseURL: baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiClient: create genai client: %w", err)
	}

	return &GeminiClient{
		client: client,
		opts:   opts,
		log:    log.With().Str("llm", "gemini").Logger(),
	}, nil
}

// Call implements Client. System messages become the system instruction;
// a schema constrains the output to JSON matching its definition. Every call
// is bounded by the configured timeout.
func (c *GeminiClient) Call(ctx context.Context, messages []Message, schema *Schema) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	system, contents := splitGeminiContents(messages)

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(c.opts.Temperature)),
		TopP:        genai.Ptr(float32(c.opts.TopP)),
		TopK:        genai.Ptr(float32(c.opts.TopK)),
	}
	if c.opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(c.opts.MaxTokens)
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if schema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseJsonSchema = schema.Definition
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.opts.Model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("GeminiClient.Call: generate content: %w", err)
	}

	text := resp.Text()
	c.log.Debug().Int("chars", len(text)).Msg("gemini content received")

	return &Response{
		Model: c.opts.Model,
		Choices: []Choice{{
			Message: &ChoiceMessage{Role: RoleAssistant, Content: text},
		}},
	}, nil
}

func splitGeminiContents(messages []Message) (string, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: m.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		}
	}
	return strings.Join(system, "\n\n"), contents
}
