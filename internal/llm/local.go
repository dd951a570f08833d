package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"
)

// LocalClient drives a locally hosted llama.cpp server through its completion endpoint.
// Chat messages are flattened into a "role: content" prompt.
type LocalClient struct {
	client    openai.Client
	modelPath string
	opts      Options
	log       zerolog.Logger
}

// NewLocalClient requires the model path the server was started with.
func NewLocalClient(baseURL, modelPath string, opts Options, log zerolog.Logger) (*LocalClient, error) {
	if strings.TrimSpace(modelPath) == "" {
		return nil, fmt.Errorf("NewLocalClient: model path is required: %w", ErrConfig)
	}
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("NewLocalClient: server URL is required: %w", ErrConfig)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	return &LocalClient{
		client:    newOpenAIClient(baseURL, "", opts),
		modelPath: modelPath,
		opts:      opts,
		log:       log.With().Str("llm", "local").Logger(),
	}, nil
}

// FlattenPrompt joins messages as "role: content" lines.
func FlattenPrompt(messages []Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, m.Role+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

// Call implements Client. Free-text calls stop at the first newline; schema calls
// hand the schema to the server's grammar sampler instead.
func (c *LocalClient) Call(ctx context.Context, messages []Message, schema *Schema) (*Response, error) {
	params := openai.CompletionNewParams{
		Model:       openai.CompletionNewParamsModel(c.modelPath),
		Prompt:      openai.CompletionNewParamsPromptUnion{OfString: openai.String(FlattenPrompt(messages))},
		MaxTokens:   openai.Int(int64(c.opts.MaxTokens)),
		Temperature: openai.Float(c.opts.Temperature),
		TopP:        openai.Float(c.opts.TopP),
	}
	extra := samplingOptions(c.opts)
	if schema != nil {
		extra = append(extra, option.WithJSONSet("json_schema", schema.Definition))
	} else {
		params.Stop = openai.CompletionNewParamsStopUnion{OfStringArray: []string{"\n"}}
	}

	completion, err := c.client.Completions.New(ctx, params, extra...)
	if err != nil {
		return nil, fmt.Errorf("LocalClient.Call: %w", err)
	}

	resp := &Response{ID: completion.ID, Model: completion.Model}
	for _, ch := range completion.Choices {
		resp.Choices = append(resp.Choices, Choice{
			Index:        int(ch.Index),
			Text:         ch.Text,
			FinishReason: string(ch.FinishReason),
		})
	}

	c.log.Debug().Int("choices", len(resp.Choices)).Msg("completion received")
	return resp, nil
}
