package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog"
)

// RemoteClient talks to an OpenAI-compatible chat completions API.
type RemoteClient struct {
	client openai.Client
	opts   Options
	log    zerolog.Logger
}

// NewRemoteClient validates settings and returns a client bound to baseURL (e.g. http://host:8080/v1).
func NewRemoteClient(baseURL, apiKey string, opts Options, log zerolog.Logger) (*RemoteClient, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("NewRemoteClient: base URL is required: %w", ErrConfig)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	return &RemoteClient{
		client: newOpenAIClient(baseURL, apiKey, opts),
		opts:   opts,
		log:    log.With().Str("llm", "remote").Logger(),
	}, nil
}

// Call implements Client.
func (c *RemoteClient) Call(ctx context.Context, messages []Message, schema *Schema) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.opts.Model),
		Messages:    chatMessages(messages),
		Temperature: openai.Float(c.opts.Temperature),
		MaxTokens:   openai.Int(int64(c.opts.MaxTokens)),
		TopP:        openai.Float(c.opts.TopP),
	}
	if schema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   schema.Name,
					Strict: openai.Bool(schema.Strict),
					Schema: schema.Definition,
				},
			},
		}
	}

	completion, err := c.client.Chat.Completions.New(ctx, params, samplingOptions(c.opts)...)
	if err != nil {
		return nil, fmt.Errorf("RemoteClient.Call: %w", err)
	}

	resp := &Response{ID: completion.ID, Model: completion.Model}
	for _, ch := range completion.Choices {
		resp.Choices = append(resp.Choices, Choice{
			Index:        int(ch.Index),
			Message:      &ChoiceMessage{Role: RoleAssistant, Content: ch.Message.Content},
			FinishReason: ch.FinishReason,
		})
	}

	c.log.Debug().Int("choices", len(resp.Choices)).Bool("schema", schema != nil).Msg("chat completion received")
	return resp, nil
}

func chatMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
