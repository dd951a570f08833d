package llm

import (
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// newOpenAIClient returns an SDK client for an OpenAI-compatible server. Retries
// are disabled: a failed call falls back to the pipeline's sentinel handling.
func newOpenAIClient(baseURL, apiKey string, opts Options) openai.Client {
	reqOpts := []option.RequestOption{
		option.WithBaseURL(strings.TrimRight(baseURL, "/") + "/"),
		option.WithHTTPClient(newHTTPClient(opts.Timeout)),
		option.WithMaxRetries(0),
	}
	if apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(apiKey))
	}
	return openai.NewClient(reqOpts...)
}

// samplingOptions carries the llama.cpp sampling fields the SDK request types do not model.
func samplingOptions(opts Options) []option.RequestOption {
	return []option.RequestOption{option.WithJSONSet("top_k", opts.TopK)}
}
