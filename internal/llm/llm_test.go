package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/mail-ledger/internal/config"
)

func TestExtractContent(t *testing.T) {
	tests := []struct {
		name    string
		resp    *Response
		want    string
		wantErr error
	}{
		{
			name: "chat shape",
			resp: &Response{Choices: []Choice{{Message: &ChoiceMessage{Content: `{"amount": 1}`}}}},
			want: `{"amount": 1}`,
		},
		{
			name: "completion shape",
			resp: &Response{Choices: []Choice{{Text: "summary text"}}},
			want: "summary text",
		},
		{
			name: "empty message falls back to text",
			resp: &Response{Choices: []Choice{{Message: &ChoiceMessage{}, Text: "fallback"}}},
			want: "fallback",
		},
		{name: "nil response", resp: nil, wantErr: ErrNoChoices},
		{name: "no choices", resp: &Response{}, wantErr: ErrNoChoices},
		{name: "blank content", resp: &Response{Choices: []Choice{{Text: "  "}}}, wantErr: ErrNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractContent(tt.resp)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStripThinking(t *testing.T) {
	in := "<think>\nthe user wants JSON\n</think>\n{\"amount\": 67.53}<think>more</think>"
	assert.Equal(t, `{"amount": 67.53}`, StripThinking(in))
}

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"Here you go: {\"a\":1} hope that helps", `{"a":1}`},
		{"[1,2]", "[1,2]"},
		{"no json here", "no json here"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanJSON(tt.in))
	}
}

func TestDecodeJSON(t *testing.T) {
	resp := &Response{Choices: []Choice{{Message: &ChoiceMessage{
		Content: "<think>hmm</think>```json\n{\"is_transaction\": true, \"confidence\": 0.9}\n```",
	}}}}

	var out struct {
		IsTransaction bool    `json:"is_transaction"`
		Confidence    float64 `json:"confidence"`
	}
	require.NoError(t, DecodeJSON(resp, &out))
	assert.True(t, out.IsTransaction)
	assert.Equal(t, 0.9, out.Confidence)

	bad := &Response{Choices: []Choice{{Text: "<think>only thoughts</think>"}}}
	assert.ErrorIs(t, DecodeJSON(bad, &out), ErrNoContent)

	malformed := &Response{Choices: []Choice{{Text: "{not json"}}}
	assert.Error(t, DecodeJSON(malformed, &out))
}

// chatBody and completionBody capture the request fields the backends are expected to send.
type chatBody struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	TopK        int       `json:"top_k"`
	TopP        float64   `json:"top_p"`

	ResponseFormat *struct {
		Type       string `json:"type"`
		JSONSchema struct {
			Name   string         `json:"name"`
			Strict bool           `json:"strict"`
			Schema map[string]any `json:"schema"`
		} `json:"json_schema"`
	} `json:"response_format"`
}

type completionBody struct {
	Model      string         `json:"model"`
	Prompt     string         `json:"prompt"`
	TopK       int            `json:"top_k"`
	Stop       []string       `json:"stop"`
	JSONSchema map[string]any `json:"json_schema"`
}

func TestRemoteClientCall(t *testing.T) {
	var got chatBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"{\"amount\":12.5}"}}]}`))
	}))
	defer srv.Close()

	opts := DefaultOptions()
	opts.Model = "qwen3"
	client, err := NewRemoteClient(srv.URL+"/v1/", "secret", opts, zerolog.Nop())
	require.NoError(t, err)

	schema := &Schema{Name: "FinancialTransaction", Strict: true, Definition: map[string]any{"type": "object"}}
	resp, err := client.Call(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, schema)
	require.NoError(t, err)

	content, err := ExtractContent(resp)
	require.NoError(t, err)
	assert.Equal(t, `{"amount":12.5}`, content)

	assert.Equal(t, "qwen3", got.Model)
	assert.Equal(t, 0.25, got.Temperature)
	assert.Equal(t, 1024, got.MaxTokens)
	assert.Equal(t, 40, got.TopK)
	assert.Equal(t, 0.38, got.TopP)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_schema", got.ResponseFormat.Type)
	assert.Equal(t, "FinancialTransaction", got.ResponseFormat.JSONSchema.Name)
	assert.True(t, got.ResponseFormat.JSONSchema.Strict)
	assert.Equal(t, map[string]any{"type": "object"}, got.ResponseFormat.JSONSchema.Schema)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, Message{Role: RoleUser, Content: "hi"}, got.Messages[0])
}

func TestRemoteClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := NewRemoteClient(srv.URL, "", DefaultOptions(), zerolog.Nop())
	require.NoError(t, err)

	_, err = client.Call(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestRemoteClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	opts := DefaultOptions()
	opts.Timeout = 20 * time.Millisecond
	client, err := NewRemoteClient(srv.URL, "", opts, zerolog.Nop())
	require.NoError(t, err)

	_, err = client.Call(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestLocalClientCall(t *testing.T) {
	var got completionBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"text":" Paid 10 to ACME"}]}`))
	}))
	defer srv.Close()

	client, err := NewLocalClient(srv.URL+"/v1", "/models/qwen.gguf", DefaultOptions(), zerolog.Nop())
	require.NoError(t, err)

	resp, err := client.Call(context.Background(), []Message{
		{Role: RoleSystem, Content: "summarize"},
		{Role: RoleUser, Content: "body"},
	}, nil)
	require.NoError(t, err)

	text, err := Text(resp)
	require.NoError(t, err)
	assert.Equal(t, "Paid 10 to ACME", text)
	assert.Equal(t, "system: summarize\nuser: body", got.Prompt)
	assert.Equal(t, "/models/qwen.gguf", got.Model)
	assert.Equal(t, []string{"\n"}, got.Stop)
	assert.Equal(t, 40, got.TopK)
	assert.Nil(t, got.JSONSchema)
}

func TestLocalClientCall_Schema(t *testing.T) {
	var got completionBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"text":"{\"amount\": 2}"}]}`))
	}))
	defer srv.Close()

	client, err := NewLocalClient(srv.URL+"/v1", "/models/qwen.gguf", DefaultOptions(), zerolog.Nop())
	require.NoError(t, err)

	schema := &Schema{Name: "FinancialTransaction", Definition: map[string]any{"type": "object"}}
	resp, err := client.Call(context.Background(), []Message{{Role: RoleUser, Content: "body"}}, schema)
	require.NoError(t, err)

	var out struct {
		Amount float64 `json:"amount"`
	}
	require.NoError(t, DecodeJSON(resp, &out))
	assert.Equal(t, 2.0, out.Amount)
	assert.Empty(t, got.Stop)
	assert.Equal(t, map[string]any{"type": "object"}, got.JSONSchema)
}

func TestConstructorsRejectMissingConfig(t *testing.T) {
	_, err := NewRemoteClient("", "", DefaultOptions(), zerolog.Nop())
	assert.ErrorIs(t, err, ErrConfig)

	_, err = NewLocalClient("http://localhost:8080/v1", "", DefaultOptions(), zerolog.Nop())
	assert.ErrorIs(t, err, ErrConfig)

	_, err = NewGeminiClient(context.Background(), "", DefaultOptions(), zerolog.Nop())
	assert.ErrorIs(t, err, ErrConfig)

	_, err = NewClient(context.Background(), config.LLMConfig{Provider: "carrier-pigeon"}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrConfig)
}

func TestGeminiClientCall(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "gemini-2.5-flash:generateContent")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"amount\":3.5}"}]}}]}`))
	}))
	defer srv.Close()

	opts := DefaultOptions()
	opts.MaxTokens = 512
	client, err := newGeminiClient(context.Background(), "key", srv.URL, opts, zerolog.Nop())
	require.NoError(t, err)

	schema := &Schema{Name: "FinancialTransaction", Strict: true, Definition: map[string]any{
		"type":     "object",
		"required": []any{"amount"},
	}}
	resp, err := client.Call(context.Background(), []Message{
		{Role: RoleSystem, Content: "extract"},
		{Role: RoleUser, Content: "Paid 3.50"},
	}, schema)
	require.NoError(t, err)

	content, err := ExtractContent(resp)
	require.NoError(t, err)
	assert.Equal(t, `{"amount":3.5}`, content)

	gen, ok := body["generationConfig"].(map[string]any)
	require.True(t, ok, "generationConfig missing from %v", body)
	assert.Equal(t, float64(512), gen["maxOutputTokens"])
	assert.Equal(t, "application/json", gen["responseMimeType"])
	assert.Equal(t, map[string]any{"type": "object", "required": []any{"amount"}}, gen["responseJsonSchema"])
	assert.NotNil(t, body["systemInstruction"])
}

func TestGeminiClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	opts := DefaultOptions()
	opts.Timeout = 50 * time.Millisecond
	client, err := newGeminiClient(context.Background(), "key", srv.URL, opts, zerolog.Nop())
	require.NoError(t, err)

	start := time.Now()
	_, err = client.Call(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
