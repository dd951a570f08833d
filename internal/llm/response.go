package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Response is the chat-completion shaped reply every backend returns.
type Response struct {
	ID      string   `json:"id,omitempty"`
	Model   string   `json:"model,omitempty"`
	Choices []Choice `json:"choices"`
}

// Choice holds either a chat message or completion text.
type Choice struct {
	Index        int            `json:"index"`
	Message      *ChoiceMessage `json:"message,omitempty"`
	Text         string         `json:"text,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty"`
}

// ChoiceMessage is the chat-style payload of a choice.
type ChoiceMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

var (
	// ErrNoChoices means the response carried no choices at all.
	ErrNoChoices = errors.New("llm: response has no choices")
	// ErrNoContent means the first choice had neither message content nor text.
	ErrNoContent = errors.New("llm: response choice has no content")
)

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// ExtractContent returns the text of the first choice, preferring
// choices[0].message.content and falling back to choices[0].text.
func ExtractContent(resp *Response) (string, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	choice := resp.Choices[0]
	content := ""
	if choice.Message != nil {
		content = choice.Message.Content
	}
	if content == "" {
		content = choice.Text
	}
	if strings.TrimSpace(content) == "" {
		return "", ErrNoContent
	}
	return content, nil
}

// StripThinking removes <think>...</think> reasoning blocks.
func StripThinking(s string) string {
	return strings.TrimSpace(thinkBlock.ReplaceAllString(s, ""))
}

// CleanJSON strips Markdown fences and any chatter around the outermost JSON object or array.
func CleanJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		// Drop the opening fence line (``` or ```json).
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	start := strings.IndexAny(s, "{[")
	if start == -1 {
		return s
	}
	closer := "}"
	if s[start] == '[' {
		closer = "]"
	}
	if end := strings.LastIndex(s, closer); end > start {
		s = s[start : end+1]
	}
	return strings.TrimSpace(s)
}

// Text returns the first choice's content with reasoning blocks removed.
func Text(resp *Response) (string, error) {
	content, err := ExtractContent(resp)
	if err != nil {
		return "", err
	}
	text := StripThinking(content)
	if text == "" {
		return "", ErrNoContent
	}
	return text, nil
}

// DecodeJSON extracts, cleans and unmarshals the first choice into v.
func DecodeJSON(resp *Response, v any) error {
	text, err := Text(resp)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(CleanJSON(text)), v); err != nil {
		return fmt.Errorf("DecodeJSON: unmarshal model output: %w", err)
	}
	return nil
}
