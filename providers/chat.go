package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AVVKavvk/livekit-caller/apperr"
	"github.com/AVVKavvk/livekit-caller/config"
)

const (
	groqBaseURL   = "https://api.groq.com/openai/v1"
	openAIBaseURL = "https://api.openai.com/v1"

	defaultGroqModel   = "llama-3.1-8b-instant"
	defaultOpenAIModel = "gpt-4o-mini"
)

// ChatCompletions talks to any OpenAI-compatible /chat/completions endpoint.
// Groq and OpenAI differ only by base URL and default model.
type ChatCompletions struct {
	name       string
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

func NewChatCompletions(name, baseURL, apiKey, model string) *ChatCompletions {
	return &ChatCompletions{
		name:       name,
		apiKey:     apiKey,
		model:      model,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func newGroqFromConfig(_ context.Context, cfg *config.Config) (LLM, error) {
	return NewChatCompletions("groq", groqBaseURL, cfg.GroqKey, orDefault(cfg.LLMModel, defaultGroqModel)), nil
}

func newOpenAILLMFromConfig(_ context.Context, cfg *config.Config) (LLM, error) {
	return NewChatCompletions("openai", openAIBaseURL, cfg.OpenAIKey, orDefault(cfg.LLMModel, defaultOpenAIModel)), nil
}

func (c *ChatCompletions) Name() string { return c.name }

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Tools    []chatTool    `json:"tools,omitempty"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type chatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *ChatCompletions) buildRequest(req ChatRequest) chatRequest {
	out := chatRequest{Model: c.model}
	if req.System != "" {
		out.Messages = append(out.Messages, chatMessage{Role: RoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		cm := chatMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID, Name: m.Name}
		for _, tc := range m.ToolCalls {
			call := chatToolCall{ID: tc.ID, Type: "function"}
			call.Function.Name = tc.Name
			args, _ := json.Marshal(tc.Arguments)
			call.Function.Arguments = string(args)
			cm.ToolCalls = append(cm.ToolCalls, call)
		}
		out.Messages = append(out.Messages, cm)
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, chatTool{
			Type:     "function",
			Function: chatFunction{Name: t.Name, Description: t.Description, Parameters: t.jsonSchema()},
		})
	}
	return out
}

func (c *ChatCompletions) Complete(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	body, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return ChatResponse{}, apperr.Provider(c.name+" request", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return ChatResponse{}, apperr.Provider(c.name+" read response", err)
	}
	if resp.StatusCode >= 400 {
		return ChatResponse{}, apperr.Provider(c.name, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return ChatResponse{}, apperr.Provider(c.name+" decode response", err)
	}
	if parsed.Error != nil {
		return ChatResponse{}, apperr.Provider(c.name, fmt.Errorf("%s", parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return ChatResponse{}, apperr.Provider(c.name, fmt.Errorf("no choices in response"))
	}

	msg := parsed.Choices[0].Message
	out := ChatResponse{Text: msg.Content}
	for _, tc := range msg.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				args = map[string]any{}
			}
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return out, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
