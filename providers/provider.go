// Package providers builds the speech-to-text, language model and text-to-speech
// clients used by the voice pipeline.
//
// Providers are selected by key (STT_PROVIDER, LLM_PROVIDER, TTS_PROVIDER) through a
// Registry. Unknown keys and missing credentials are reported when the registry is
// validated at startup, not when the first call arrives.
package providers

import (
	"context"
)

// Transcript is one recognition result from a streaming STT session.
type Transcript struct {
	Text string
	// Final marks text that will not be revised.
	Final bool
	// EndOfTurn marks the end of the speaker's utterance.
	EndOfTurn bool
}

type STTStream interface {
	Send(samples []int16, sampleRate int) error
	Results() <-chan Transcript
	Close() error
}

type STT interface {
	Name() string
	Stream(ctx context.Context) (STTStream, error)
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a model-facing chat turn, including tool traffic.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	Name       string
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// StringArg returns a string argument, or "" when absent.
func (c ToolCall) StringArg(name string) string {
	if v, ok := c.Arguments[name].(string); ok {
		return v
	}
	return ""
}

type ToolParam struct {
	Name        string
	Description string
	Required    bool
}

// Tool declares a function the model may call. All parameters are strings.
type Tool struct {
	Name        string
	Description string
	Params      []ToolParam
}

func (t Tool) jsonSchema() map[string]any {
	props := map[string]any{}
	required := []string{}
	for _, p := range t.Params {
		props[p.Name] = map[string]any{"type": "string", "description": p.Description}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{"type": "object", "properties": props, "required": required}
}

type ChatRequest struct {
	System   string
	Messages []Message
	Tools    []Tool
}

type ChatResponse struct {
	Text      string
	ToolCalls []ToolCall
}

type LLM interface {
	Name() string
	Complete(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// Speech is mono PCM16 audio.
type Speech struct {
	Samples    []int16
	SampleRate int
}

type TTS interface {
	Name() string
	Synthesize(ctx context.Context, text string) (Speech, error)
}
