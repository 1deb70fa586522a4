package providers

import (
	"context"

	"github.com/AVVKavvk/livekit-caller/apperr"
	"github.com/AVVKavvk/livekit-caller/config"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// Gemini runs chat turns through the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, apperr.Provider("gemini client", err)
	}
	return &Gemini{client: client, model: orDefault(model, defaultGeminiModel)}, nil
}

func newGeminiFromConfig(ctx context.Context, cfg *config.Config) (LLM, error) {
	return NewGemini(ctx, cfg.GoogleAPIKey, cfg.LLMModel)
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Complete(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, geminiDeclaration(t))
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, geminiContents(req.Messages), cfg)
	if err != nil {
		return ChatResponse{}, apperr.Provider("gemini generate", err)
	}

	out := ChatResponse{Text: resp.Text()}
	for _, fc := range resp.FunctionCalls() {
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: fc.ID, Name: fc.Name, Arguments: fc.Args})
	}
	return out, nil
}

func geminiDeclaration(t Tool) *genai.FunctionDeclaration {
	schema := &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}}
	for _, p := range t.Params {
		schema.Properties[p.Name] = &genai.Schema{Type: genai.TypeString, Description: p.Description}
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	return &genai.FunctionDeclaration{Name: t.Name, Description: t.Description, Parameters: schema}
}

func geminiContents(messages []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleAssistant:
			parts := []*genai.Part{}
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: tc.Arguments}})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: string(genai.RoleModel), Parts: parts})
			}
		case RoleTool:
			contents = append(contents, &genai.Content{Role: string(genai.RoleUser), Parts: []*genai.Part{{
				FunctionResponse: &genai.FunctionResponse{
					ID:       m.ToolCallID,
					Name:     m.Name,
					Response: map[string]any{"output": m.Content},
				},
			}}})
		case RoleSystem:
			// carried in SystemInstruction
		default:
			contents = append(contents, &genai.Content{Role: string(genai.RoleUser), Parts: []*genai.Part{{Text: m.Content}}})
		}
	}
	return contents
}
