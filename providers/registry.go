package providers

import (
	"context"
	"fmt"
	"sort"

	"github.com/AVVKavvk/livekit-caller/apperr"
	"github.com/AVVKavvk/livekit-caller/config"
	"github.com/AVVKavvk/livekit-caller/logger"
	"go.uber.org/zap"
)

type (
	STTFactory func(ctx context.Context, cfg *config.Config) (STT, error)
	LLMFactory func(ctx context.Context, cfg *config.Config) (LLM, error)
	TTSFactory func(ctx context.Context, cfg *config.Config) (TTS, error)
)

// Set is one resolved provider per stage.
type Set struct {
	STT STT
	LLM LLM
	TTS TTS
}

type Registry struct {
	stt map[string]STTFactory
	llm map[string]LLMFactory
	tts map[string]TTSFactory
}

// NewRegistry returns a registry with every built-in provider.
func NewRegistry() *Registry {
	r := &Registry{
		stt: map[string]STTFactory{},
		llm: map[string]LLMFactory{},
		tts: map[string]TTSFactory{},
	}
	r.RegisterSTT("deepgram", newDeepgramFromConfig)
	r.RegisterLLM("groq", newGroqFromConfig)
	r.RegisterLLM("openai", newOpenAILLMFromConfig)
	r.RegisterLLM("gemini", newGeminiFromConfig)
	r.RegisterTTS("cartesia", newCartesiaFromConfig)
	r.RegisterTTS("openai", newOpenAITTSFromConfig)
	return r
}

func (r *Registry) RegisterSTT(key string, f STTFactory) { r.stt[key] = f }
func (r *Registry) RegisterLLM(key string, f LLMFactory) { r.llm[key] = f }
func (r *Registry) RegisterTTS(key string, f TTSFactory) { r.tts[key] = f }

// Validate checks that the configured keys are registered and have credentials.
func (r *Registry) Validate(cfg *config.Config) error {
	if _, ok := r.stt[cfg.STTProvider]; !ok {
		return unknown("STT_PROVIDER", cfg.STTProvider, keys(r.stt))
	}
	if _, ok := r.llm[cfg.LLMProvider]; !ok {
		return unknown("LLM_PROVIDER", cfg.LLMProvider, keys(r.llm))
	}
	if _, ok := r.tts[cfg.TTSProvider]; !ok {
		return unknown("TTS_PROVIDER", cfg.TTSProvider, keys(r.tts))
	}
	for _, check := range []struct{ name, provider, key string }{
		{"STT_PROVIDER", cfg.STTProvider, apiKeyFor(cfg, cfg.STTProvider)},
		{"LLM_PROVIDER", cfg.LLMProvider, apiKeyFor(cfg, cfg.LLMProvider)},
		{"TTS_PROVIDER", cfg.TTSProvider, apiKeyFor(cfg, cfg.TTSProvider)},
	} {
		if check.key == "" {
			return apperr.Configuration(fmt.Sprintf("%s=%s needs %s", check.name, check.provider, apiKeyEnv(check.provider)))
		}
	}
	return nil
}

// Build validates cfg and constructs the three providers.
func (r *Registry) Build(ctx context.Context, cfg *config.Config) (Set, error) {
	if err := r.Validate(cfg); err != nil {
		return Set{}, err
	}
	stt, err := r.stt[cfg.STTProvider](ctx, cfg)
	if err != nil {
		return Set{}, err
	}
	llm, err := r.llm[cfg.LLMProvider](ctx, cfg)
	if err != nil {
		return Set{}, err
	}
	tts, err := r.tts[cfg.TTSProvider](ctx, cfg)
	if err != nil {
		return Set{}, err
	}
	logger.Base().Info("voice providers ready",
		zap.String("stt", stt.Name()),
		zap.String("llm", llm.Name()),
		zap.String("tts", tts.Name()))
	return Set{STT: stt, LLM: llm, TTS: tts}, nil
}

func apiKeyFor(cfg *config.Config, provider string) string {
	switch provider {
	case "deepgram":
		return cfg.DeepgramKey
	case "groq":
		return cfg.GroqKey
	case "openai":
		return cfg.OpenAIKey
	case "gemini":
		return cfg.GoogleAPIKey
	case "cartesia":
		return cfg.CartesiaKey
	}
	// Providers registered from outside carry their own credentials.
	return "external"
}

func apiKeyEnv(provider string) string {
	switch provider {
	case "deepgram":
		return "DEEPGRAM_API_KEY"
	case "groq":
		return "GROQ_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "gemini":
		return "GOOGLE_API_KEY"
	case "cartesia":
		return "CARTESIA_API_KEY"
	}
	return "an API key"
}

func unknown(setting, value string, known []string) error {
	return apperr.Configuration(fmt.Sprintf("unknown %s %q, expected one of %v", setting, value, known))
}

func keys[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
