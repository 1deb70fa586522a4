// Package config builds the process configuration once at startup.
//
// Values come from the environment, optionally seeded from a .env file. The
// resulting Config is passed to every component explicitly; nothing below main
// reads the environment on its own.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Development switches logging to the console encoder (APP_ENV=development).
	Development bool

	// Server
	ServerAddr  string
	FrontendDir string

	// LiveKit
	LiveKitURL       string
	LiveKitAPIKey    string
	LiveKitAPISecret string
	AgentName        string

	// Telephony
	OutboundTrunkID       string
	SIPDomain             string
	DefaultTransferNumber string
	SpeakFirst            bool

	// Storage
	TranscriptsDir     string
	TranscriptsJSONDir string
	RecordingsDir      string

	// Dispatch
	BulkConcurrency int
	DispatchTimeout time.Duration

	// Voice providers
	STTProvider  string
	STTModel     string
	STTLanguage  string
	LLMProvider  string
	LLMModel     string
	TTSProvider  string
	TTSModel     string
	TTSVoice     string
	DeepgramKey  string
	GroqKey      string
	OpenAIKey    string
	CartesiaKey  string
	GoogleAPIKey string

	// Optional infrastructure
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	AMQPURL       string
	AMQPExchange  string
}

// Load reads .env (if present) and the environment into a Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config using the given lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		Development: strings.EqualFold(get("APP_ENV", "production"), "development"),

		ServerAddr:  get("SERVER_ADDR", ":8000"),
		FrontendDir: get("FRONTEND_DIR", "frontend/dist"),

		LiveKitURL:       get("LIVEKIT_URL", ""),
		LiveKitAPIKey:    get("LIVEKIT_API_KEY", ""),
		LiveKitAPISecret: get("LIVEKIT_API_SECRET", ""),
		AgentName:        get("AGENT_NAME", "outbound-caller"),

		OutboundTrunkID:       get("OUTBOUND_TRUNK_ID", ""),
		SIPDomain:             get("VOBIZ_SIP_DOMAIN", ""),
		DefaultTransferNumber: get("DEFAULT_TRANSFER_NUMBER", ""),

		TranscriptsDir:     get("TRANSCRIPTS_DIR", "transcripts"),
		TranscriptsJSONDir: get("TRANSCRIPTS_JSON_DIR", "transcripts_json"),
		RecordingsDir:      get("RECORDINGS_DIR", "recordings_audio"),

		STTProvider:  strings.ToLower(get("STT_PROVIDER", "deepgram")),
		STTModel:     get("DEEPGRAM_STT_MODEL", "nova-3"),
		STTLanguage:  get("STT_LANGUAGE", "multi"),
		LLMProvider:  strings.ToLower(get("LLM_PROVIDER", "groq")),
		LLMModel:     get("LLM_MODEL", ""),
		TTSProvider:  strings.ToLower(get("TTS_PROVIDER", "cartesia")),
		TTSModel:     get("TTS_MODEL", ""),
		TTSVoice:     get("TTS_VOICE", ""),
		DeepgramKey:  get("DEEPGRAM_API_KEY", ""),
		GroqKey:      get("GROQ_API_KEY", ""),
		OpenAIKey:    get("OPENAI_API_KEY", ""),
		CartesiaKey:  get("CARTESIA_API_KEY", ""),
		GoogleAPIKey: get("GOOGLE_API_KEY", ""),

		RedisAddr:     get("REDIS_ADDR", ""),
		RedisPassword: get("REDIS_PASSWORD", ""),
		AMQPURL:       get("AMQP_URL", ""),
		AMQPExchange:  get("AMQP_EXCHANGE", "transcript"),
	}

	var err error
	if cfg.SpeakFirst, err = parseBool(get("AGENT_SPEAK_FIRST", "false")); err != nil {
		return nil, fmt.Errorf("AGENT_SPEAK_FIRST: %w", err)
	}
	if cfg.RedisDB, err = strconv.Atoi(get("REDIS_DB", "0")); err != nil {
		return nil, fmt.Errorf("REDIS_DB: %w", err)
	}
	if cfg.BulkConcurrency, err = strconv.Atoi(get("BULK_CALL_CONCURRENCY", "1")); err != nil {
		return nil, fmt.Errorf("BULK_CALL_CONCURRENCY: %w", err)
	}
	if cfg.BulkConcurrency < 1 {
		cfg.BulkConcurrency = 1
	}
	if cfg.DispatchTimeout, err = time.ParseDuration(get("DISPATCH_TIMEOUT", "15s")); err != nil {
		return nil, fmt.Errorf("DISPATCH_TIMEOUT: %w", err)
	}
	return cfg, nil
}

// HasLiveKitCredentials reports whether the platform URL, key and secret are all set.
func (c *Config) HasLiveKitCredentials() bool {
	return c.LiveKitURL != "" && c.LiveKitAPIKey != "" && c.LiveKitAPISecret != ""
}

// ValidateAgent checks the settings the agent worker cannot start without.
func (c *Config) ValidateAgent() error {
	if !c.HasLiveKitCredentials() {
		return errors.New("LIVEKIT_URL, LIVEKIT_API_KEY and LIVEKIT_API_SECRET are required")
	}
	if c.AgentName == "" {
		return errors.New("AGENT_NAME must not be empty")
	}
	return nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}
