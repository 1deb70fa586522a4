package config

import (
	"testing"
	"time"
)

func envFrom(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(envFrom(nil))
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.Development {
		t.Fatal("development mode must be opt-in")
	}
	if cfg.AgentName != "outbound-caller" || cfg.BulkConcurrency != 1 || cfg.DispatchTimeout != 15*time.Second {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.HasLiveKitCredentials() || cfg.ValidateAgent() == nil {
		t.Fatal("agent must not validate without LiveKit credentials")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(envFrom(map[string]string{
		"APP_ENV":               "Development",
		"BULK_CALL_CONCURRENCY": "0",
		"AGENT_SPEAK_FIRST":     "yes",
		"LLM_PROVIDER":          "Gemini",
		"LIVEKIT_URL":           "wss://x.livekit.cloud",
		"LIVEKIT_API_KEY":       "key",
		"LIVEKIT_API_SECRET":    "secret",
	}))
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if !cfg.Development || !cfg.SpeakFirst || cfg.LLMProvider != "gemini" {
		t.Fatalf("overrides not applied %+v", cfg)
	}
	if cfg.BulkConcurrency != 1 {
		t.Fatalf("concurrency below one should clamp to one, got %d", cfg.BulkConcurrency)
	}
	if err := cfg.ValidateAgent(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	for key, val := range map[string]string{
		"AGENT_SPEAK_FIRST": "maybe",
		"REDIS_DB":          "one",
		"DISPATCH_TIMEOUT":  "soon",
	} {
		if _, err := FromEnv(envFrom(map[string]string{key: val})); err == nil {
			t.Fatalf("%s=%q should fail", key, val)
		}
	}
}
