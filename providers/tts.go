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
	"github.com/AVVKavvk/livekit-caller/audio"
	"github.com/AVVKavvk/livekit-caller/config"
)

const (
	cartesiaBaseURL      = "https://api.cartesia.ai"
	cartesiaVersion      = "2025-04-16"
	defaultCartesiaModel = "sonic-3"
	defaultCartesiaVoice = "638efaaa-4d0c-442e-b701-3fae16aad012"
	cartesiaSampleRate   = 48000

	defaultOpenAITTSModel = "tts-1"
	defaultOpenAITTSVoice = "alloy"
	openAITTSSampleRate   = 24000
)

// Cartesia synthesizes raw PCM through the /tts/bytes endpoint.
type Cartesia struct {
	apiKey     string
	model      string
	voice      string
	baseURL    string
	httpClient *http.Client
}

func NewCartesia(apiKey, model, voice string) *Cartesia {
	return &Cartesia{
		apiKey:     apiKey,
		model:      orDefault(model, defaultCartesiaModel),
		voice:      orDefault(voice, defaultCartesiaVoice),
		baseURL:    cartesiaBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func newCartesiaFromConfig(_ context.Context, cfg *config.Config) (TTS, error) {
	return NewCartesia(cfg.CartesiaKey, cfg.TTSModel, cfg.TTSVoice), nil
}

func (c *Cartesia) Name() string { return "cartesia" }

type cartesiaRequest struct {
	ModelID    string `json:"model_id"`
	Transcript string `json:"transcript"`
	Voice      struct {
		Mode string `json:"mode"`
		ID   string `json:"id"`
	} `json:"voice"`
	OutputFormat struct {
		Container  string `json:"container"`
		Encoding   string `json:"encoding"`
		SampleRate int    `json:"sample_rate"`
	} `json:"output_format"`
	Language string `json:"language,omitempty"`
}

func (c *Cartesia) Synthesize(ctx context.Context, text string) (Speech, error) {
	var reqBody cartesiaRequest
	reqBody.ModelID = c.model
	reqBody.Transcript = text
	reqBody.Voice.Mode = "id"
	reqBody.Voice.ID = c.voice
	reqBody.OutputFormat.Container = "raw"
	reqBody.OutputFormat.Encoding = "pcm_s16le"
	reqBody.OutputFormat.SampleRate = cartesiaSampleRate
	reqBody.Language = "en"

	headers := map[string]string{
		"Authorization":    "Bearer " + c.apiKey,
		"Cartesia-Version": cartesiaVersion,
	}
	pcm, err := postForAudio(ctx, c.httpClient, "cartesia", c.baseURL+"/tts/bytes", headers, reqBody)
	if err != nil {
		return Speech{}, err
	}
	return Speech{Samples: audio.BytesToInt16(pcm), SampleRate: cartesiaSampleRate}, nil
}

// OpenAITTS synthesizes 24kHz PCM through /audio/speech.
type OpenAITTS struct {
	apiKey     string
	model      string
	voice      string
	baseURL    string
	httpClient *http.Client
}

func NewOpenAITTS(apiKey, model, voice string) *OpenAITTS {
	return &OpenAITTS{
		apiKey:     apiKey,
		model:      orDefault(model, defaultOpenAITTSModel),
		voice:      orDefault(voice, defaultOpenAITTSVoice),
		baseURL:    openAIBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func newOpenAITTSFromConfig(_ context.Context, cfg *config.Config) (TTS, error) {
	return NewOpenAITTS(cfg.OpenAIKey, cfg.TTSModel, cfg.TTSVoice), nil
}

func (o *OpenAITTS) Name() string { return "openai" }

func (o *OpenAITTS) Synthesize(ctx context.Context, text string) (Speech, error) {
	reqBody := map[string]string{
		"model":           o.model,
		"voice":           o.voice,
		"input":           text,
		"response_format": "pcm",
	}
	headers := map[string]string{"Authorization": "Bearer " + o.apiKey}
	pcm, err := postForAudio(ctx, o.httpClient, "openai tts", o.baseURL+"/audio/speech", headers, reqBody)
	if err != nil {
		return Speech{}, err
	}
	return Speech{Samples: audio.BytesToInt16(pcm), SampleRate: openAITTSSampleRate}, nil
}

func postForAudio(ctx context.Context, client *http.Client, name, url string, headers map[string]string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, apperr.Provider(name+" request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return []byte{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return nil, apperr.Provider(name, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody))))
	}
	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Provider(name+" read audio", err)
	}
	return pcm, nil
}
