package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AVVKavvk/livekit-caller/apperr"
	"github.com/AVVKavvk/livekit-caller/config"
	"github.com/gorilla/websocket"
)

func testConfig() *config.Config {
	return &config.Config{
		STTProvider: "deepgram",
		LLMProvider: "groq",
		TTSProvider: "cartesia",
		DeepgramKey: "dg",
		GroqKey:     "gq",
		CartesiaKey: "ct",
	}
}

func TestRegistryValidate(t *testing.T) {
	r := NewRegistry()
	if err := r.Validate(testConfig()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := map[string]func(*config.Config){
		"unknown stt":     func(c *config.Config) { c.STTProvider = "whisper" },
		"unknown llm":     func(c *config.Config) { c.LLMProvider = "llama-local" },
		"unknown tts":     func(c *config.Config) { c.TTSProvider = "elevenlabs" },
		"missing llm key": func(c *config.Config) { c.GroqKey = "" },
		"missing tts key": func(c *config.Config) { c.TTSProvider = "openai" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			mutate(cfg)
			if err := r.Validate(cfg); !errors.Is(err, apperr.ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestRegistryBuild(t *testing.T) {
	set, err := NewRegistry().Build(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if set.STT.Name() != "deepgram" || set.LLM.Name() != "groq" || set.TTS.Name() != "cartesia" {
		t.Fatalf("unexpected set %s/%s/%s", set.STT.Name(), set.LLM.Name(), set.TTS.Name())
	}
}

func TestChatCompletionsToolCall(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer gq" {
			t.Errorf("missing auth header")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[
			{"id":"call_1","type":"function","function":{"name":"transfer_call","arguments":"{\"destination\":\"+1999\"}"}}]},
			"finish_reason":"tool_calls"}]}`))
	}))
	defer srv.Close()

	llm := NewChatCompletions("groq", srv.URL, "gq", "llama-3.1-8b-instant")
	resp, err := llm.Complete(context.Background(), ChatRequest{
		System:   "be brief",
		Messages: []Message{{Role: RoleUser, Content: "transfer me"}},
		Tools: []Tool{{
			Name:        "transfer_call",
			Description: "Transfer the call.",
			Params:      []ToolParam{{Name: "destination", Description: "number"}},
		}},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "transfer_call" || resp.ToolCalls[0].StringArg("destination") != "+1999" {
		t.Fatalf("unexpected tool calls %+v", resp.ToolCalls)
	}
	if got.Model != "llama-3.1-8b-instant" || len(got.Messages) != 2 || got.Messages[0].Role != RoleSystem {
		t.Fatalf("unexpected request %+v", got)
	}
	if len(got.Tools) != 1 || got.Tools[0].Function.Parameters["type"] != "object" {
		t.Fatalf("tool schema not sent: %+v", got.Tools)
	}
}

func TestChatCompletionsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewChatCompletions("openai", srv.URL, "k", "m").Complete(context.Background(), ChatRequest{})
	if !errors.Is(err, apperr.ErrProvider) || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected provider error with status, got %v", err)
	}
}

func TestCartesiaSynthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tts/bytes" || r.Header.Get("Cartesia-Version") == "" {
			t.Errorf("unexpected request %s %v", r.URL.Path, r.Header)
		}
		var req cartesiaRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.OutputFormat.Encoding != "pcm_s16le" || req.OutputFormat.SampleRate != cartesiaSampleRate {
			t.Errorf("unexpected output format %+v", req.OutputFormat)
		}
		_, _ = w.Write([]byte{1, 0, 2, 0, 3, 0})
	}))
	defer srv.Close()

	c := NewCartesia("ct", "", "")
	c.baseURL = srv.URL
	speech, err := c.Synthesize(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if speech.SampleRate != cartesiaSampleRate || len(speech.Samples) != 3 || speech.Samples[2] != 3 {
		t.Fatalf("unexpected speech %+v", speech)
	}
}

func TestDeepgramStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan int, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token dg" {
			t.Errorf("missing token header")
		}
		if r.URL.Query().Get("sample_rate") != "16000" || r.URL.Query().Get("model") != "nova-3" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- len(data)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","channel":{"alternatives":[{"transcript":"hello there"}]},"is_final":true,"speech_final":false}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"UtteranceEnd"}`))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	d := NewDeepgram("dg", "nova-3", "multi")
	d.baseURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	stream, err := d.Stream(context.Background())
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer stream.Close()

	if err := stream.Send(make([]int16, 960), 48000); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case n := <-received:
		if n != 640 {
			t.Fatalf("expected 320 samples at 16kHz (640 bytes), got %d bytes", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("audio not received")
	}

	first := <-stream.Results()
	if first.Text != "hello there" || !first.Final || first.EndOfTurn {
		t.Fatalf("unexpected first result %+v", first)
	}
	second := <-stream.Results()
	if !second.EndOfTurn {
		t.Fatalf("expected end of turn, got %+v", second)
	}
}

// silentDeepgram accepts the stream and never reads from it, so client writes back up.
func silentDeepgram(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDeepgramSendFailsWhenPeerStopsReading(t *testing.T) {
	d := NewDeepgram("dg", "nova-3", "multi")
	d.baseURL = silentDeepgram(t)
	d.writeWait = 100 * time.Millisecond
	stream, err := d.Stream(context.Background())
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer stream.Close()

	done := make(chan error, 1)
	go func() {
		chunk := make([]int16, 48000)
		for i := 0; i < 5000; i++ {
			if err := stream.Send(chunk, 48000); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected a write timeout once the peer stopped reading")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Send blocked on a peer that is not reading")
	}
}

func TestDeepgramCloseInterruptsStalledSend(t *testing.T) {
	d := NewDeepgram("dg", "nova-3", "multi")
	d.baseURL = silentDeepgram(t)
	d.writeWait = time.Minute
	stream, err := d.Stream(context.Background())
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	var sent atomic.Int64
	sendDone := make(chan struct{})
	go func() {
		defer close(sendDone)
		chunk := make([]int16, 48000)
		for {
			if err := stream.Send(chunk, 48000); err != nil {
				return
			}
			sent.Add(1)
		}
	}()

	// wait until Send stops making progress
	last := int64(-1)
	for deadline := time.Now().Add(10 * time.Second); time.Now().Before(deadline); {
		time.Sleep(200 * time.Millisecond)
		n := sent.Load()
		if n == last {
			break
		}
		last = n
	}

	closed := make(chan struct{})
	go func() {
		_ = stream.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close waited behind a stalled Send")
	}
	select {
	case <-sendDone:
	case <-time.After(2 * time.Second):
		t.Fatal("stalled Send was not released by Close")
	}
}
