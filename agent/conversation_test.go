package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AVVKavvk/livekit-caller/models"
	"github.com/AVVKavvk/livekit-caller/providers"
)

type fakeStream struct {
	results chan providers.Transcript
	mu      sync.Mutex
	sent    int
	closed  bool
}

func (s *fakeStream) Send([]int16, int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent++
	return nil
}
func (s *fakeStream) Results() <-chan providers.Transcript { return s.results }
func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type fakeSTT struct{ stream *fakeStream }

func (f *fakeSTT) Name() string { return "fake" }
func (f *fakeSTT) Stream(context.Context) (providers.STTStream, error) {
	return f.stream, nil
}

type fakeLLM struct {
	mu        sync.Mutex
	responses []providers.ChatResponse
	requests  []providers.ChatRequest
}

func (f *fakeLLM) Name() string { return "fake" }
func (f *fakeLLM) Complete(_ context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.responses) == 0 {
		return providers.ChatResponse{}, errors.New("no scripted response")
	}
	r := f.responses[0]
	f.responses = f.responses[1:]
	return r, nil
}

type fakeTTS struct{}

func (fakeTTS) Name() string { return "fake" }
func (fakeTTS) Synthesize(_ context.Context, text string) (providers.Speech, error) {
	return providers.Speech{Samples: make([]int16, len(text)), SampleRate: 24000}, nil
}

type fakeSpeaker struct {
	mu     sync.Mutex
	played int
}

func (s *fakeSpeaker) Play(context.Context, []int16, int) error {
	s.mu.Lock()
	s.played++
	s.mu.Unlock()
	return nil
}

func (s *fakeSpeaker) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.played
}

type fakeTransferer struct {
	identity, destination string
	err                   error
	calls                 int
}

func (f *fakeTransferer) Transfer(_ context.Context, _, identity, destination string) error {
	f.calls++
	f.identity = identity
	f.destination = destination
	return f.err
}

func newTestConversation(job models.CallJob, llm *fakeLLM, opts Options) (*Conversation, *fakeStream, *fakeSpeaker) {
	stream := &fakeStream{results: make(chan providers.Transcript, 8)}
	speaker := &fakeSpeaker{}
	opts.Providers = providers.Set{STT: &fakeSTT{stream: stream}, LLM: llm, TTS: fakeTTS{}}
	opts.Speaker = speaker
	return New(job, "room-1", opts), stream, speaker
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestUserTurnGetsSpokenReply(t *testing.T) {
	llm := &fakeLLM{responses: []providers.ChatResponse{{Text: "Sure, what kind of chatbot?"}}}
	var mu sync.Mutex
	var live []models.LiveTurn
	conv, stream, speaker := newTestConversation(models.CallJob{JobID: "AJ_1"}, llm, Options{
		OnTurn: func(t models.LiveTurn) {
			mu.Lock()
			live = append(live, t)
			mu.Unlock()
		},
	})
	if err := conv.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer conv.Close()

	conv.PushAudio(make([]int16, 960), 48000)
	stream.results <- providers.Transcript{Text: "I need", Final: false}
	stream.results <- providers.Transcript{Text: "I need a chatbot", Final: true}
	stream.results <- providers.Transcript{EndOfTurn: true, Final: true}

	waitFor(t, func() bool { return speaker.count() == 1 })
	history := conv.History()
	if len(history) != 2 {
		t.Fatalf("expected two turns, got %+v", history)
	}
	if history[0].Role != models.RoleUser || history[0].Content != "I need a chatbot" {
		t.Fatalf("unexpected user turn %+v", history[0])
	}
	if history[1].Role != models.RoleAssistant {
		t.Fatalf("unexpected assistant turn %+v", history[1])
	}
	mu.Lock()
	defer mu.Unlock()
	if len(live) != 2 || live[0].JobID != "AJ_1" {
		t.Fatalf("unexpected live turns %+v", live)
	}
	if stream.sent != 1 {
		t.Fatalf("audio not forwarded to stt")
	}
}

func TestGenerateReplyAddsNoUserTurn(t *testing.T) {
	llm := &fakeLLM{responses: []providers.ChatResponse{{Text: "Hello! Thank you for calling Mansa InfoTech."}}}
	conv, _, speaker := newTestConversation(models.CallJob{JobID: "AJ_2"}, llm, Options{})

	if err := conv.GenerateReply(context.Background(), "Greet the user."); err != nil {
		t.Fatalf("generate reply: %v", err)
	}
	if speaker.count() != 1 {
		t.Fatal("greeting not spoken")
	}
	if h := conv.History(); len(h) != 1 || h[0].Role != models.RoleAssistant {
		t.Fatalf("unexpected history %+v", h)
	}
	if !strings.HasSuffix(llm.requests[0].System, "Greet the user.") {
		t.Fatalf("instructions not passed to the model")
	}
}

func TestTransferToolUsesSIPIdentity(t *testing.T) {
	llm := &fakeLLM{responses: []providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "call_1", Name: transferToolName, Arguments: map[string]any{}}}},
		{Text: "Transferring you now."},
	}}
	tr := &fakeTransferer{}
	conv, _, _ := newTestConversation(models.CallJob{JobID: "AJ_3", PhoneNumber: "+15551234567"}, llm, Options{
		Transferer:            tr,
		DefaultTransferNumber: "+15550001111",
	})

	if err := conv.GenerateReply(context.Background(), ""); err != nil {
		t.Fatalf("reply: %v", err)
	}
	if tr.calls != 1 || tr.identity != "sip_+15551234567" || tr.destination != "+15550001111" {
		t.Fatalf("unexpected transfer %+v", tr)
	}
	if len(llm.requests) != 2 {
		t.Fatalf("expected a follow-up model call, got %d", len(llm.requests))
	}
	msgs := llm.requests[1].Messages
	last := msgs[len(msgs)-1]
	if last.Role != providers.RoleTool || last.Content != "Transfer initiated successfully." || last.ToolCallID != "call_1" {
		t.Fatalf("unexpected tool result %+v", last)
	}
}

func TestTransferToolErrors(t *testing.T) {
	cases := []struct {
		name    string
		job     models.CallJob
		opts    Options
		dest    string
		want    string
		wantErr bool
	}{
		{
			name: "no default number",
			job:  models.CallJob{JobID: "a", PhoneNumber: "+1"},
			opts: Options{Transferer: &fakeTransferer{}},
			want: "Error: No default transfer number configured.",
		},
		{
			name: "inbound without participants",
			job:  models.CallJob{JobID: "b"},
			opts: Options{Transferer: &fakeTransferer{}, RemoteIdentities: func() []string { return nil }},
			dest: "+1999",
			want: "Failed to transfer: could not identify the caller.",
		},
		{
			name: "platform failure",
			job:  models.CallJob{JobID: "c", PhoneNumber: "+1"},
			opts: Options{Transferer: &fakeTransferer{err: errors.New("not a sip participant")}},
			dest: "+1999",
			want: "Error executing transfer: not a sip participant",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conv, _, _ := newTestConversation(tc.job, &fakeLLM{}, tc.opts)
			got := conv.runTool(context.Background(), providers.ToolCall{Name: transferToolName, Arguments: map[string]any{"destination": tc.dest}})
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestInboundTransferUsesFirstRemoteParticipant(t *testing.T) {
	tr := &fakeTransferer{}
	conv, _, _ := newTestConversation(models.CallJob{JobID: "AJ_in"}, &fakeLLM{}, Options{
		Transferer:       tr,
		RemoteIdentities: func() []string { return []string{"sip_caller", "observer"} },
	})
	out := conv.runTool(context.Background(), providers.ToolCall{Name: transferToolName, Arguments: map[string]any{"destination": "+1999"}})
	if out != "Transfer initiated successfully." || tr.identity != "sip_caller" {
		t.Fatalf("unexpected result %q with identity %q", out, tr.identity)
	}
}

func TestCloseStopsStream(t *testing.T) {
	conv, stream, _ := newTestConversation(models.CallJob{JobID: "AJ_c"}, &fakeLLM{}, Options{})
	if err := conv.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := conv.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := conv.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !stream.closed {
		t.Fatal("stt stream not closed")
	}
	conv.PushAudio(make([]int16, 10), 16000)
}
