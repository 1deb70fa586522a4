// Package agent is the voice pipeline of a call: speech in, model turn, speech out.
package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/AVVKavvk/livekit-caller/logger"
	"github.com/AVVKavvk/livekit-caller/models"
	"github.com/AVVKavvk/livekit-caller/providers"
	"go.uber.org/zap"
)

// maxToolRounds bounds consecutive tool calls within one reply.
const maxToolRounds = 3

// Speaker plays synthesized audio into the room.
type Speaker interface {
	Play(ctx context.Context, pcm []int16, sampleRate int) error
}

type Options struct {
	Providers providers.Set
	Speaker   Speaker
	// Instructions overrides the default receptionist prompt.
	Instructions          string
	Transferer            Transferer
	DefaultTransferNumber string
	RemoteIdentities      func() []string
	// OnTurn observes every non-empty user and assistant turn as it happens.
	OnTurn func(models.LiveTurn)
}

// Conversation implements session.Conversation.
type Conversation struct {
	job      models.CallJob
	roomName string
	opts     Options
	log      *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	history  []models.ChatMessage
	messages []providers.Message
	stream   providers.STTStream
	pending  []string
	stopTalk context.CancelFunc

	// serializes model turns between the listener and GenerateReply
	replyMu sync.Mutex

	turns  chan string
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func New(job models.CallJob, roomName string, opts Options) *Conversation {
	if opts.Instructions == "" {
		opts.Instructions = Instructions
	}
	return &Conversation{
		job:      job,
		roomName: roomName,
		opts:     opts,
		log:      logger.Base().With(zap.String("job_id", job.JobID), zap.String("room", roomName)),
		now:      time.Now,
		turns:    make(chan string, 8),
	}
}

// Start opens the speech recognition stream and begins answering user turns.
func (c *Conversation) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	stream, err := c.opts.Providers.STT.Stream(ctx)
	if err != nil {
		cancel()
		return err
	}
	c.mu.Lock()
	c.stream = stream
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.listen(ctx, stream)
	}()
	go func() {
		defer c.wg.Done()
		c.respondLoop(ctx)
	}()
	c.log.Info("conversation started")
	return nil
}

// GenerateReply produces one assistant turn steered by instructions, without a user turn.
func (c *Conversation) GenerateReply(ctx context.Context, instructions string) error {
	return c.reply(ctx, instructions)
}

func (c *Conversation) PushAudio(samples []int16, sampleRate int) {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream == nil {
		return
	}
	if err := stream.Send(samples, sampleRate); err != nil {
		c.log.Debug("dropping audio, stt stream unavailable", zap.Error(err))
	}
}

// History returns the user and assistant turns so far.
func (c *Conversation) History() []models.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.ChatMessage(nil), c.history...)
}

func (c *Conversation) Close() error {
	var err error
	c.once.Do(func() {
		c.mu.Lock()
		cancel, stream := c.cancel, c.stream
		c.stream = nil
		if c.stopTalk != nil {
			c.stopTalk()
		}
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if stream != nil {
			err = stream.Close()
		}
		c.wg.Wait()
		c.log.Info("conversation closed")
	})
	return err
}

func (c *Conversation) listen(ctx context.Context, stream providers.STTStream) {
	for {
		select {
		case <-ctx.Done():
			return
		case tr, ok := <-stream.Results():
			if !ok {
				return
			}
			c.handleTranscript(ctx, tr)
		}
	}
}

func (c *Conversation) handleTranscript(ctx context.Context, tr providers.Transcript) {
	text := strings.TrimSpace(tr.Text)

	c.mu.Lock()
	if text != "" && c.stopTalk != nil {
		// caller barged in
		c.stopTalk()
		c.stopTalk = nil
	}
	if text != "" && tr.Final {
		c.pending = append(c.pending, text)
	}
	var utterance string
	if tr.EndOfTurn && len(c.pending) > 0 {
		utterance = strings.Join(c.pending, " ")
		c.pending = nil
	}
	c.mu.Unlock()

	if utterance == "" {
		return
	}
	c.addTurn(models.RoleUser, utterance)
	select {
	case c.turns <- utterance:
	case <-ctx.Done():
	}
}

func (c *Conversation) respondLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.turns:
			if err := c.reply(ctx, ""); err != nil && ctx.Err() == nil {
				c.log.Warn("reply failed", zap.Error(err))
			}
		}
	}
}

// reply runs the model until it answers with text, executing tool calls on the way,
// then speaks the answer.
func (c *Conversation) reply(ctx context.Context, instructions string) error {
	c.replyMu.Lock()
	defer c.replyMu.Unlock()

	system := c.opts.Instructions
	if instructions != "" {
		system += "\n\n" + instructions
	}

	for round := 0; round <= maxToolRounds; round++ {
		c.mu.Lock()
		msgs := append([]providers.Message(nil), c.messages...)
		c.mu.Unlock()

		tools := []providers.Tool{transferTool}
		if round == maxToolRounds {
			tools = nil
		}
		resp, err := c.opts.Providers.LLM.Complete(ctx, providers.ChatRequest{System: system, Messages: msgs, Tools: tools})
		if err != nil {
			return err
		}

		if len(resp.ToolCalls) > 0 {
			c.mu.Lock()
			c.messages = append(c.messages, providers.Message{Role: providers.RoleAssistant, Content: resp.Text, ToolCalls: resp.ToolCalls})
			c.mu.Unlock()
			for _, call := range resp.ToolCalls {
				out := c.runTool(ctx, call)
				c.mu.Lock()
				c.messages = append(c.messages, providers.Message{Role: providers.RoleTool, Content: out, ToolCallID: call.ID, Name: call.Name})
				c.mu.Unlock()
			}
			continue
		}

		text := strings.TrimSpace(resp.Text)
		if text == "" {
			return nil
		}
		c.addTurn(models.RoleAssistant, text)
		return c.speak(ctx, text)
	}
	return nil
}

func (c *Conversation) speak(ctx context.Context, text string) error {
	speech, err := c.opts.Providers.TTS.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	if c.opts.Speaker == nil || len(speech.Samples) == 0 {
		return nil
	}

	playCtx, stop := context.WithCancel(ctx)
	defer stop()
	c.mu.Lock()
	c.stopTalk = stop
	c.mu.Unlock()

	err = c.opts.Speaker.Play(playCtx, speech.Samples, speech.SampleRate)

	c.mu.Lock()
	c.stopTalk = nil
	c.mu.Unlock()

	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		c.log.Info("agent speech interrupted")
		return nil
	}
	return err
}

func (c *Conversation) addTurn(role, text string) {
	c.mu.Lock()
	c.history = append(c.history, models.ChatMessage{Role: role, Content: text, CreatedAt: c.now()})
	c.messages = append(c.messages, providers.Message{Role: role, Content: text})
	c.mu.Unlock()

	c.log.Info("conversation turn", zap.String("role", role), zap.String("content", text))
	if c.opts.OnTurn != nil {
		c.opts.OnTurn(models.LiveTurn{Role: role, Content: text, JobID: c.job.JobID})
	}
}
