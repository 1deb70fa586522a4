// Package session runs one call from joining the room to flushing its transcript and recording.
//
// A session moves Connecting -> AwaitingAnswer (outbound only) -> Active -> Terminal.
// Room disconnects and host shutdown requests both enter the same termination
// routine, which runs exactly once.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/AVVKavvk/livekit-caller/apperr"
	"github.com/AVVKavvk/livekit-caller/logger"
	"github.com/AVVKavvk/livekit-caller/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrCallFailed is returned by Run when the outbound leg could not be placed.
var ErrCallFailed = errors.New("outbound call failed")

const (
	greetInbound   = "Greet the user."
	greetAnswered  = "The user has answered. Introduce yourself immediately."
)

type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingAnswer
	StateActive
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingAnswer:
		return "awaiting_answer"
	case StateActive:
		return "active"
	case StateTerminal:
		return "terminal"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// AudioChunk is mono PCM16 captured from the remote party.
type AudioChunk struct {
	Samples    []int16
	SampleRate int
}

type EventKind int

const (
	// EventRoomDisconnected fires when the agent loses the room.
	EventRoomDisconnected EventKind = iota
	// EventParticipantDisconnected fires when a remote participant leaves.
	EventParticipantDisconnected
)

type Event struct {
	Kind     EventKind
	Identity string
}

// Room is a joined platform room.
type Room interface {
	Name() string
	Events() <-chan Event
	Audio() <-chan AudioChunk
	Disconnect()
}

type Connector interface {
	Connect(ctx context.Context, job models.CallJob) (Room, error)
}

// Dialer places the SIP leg and blocks until it is answered or fails.
type Dialer interface {
	PlaceCall(ctx context.Context, roomName, phoneNumber, identity string) error
}

// Conversation is the voice pipeline attached to the room.
type Conversation interface {
	Start(ctx context.Context) error
	GenerateReply(ctx context.Context, instructions string) error
	PushAudio(samples []int16, sampleRate int)
	History() []models.ChatMessage
	Close() error
}

type TranscriptSaver interface {
	Save(job models.CallJob, messages []models.ChatMessage) error
}

type Recording interface {
	Append(samples []int16, sampleRate int)
	Flush() (string, error)
}

// Deps are the collaborators of one session.
type Deps struct {
	Connector       Connector
	Dialer          Dialer
	NewConversation func(job models.CallJob, room Room) (Conversation, error)
	Transcripts     TranscriptSaver
	Recorder        Recording
	// SpeakFirst makes the agent open outbound calls instead of waiting for the callee.
	SpeakFirst bool
}

type Session struct {
	job  models.CallJob
	deps Deps
	log  *zap.Logger

	state           atomic.Int32
	terminated      atomic.Bool
	transcriptSaved atomic.Bool
	done            chan struct{}

	mu      sync.Mutex
	closing bool
	cancel  context.CancelFunc
	room    Room
	conv    Conversation
	capture *errgroup.Group

	recordingPath string
}

func New(job models.CallJob, deps Deps) *Session {
	return &Session{
		job:  job,
		deps: deps,
		log: logger.Base().With(
			zap.String("job_id", job.JobID),
			zap.String("room", job.RoomName),
			zap.String("phone_number", job.PhoneNumber)),
		done: make(chan struct{}),
	}
}

func (s *Session) Job() models.CallJob { return s.job }

func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed once the termination routine has finished.
func (s *Session) Done() <-chan struct{} { return s.done }

// RecordingPath is the flushed WAV path, empty if nothing was captured.
func (s *Session) RecordingPath() string {
	<-s.done
	return s.recordingPath
}

// advance moves to st unless the session has already reached Terminal.
func (s *Session) advance(st State) bool {
	for {
		cur := s.state.Load()
		if State(cur) == StateTerminal {
			return false
		}
		if s.state.CompareAndSwap(cur, int32(st)) {
			s.log.Info("session state", zap.Stringer("state", st))
			return true
		}
	}
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.log.Info("session state", zap.Stringer("state", st))
}

// Run drives the session until it terminates. It returns ErrCallFailed when the
// outbound leg could not be placed.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	if !s.attach(func() { s.cancel = cancel }) {
		cancel()
		<-s.done
		return nil
	}

	s.advance(StateConnecting)
	room, err := s.deps.Connector.Connect(ctx, s.job)
	if err != nil {
		s.log.Error("failed to join room", zap.Error(err))
		s.Terminate("connect failed")
		return apperr.Provider("connect room", err)
	}
	if !s.attach(func() { s.room = room }) {
		room.Disconnect()
		<-s.done
		return nil
	}
	s.log.Info("connected to room", zap.String("room", room.Name()))

	var conv Conversation
	if s.deps.NewConversation != nil {
		conv, err = s.deps.NewConversation(s.job, room)
		if err != nil {
			s.log.Error("failed to build conversation", zap.Error(err))
			s.Terminate("conversation setup failed")
			return err
		}
		if !s.attach(func() { s.conv = conv }) {
			_ = conv.Close()
			<-s.done
			return nil
		}
	}

	g := &errgroup.Group{}
	if !s.attach(func() { s.capture = g }) {
		<-s.done
		return nil
	}
	g.Go(func() error { return s.captureAudio(ctx, room, conv) })

	if conv != nil {
		if err := conv.Start(ctx); err != nil {
			s.log.Error("failed to start conversation", zap.Error(err))
			s.Terminate("conversation start failed")
			return err
		}
	}

	if s.job.Outbound() {
		if !s.advance(StateAwaitingAnswer) {
			<-s.done
			return nil
		}
		s.log.Info("placing outbound call")
		if err := s.deps.Dialer.PlaceCall(ctx, room.Name(), s.job.PhoneNumber, s.linkedIdentity()); err != nil {
			if s.terminated.Load() {
				<-s.done
				return nil
			}
			if ctx.Err() != nil {
				s.Terminate("host shutdown while ringing")
				return nil
			}
			s.log.Error("failed to place outbound call", zap.Error(err))
			s.Terminate("outbound call failed")
			return fmt.Errorf("%w: %v", ErrCallFailed, err)
		}
		s.log.Info("call answered")
	}

	if s.terminated.Load() || !s.advance(StateActive) {
		<-s.done
		return nil
	}

	if conv != nil {
		switch {
		case !s.job.Outbound():
			s.log.Info("no phone number in metadata, treating as inbound call")
			s.reply(ctx, conv, greetInbound)
		case s.deps.SpeakFirst:
			s.reply(ctx, conv, greetAnswered)
		}
	}

	select {
	case ev, ok := <-waitForEnd(room.Events(), s.endsCall):
		if ok {
			s.Terminate(describe(ev))
		} else {
			s.Terminate("room events closed")
		}
	case <-ctx.Done():
		s.Terminate("host shutdown")
	case <-s.done:
	}
	return nil
}

// waitForEnd forwards the first event that ends the call, or closes when the source does.
func waitForEnd(events <-chan Event, ends func(Event) bool) <-chan Event {
	out := make(chan Event, 1)
	go func() {
		defer close(out)
		for ev := range events {
			if ends(ev) {
				out <- ev
				return
			}
		}
	}()
	return out
}

// Shutdown is the host-side trigger. It blocks until termination has finished.
func (s *Session) Shutdown(reason string) {
	s.Terminate(reason)
}

// Terminate flushes the transcript and the recording exactly once, however many
// triggers fire. Late callers wait for the first one to finish.
func (s *Session) Terminate(reason string) {
	if !s.terminated.CompareAndSwap(false, true) {
		<-s.done
		return
	}
	defer close(s.done)

	s.mu.Lock()
	s.closing = true
	cancel, room, conv, capture := s.cancel, s.room, s.conv, s.capture
	s.mu.Unlock()

	s.log.Info("terminating session", zap.String("reason", reason), zap.Stringer("from_state", s.State()))
	s.setState(StateTerminal)

	if cancel != nil {
		cancel()
	}
	// Closing the conversation first releases a capture goroutine stuck in PushAudio.
	if conv != nil {
		s.safely("close conversation", conv.Close)
	}
	if capture != nil {
		s.safely("stop audio capture", capture.Wait)
	}

	var history []models.ChatMessage
	if conv != nil {
		s.safely("read history", func() error {
			history = conv.History()
			return nil
		})
	}
	s.safely("save transcript", func() error { return s.SaveTranscript(history) })
	s.safely("flush recording", func() error {
		if s.deps.Recorder == nil {
			return nil
		}
		path, err := s.deps.Recorder.Flush()
		s.recordingPath = path
		return err
	})

	if room != nil {
		s.safely("disconnect room", func() error {
			room.Disconnect()
			return nil
		})
	}
	s.log.Info("session terminated")
}

// SaveTranscript persists the transcript at most once per session.
func (s *Session) SaveTranscript(history []models.ChatMessage) error {
	if s.deps.Transcripts == nil {
		return nil
	}
	if !s.transcriptSaved.CompareAndSwap(false, true) {
		s.log.Debug("transcript already saved")
		return nil
	}
	return s.deps.Transcripts.Save(s.job, history)
}

func (s *Session) attach(set func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	set()
	return true
}

func (s *Session) captureAudio(ctx context.Context, room Room, conv Conversation) error {
	frames := room.Audio()
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			if s.deps.Recorder != nil {
				s.deps.Recorder.Append(f.Samples, f.SampleRate)
			}
			if conv != nil {
				conv.PushAudio(f.Samples, f.SampleRate)
			}
		}
	}
}

func (s *Session) reply(ctx context.Context, conv Conversation, instructions string) {
	if err := conv.GenerateReply(ctx, instructions); err != nil && ctx.Err() == nil {
		s.log.Warn("initial reply failed", zap.Error(err))
	}
}

// linkedIdentity is the participant whose departure ends the call.
func (s *Session) linkedIdentity() string {
	return s.job.SIPIdentity()
}

func (s *Session) endsCall(ev Event) bool {
	switch ev.Kind {
	case EventRoomDisconnected:
		return true
	case EventParticipantDisconnected:
		linked := s.linkedIdentity()
		return linked == "" || ev.Identity == linked
	}
	return false
}

func (s *Session) safely(step string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error(step+" panicked", zap.Any("panic", r))
		}
	}()
	if err := fn(); err != nil {
		s.log.Error(step+" failed", zap.Error(err))
	}
}

func describe(ev Event) string {
	if ev.Kind == EventParticipantDisconnected {
		return "participant " + ev.Identity + " disconnected"
	}
	return "room disconnected"
}
