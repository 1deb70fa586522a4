package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/AVVKavvk/livekit-caller/apperr"
	"github.com/AVVKavvk/livekit-caller/audio"
	"github.com/AVVKavvk/livekit-caller/config"
	"github.com/AVVKavvk/livekit-caller/logger"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	deepgramURL        = "wss://api.deepgram.com/v1/listen"
	deepgramSampleRate = 16000
	deepgramKeepAlive  = 5 * time.Second
	deepgramWriteWait  = 5 * time.Second
)

// Deepgram streams linear16 audio to Deepgram's live transcription endpoint.
type Deepgram struct {
	apiKey   string
	model    string
	language string
	baseURL  string
	dialer   *websocket.Dialer
	// bounds every frame write; a peer that stops reading fails Send instead of blocking it
	writeWait time.Duration
}

func NewDeepgram(apiKey, model, language string) *Deepgram {
	return &Deepgram{
		apiKey:   apiKey,
		model:    model,
		language: language,
		baseURL:   deepgramURL,
		dialer:    websocket.DefaultDialer,
		writeWait: deepgramWriteWait,
	}
}

func newDeepgramFromConfig(_ context.Context, cfg *config.Config) (STT, error) {
	return NewDeepgram(cfg.DeepgramKey, cfg.STTModel, cfg.STTLanguage), nil
}

func (d *Deepgram) Name() string { return "deepgram" }

func (d *Deepgram) streamURL() (string, error) {
	u, err := url.Parse(d.baseURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", d.model)
	if d.language != "" {
		q.Set("language", d.language)
	}
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprint(deepgramSampleRate))
	q.Set("channels", "1")
	q.Set("interim_results", "true")
	q.Set("smart_format", "true")
	q.Set("endpointing", "300")
	q.Set("utterance_end_ms", "1000")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (d *Deepgram) Stream(ctx context.Context) (STTStream, error) {
	target, err := d.streamURL()
	if err != nil {
		return nil, apperr.Configuration("invalid deepgram url: " + err.Error())
	}
	header := http.Header{}
	header.Set("Authorization", "Token "+d.apiKey)

	conn, _, err := d.dialer.DialContext(ctx, target, header)
	if err != nil {
		return nil, apperr.Provider("deepgram connect", err)
	}
	logger.Base().Info("deepgram connected", zap.String("model", d.model))

	s := &deepgramStream{
		conn:      conn,
		writeWait: d.writeWait,
		results:   make(chan Transcript, 32),
		done:      make(chan struct{}),
	}
	go s.readLoop()
	go s.keepAlive()
	return s, nil
}

type deepgramStream struct {
	conn      *websocket.Conn
	writeWait time.Duration
	results   chan Transcript
	done      chan struct{}

	writeMu sync.Mutex
	once    sync.Once
}

type deepgramMessage struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal     bool `json:"is_final"`
	SpeechFinal bool `json:"speech_final"`
}

func (s *deepgramStream) Results() <-chan Transcript { return s.results }

func (s *deepgramStream) Send(samples []int16, sampleRate int) error {
	pcm := audio.Int16ToBytes(audio.Resample(samples, sampleRate, deepgramSampleRate))
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.done:
		return websocket.ErrCloseSent
	default:
	}
	return s.write(websocket.BinaryMessage, pcm)
}

// write sends one frame under a deadline. Callers hold writeMu.
func (s *deepgramStream) write(messageType int, data []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(messageType, data)
}

// Close never waits behind a stalled Send: CloseStream is only sent when the writer
// is idle, and closing the connection fails any write in flight.
func (s *deepgramStream) Close() error {
	var err error
	s.once.Do(func() {
		if s.writeMu.TryLock() {
			_ = s.write(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
			s.writeMu.Unlock()
		}
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func (s *deepgramStream) keepAlive() {
	ticker := time.NewTicker(deepgramKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			select {
			case <-s.done:
			default:
				if err := s.write(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`)); err != nil {
					logger.Base().Debug("deepgram keepalive failed", zap.Error(err))
				}
			}
			s.writeMu.Unlock()
		}
	}
}

func (s *deepgramStream) readLoop() {
	defer close(s.results)
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				logger.Base().Warn("deepgram read failed", zap.Error(err))
			}
			return
		}
		var msg deepgramMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Base().Warn("deepgram message not understood", zap.Error(err))
			continue
		}
		tr, ok := msg.transcript()
		if !ok {
			continue
		}
		select {
		case s.results <- tr:
		case <-s.done:
			return
		}
	}
}

func (m deepgramMessage) transcript() (Transcript, bool) {
	switch m.Type {
	case "Results":
		text := ""
		if len(m.Channel.Alternatives) > 0 {
			text = m.Channel.Alternatives[0].Transcript
		}
		if text == "" && !m.SpeechFinal {
			return Transcript{}, false
		}
		return Transcript{Text: text, Final: m.IsFinal, EndOfTurn: m.SpeechFinal}, true
	case "UtteranceEnd":
		return Transcript{Final: true, EndOfTurn: true}, true
	}
	return Transcript{}, false
}
