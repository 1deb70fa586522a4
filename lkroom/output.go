package lkroom

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AVVKavvk/livekit-caller/audio"
	"github.com/hraban/opus"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

const (
	frameDuration = 20 * time.Millisecond
	frameSamples  = opusSampleRate / 50
	maxOpusPacket = 4000
)

type sampleWriter interface {
	WriteSample(sample media.Sample, opts *lksdk.SampleWriteOptions) error
}

type encoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

// Output encodes PCM to opus and paces it onto the agent's audio track.
type Output struct {
	track sampleWriter
	enc   encoder
	tick  time.Duration

	// one utterance at a time
	mu     sync.Mutex
	closed chan struct{}
	once   sync.Once
}

func newOutput(room *lksdk.Room) (*Output, error) {
	track, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: opusSampleRate,
		Channels:  1,
	})
	if err != nil {
		return nil, fmt.Errorf("create local track: %w", err)
	}
	if _, err := room.LocalParticipant.PublishTrack(track, trackOptions()); err != nil {
		return nil, fmt.Errorf("publish agent track: %w", err)
	}
	enc, err := opus.NewEncoder(opusSampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	return newOutputWith(track, enc, frameDuration), nil
}

func newOutputWith(track sampleWriter, enc encoder, tick time.Duration) *Output {
	return &Output{track: track, enc: enc, tick: tick, closed: make(chan struct{})}
}

// Play blocks until the audio has been written or ctx is cancelled, in which case
// playback stops at the next frame boundary.
func (o *Output) Play(ctx context.Context, pcm []int16, sampleRate int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	frames := audio.Frames(audio.Resample(pcm, sampleRate, opusSampleRate), frameSamples)
	ticker := time.NewTicker(o.tick)
	defer ticker.Stop()

	buf := make([]byte, maxOpusPacket)
	for _, frame := range frames {
		n, err := o.enc.Encode(frame, buf)
		if err != nil {
			return fmt.Errorf("opus encode: %w", err)
		}
		data := append([]byte(nil), buf[:n]...)
		if err := o.track.WriteSample(media.Sample{Data: data, Duration: frameDuration}, nil); err != nil {
			return fmt.Errorf("write sample: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.closed:
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

func (o *Output) close() {
	o.once.Do(func() { close(o.closed) })
}
