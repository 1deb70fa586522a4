package lkroom

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4/pkg/media"
)

type recordingTrack struct {
	mu      sync.Mutex
	samples []media.Sample
}

func (r *recordingTrack) WriteSample(s media.Sample, _ *lksdk.SampleWriteOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
	return nil
}

func (r *recordingTrack) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

type fakeEncoder struct {
	frameLens []int
}

func (f *fakeEncoder) Encode(pcm []int16, data []byte) (int, error) {
	f.frameLens = append(f.frameLens, len(pcm))
	data[0] = 0xfc
	return 1, nil
}

func TestPlayFramesAt48k(t *testing.T) {
	track := &recordingTrack{}
	enc := &fakeEncoder{}
	out := newOutputWith(track, enc, time.Millisecond)

	// 100ms at 24kHz becomes 4800 samples at 48kHz, five 20ms frames.
	if err := out.Play(context.Background(), make([]int16, 2400), 24000); err != nil {
		t.Fatalf("play: %v", err)
	}
	if track.count() != 5 {
		t.Fatalf("expected 5 samples, got %d", track.count())
	}
	for _, n := range enc.frameLens {
		if n != frameSamples {
			t.Fatalf("encoder got frame of %d samples", n)
		}
	}
	if track.samples[0].Duration != frameDuration {
		t.Fatalf("unexpected duration %v", track.samples[0].Duration)
	}
}

func TestPlayStopsOnCancel(t *testing.T) {
	track := &recordingTrack{}
	out := newOutputWith(track, &fakeEncoder{}, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(60 * time.Millisecond)
		cancel()
	}()
	err := out.Play(ctx, make([]int16, 48000), 48000)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if n := track.count(); n >= 50 {
		t.Fatalf("playback was not interrupted, wrote %d frames", n)
	}
}

func TestPlayAfterClose(t *testing.T) {
	track := &recordingTrack{}
	out := newOutputWith(track, &fakeEncoder{}, time.Second)
	out.close()
	if err := out.Play(context.Background(), make([]int16, 48000), 48000); err != nil {
		t.Fatalf("play after close: %v", err)
	}
	if track.count() > 1 {
		t.Fatalf("closed output kept writing: %d", track.count())
	}
}
