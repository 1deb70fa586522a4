// Package lkroom joins a LiveKit room as the agent participant and exposes it to a
// session as channels: lifecycle events, decoded remote audio, and a speaker track.
package lkroom

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/AVVKavvk/livekit-caller/logger"
	"github.com/AVVKavvk/livekit-caller/models"
	"github.com/AVVKavvk/livekit-caller/session"
	"github.com/hraban/opus"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

const (
	opusSampleRate = 48000
	// 120ms at 48kHz, the largest opus frame.
	maxOpusFrame = 5760
)

// Connector joins rooms with the per-job token handed out by the dispatcher.
type Connector struct {
	url   string
	token string
}

func NewConnector(url, token string) *Connector {
	return &Connector{url: url, token: token}
}

func (c *Connector) Connect(ctx context.Context, job models.CallJob) (session.Room, error) {
	r := &Room{
		name:   job.RoomName,
		events: make(chan session.Event, 16),
		audio:  make(chan session.AudioChunk, 64),
		done:   make(chan struct{}),
		log:    logger.Base().With(zap.String("job_id", job.JobID), zap.String("room", job.RoomName)),
		caller: job.SIPIdentity(),
	}

	cb := &lksdk.RoomCallback{
		OnDisconnected: func() {
			r.emit(session.Event{Kind: session.EventRoomDisconnected})
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			r.emit(session.Event{Kind: session.EventParticipantDisconnected, Identity: rp.Identity()})
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if track.Kind() != webrtc.RTPCodecTypeAudio {
					return
				}
				if !r.claimCaller(rp.Identity()) {
					r.log.Info("ignoring audio from non-caller participant", zap.String("participant_identity", rp.Identity()))
					return
				}
				go r.readTrack(track, rp.Identity())
			},
		},
	}

	type result struct {
		room *lksdk.Room
		err  error
	}
	connected := make(chan result, 1)
	go func() {
		room, err := lksdk.ConnectToRoomWithToken(c.url, c.token, cb)
		connected <- result{room, err}
	}()

	var res result
	select {
	case res = <-connected:
	case <-ctx.Done():
		go func() {
			if late := <-connected; late.room != nil {
				late.room.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, res.err
	}
	r.room = res.room
	if name := res.room.Name(); name != "" {
		r.name = name
	}

	out, err := newOutput(res.room)
	if err != nil {
		res.room.Disconnect()
		return nil, err
	}
	r.out = out
	r.log.Info("joined room", zap.String("identity", res.room.LocalParticipant.Identity()))
	return r, nil
}

// Room is a joined LiveKit room.
type Room struct {
	name   string
	room   *lksdk.Room
	out    *Output
	events chan session.Event
	audio  chan session.AudioChunk
	done   chan struct{}
	log    *zap.Logger

	mu     sync.Mutex
	closed bool
	// only this participant's audio is captured; set by the first audio track when empty
	caller string
}

func (r *Room) Name() string                     { return r.name }
func (r *Room) Events() <-chan session.Event     { return r.events }
func (r *Room) Audio() <-chan session.AudioChunk { return r.audio }

// Output is the agent's published voice track.
func (r *Room) Output() *Output { return r.out }

// RemoteIdentities lists the identities of everyone in the room except the agent.
func (r *Room) RemoteIdentities() []string {
	var ids []string
	for _, p := range r.room.GetRemoteParticipants() {
		ids = append(ids, p.Identity())
	}
	return ids
}

func (r *Room) Disconnect() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.done)
	close(r.events)
	r.mu.Unlock()

	if r.out != nil {
		r.out.close()
	}
	r.room.Disconnect()
	r.log.Info("left room")
}

// claimCaller reports whether audio from identity belongs to the caller. Inbound rooms
// adopt the first participant that publishes audio.
func (r *Room) claimCaller(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.caller == "" {
		r.caller = identity
	}
	return r.caller == identity
}

func (r *Room) emit(ev session.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.events <- ev:
	default:
		r.log.Warn("room event dropped, consumer not keeping up", zap.Int("kind", int(ev.Kind)))
	}
}

func (r *Room) readTrack(track *webrtc.TrackRemote, identity string) {
	log := r.log.With(zap.String("participant_identity", identity), zap.String("track", track.ID()))
	dec, err := opus.NewDecoder(opusSampleRate, 1)
	if err != nil {
		log.Error("failed to create opus decoder", zap.Error(err))
		return
	}
	log.Info("capturing remote audio")

	pcm := make([]int16, maxOpusFrame)
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn("audio track read failed", zap.Error(err))
			}
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := dec.Decode(pkt.Payload, pcm)
		if err != nil {
			log.Debug("opus decode failed", zap.Error(err))
			continue
		}
		if n == 0 {
			continue
		}
		chunk := session.AudioChunk{Samples: append([]int16(nil), pcm[:n]...), SampleRate: opusSampleRate}
		select {
		case r.audio <- chunk:
		case <-r.done:
			return
		}
	}
}

func trackOptions() *lksdk.TrackPublicationOptions {
	return &lksdk.TrackPublicationOptions{
		Name:   "agent-voice",
		Source: livekit.TrackSource_MICROPHONE,
	}
}
