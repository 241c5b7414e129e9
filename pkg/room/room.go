// Package room joins a LiveKit room as the agent participant. It exposes the
// bound caller's audio as an audioio.Source, publishes the agent's voice
// through an audioio.Sink, and reports participant lifecycle events.
package room

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"gopkg.in/hraban/opus.v2"

	"github.com/teslashibe/go-callagent/pkg/audioio"
	"github.com/teslashibe/go-callagent/pkg/participant"
)

const (
	eventBuffer = 16

	// maxFrameSamples is 120ms at 48kHz, the longest opus frame.
	maxFrameSamples = 5760
)

var ErrMissingCredentials = errors.New("room: missing livekit credentials")

// Config is what the agent needs to join a room.
type Config struct {
	URL       string
	APIKey    string
	APISecret string
	Room      string
	Identity  string
	Logger    *slog.Logger
}

// Room is a joined LiveKit room.
type Room struct {
	cfg    Config
	logger *slog.Logger
	lk     *lksdk.Room

	events    chan participant.Event
	closeOnce sync.Once

	source *Source
	sink   *Sink

	mu    sync.Mutex
	bound string
}

// Connect joins the room and publishes the agent's audio track.
func Connect(ctx context.Context, cfg Config) (*Room, error) {
	if cfg.URL == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r := &Room{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "room", "room", cfg.Room),
		events: make(chan participant.Event, eventBuffer),
		source: newSource(cfg.Logger),
	}

	cb := &lksdk.RoomCallback{
		OnParticipantConnected: func(p *lksdk.RemoteParticipant) {
			r.emit(participant.JoinedEvent(p.Identity()))
		},
		OnParticipantDisconnected: func(p *lksdk.RemoteParticipant) {
			r.emit(participant.LeftEvent(p.Identity()))
		},
		OnDisconnected: func() {
			r.logger.Warn("disconnected from room")
			r.emit(participant.Event{Type: participant.Disconnected})
			r.source.Close()
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, p *lksdk.RemoteParticipant) {
				if track.Kind() != webrtc.RTPCodecTypeAudio {
					return
				}
				r.logger.Info("caller audio subscribed", "participant", p.Identity(), "track", pub.SID(), "codec", track.Codec().MimeType)
				go r.readTrack(track, p.Identity())
			},
		},
	}

	lk, err := lksdk.ConnectToRoom(cfg.URL, lksdk.ConnectInfo{
		APIKey:              cfg.APIKey,
		APISecret:           cfg.APISecret,
		RoomName:            cfg.Room,
		ParticipantIdentity: cfg.Identity,
		ParticipantName:     cfg.Identity,
	}, cb, lksdk.WithAutoSubscribe(true))
	if err != nil {
		return nil, fmt.Errorf("connect to room %s: %w", cfg.Room, err)
	}
	r.lk = lk

	track, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: audioio.RateTransport,
		Channels:  1,
	})
	if err != nil {
		lk.Disconnect()
		return nil, fmt.Errorf("create agent track: %w", err)
	}
	if _, err := lk.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   "agent-voice",
		Source: livekit.TrackSource_MICROPHONE,
	}); err != nil {
		lk.Disconnect()
		return nil, fmt.Errorf("publish agent track: %w", err)
	}

	enc, err := opus.NewEncoder(audioio.RateTransport, 1, opus.AppVoIP)
	if err != nil {
		lk.Disconnect()
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	r.sink = newSink(track, enc, cfg.Logger)

	// Callers who joined before the agent.
	for _, p := range lk.GetRemoteParticipants() {
		r.emit(participant.JoinedEvent(p.Identity()))
	}

	r.logger.Info("joined room", "identity", cfg.Identity)
	return r, nil
}

// Name returns the room name.
func (r *Room) Name() string { return r.cfg.Room }

// Events yields participant and connection events.
func (r *Room) Events() <-chan participant.Event { return r.events }

// Source is the bound caller's audio.
func (r *Room) Source() *Source { return r.source }

// Sink publishes the agent's voice.
func (r *Room) Sink() *Sink { return r.sink }

// Audio returns the caller source and the agent sink.
func (r *Room) Audio() (audioio.Source, audioio.Sink) { return r.source, r.sink }

// Bind selects the participant whose audio feeds Source.
func (r *Room) Bind(identity string) {
	r.mu.Lock()
	r.bound = identity
	r.mu.Unlock()
	r.logger.Info("participant bound", "participant", identity)
}

func (r *Room) isBound(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bound != "" && r.bound == identity
}

func (r *Room) emit(ev participant.Event) {
	select {
	case r.events <- ev:
	default:
		r.logger.Warn("room event dropped", "type", ev.Type, "participant", ev.Identity)
	}
}

// Close leaves the room.
func (r *Room) Close() error {
	r.closeOnce.Do(func() {
		if r.lk != nil {
			r.lk.Disconnect()
		}
		r.source.Close()
		if r.sink != nil {
			r.sink.Close()
		}
	})
	return nil
}

// readTrack decodes a caller track. Packets from participants other than the
// bound one are discarded.
func (r *Room) readTrack(track *webrtc.TrackRemote, identity string) {
	dec, err := opus.NewDecoder(audioio.RateTransport, 1)
	if err != nil {
		r.logger.Error("create opus decoder", "error", err)
		return
	}
	buf := make([]int16, maxFrameSamples)
	decodeErrors := 0

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.logger.Warn("caller track read failed", "participant", identity, "error", err)
			}
			return
		}
		if !r.isBound(identity) {
			continue
		}
		samples, err := decodePacket(dec, pkt, buf)
		if err != nil {
			decodeErrors++
			if decodeErrors <= 5 {
				r.logger.Warn("opus decode failed", "participant", identity, "seq", pkt.SequenceNumber, "error", err)
			}
			continue
		}
		if len(samples) == 0 {
			continue
		}
		r.source.push(audioio.AudioChunk{
			Samples:    append([]int16(nil), samples...),
			SampleRate: audioio.RateTransport,
			Channels:   1,
		})
	}
}

type decoder interface {
	Decode(data []byte, pcm []int16) (int, error)
}

func decodePacket(dec decoder, pkt *rtp.Packet, buf []int16) ([]int16, error) {
	if len(pkt.Payload) == 0 {
		return nil, nil
	}
	n, err := dec.Decode(pkt.Payload, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}
