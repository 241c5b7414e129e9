// Package stt provides streaming speech-to-text.
//
// A Provider opens one Stream per call. Callers push PCM16 mono audio with
// Send and receive transcripts on Events:
//
//	provider, _ := stt.NewDeepgram(
//	    stt.WithAPIKey(os.Getenv("DEEPGRAM_API_KEY")),
//	    stt.WithLanguage("es"),
//	)
//	stream, _ := provider.Stream(ctx)
//	defer stream.Close()
//
//	go func() {
//	    for ev := range stream.Events() {
//	        if ev.Type == stt.EventFinal {
//	            fmt.Println(ev.Text)
//	        }
//	    }
//	}()
//	stream.Send(pcm)
package stt

import (
	"context"
	"time"
)

// Provider defines the STT provider interface.
type Provider interface {
	// Stream opens a live transcription session. The session ends when ctx
	// is cancelled or Close is called on the stream.
	Stream(ctx context.Context) (Stream, error)

	// Close releases any resources held by the provider.
	Close() error
}

// Stream is one live transcription session.
type Stream interface {
	// Send pushes little-endian PCM16 mono audio at the configured rate.
	Send(pcm []byte) error

	// Events yields transcription events. The channel is closed when the
	// session ends.
	Events() <-chan Event

	// Err returns the error that ended the session, if any.
	Err() error

	// Close ends the session.
	Close() error
}

// EventType classifies transcription events.
type EventType int

const (
	// EventSpeechStarted marks the start of detected speech.
	EventSpeechStarted EventType = iota

	// EventInterim is a partial transcript that may still change.
	EventInterim

	// EventFinal is a transcript segment that will not change.
	EventFinal

	// EventUtteranceEnd marks a gap in speech after final transcripts.
	EventUtteranceEnd
)

func (t EventType) String() string {
	switch t {
	case EventSpeechStarted:
		return "speech_started"
	case EventInterim:
		return "interim"
	case EventFinal:
		return "final"
	case EventUtteranceEnd:
		return "utterance_end"
	default:
		return "unknown"
	}
}

// Event is one transcription update.
type Event struct {
	Type EventType

	// Text is the transcript (empty for speech markers).
	Text string

	// Language of the transcript.
	Language string

	// Start and Duration locate the segment within the stream audio.
	Start    time.Duration
	Duration time.Duration

	Confidence float64

	// SpeechFinal is set on a final segment that also ends the utterance.
	SpeechFinal bool

	// At is when the event was received.
	At time.Time
}

// Words returns the number of whitespace-separated words in Text.
func (e Event) Words() int {
	n := 0
	inWord := false
	for _, r := range e.Text {
		if r == ' ' || r == '\t' || r == '\n' {
			inWord = false
			continue
		}
		if !inWord {
			n++
			inWord = true
		}
	}
	return n
}
