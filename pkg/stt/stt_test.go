package stt

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeDeepgram is a websocket server that records audio and replies with
// scripted messages once the first audio frame arrives.
type fakeDeepgram struct {
	t        *testing.T
	upgrader websocket.Upgrader
	script   []map[string]any

	mu       sync.Mutex
	query    string
	auth     string
	audio    int
	controls []string
}

func (f *fakeDeepgram) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.query = r.URL.RawQuery
	f.auth = r.Header.Get("Authorization")
	f.mu.Unlock()

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.t.Errorf("upgrade: %v", err)
		return
	}
	defer conn.Close()

	replied := false
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind == websocket.TextMessage {
			var msg struct {
				Type string `json:"type"`
			}
			_ = json.Unmarshal(data, &msg)
			f.mu.Lock()
			f.controls = append(f.controls, msg.Type)
			f.mu.Unlock()
			if msg.Type == "CloseStream" {
				return
			}
			continue
		}

		f.mu.Lock()
		f.audio += len(data)
		f.mu.Unlock()
		if !replied {
			replied = true
			for _, m := range f.script {
				if err := conn.WriteJSON(m); err != nil {
					return
				}
			}
		}
	}
}

func results(text string, final, speechFinal bool, start, duration float64) map[string]any {
	return map[string]any{
		"type":         "Results",
		"start":        start,
		"duration":     duration,
		"is_final":     final,
		"speech_final": speechFinal,
		"channel": map[string]any{
			"alternatives": []map[string]any{{"transcript": text, "confidence": 0.97}},
		},
	}
}

func newTestDeepgram(t *testing.T, script []map[string]any) (*Deepgram, *fakeDeepgram) {
	t.Helper()
	fake := &fakeDeepgram{t: t, script: script}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	d, err := NewDeepgram(
		WithAPIKey("dg-key"),
		WithBaseURL("ws"+strings.TrimPrefix(server.URL, "http")+"/v1/listen"),
		WithKeepAlive(0),
	)
	if err != nil {
		t.Fatalf("NewDeepgram: %v", err)
	}
	return d, fake
}

func collect(t *testing.T, events <-chan Event, n int) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("events closed after %d of %d", len(out), n)
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func TestDeepgramStream(t *testing.T) {
	d, fake := newTestDeepgram(t, []map[string]any{
		{"type": "Metadata", "request_id": "abc"},
		{"type": "SpeechStarted", "channel": []int{0}, "timestamp": 0.4},
		results("hola", false, false, 0.4, 0.5),
		results("", false, false, 0.4, 0.6),
		results("hola quiero agendar", true, true, 0.4, 1.2),
		{"type": "UtteranceEnd", "channel": []int{0, 1}, "last_word_end": 1.6},
	})

	stream, err := d.Stream(context.Background())
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if err := stream.Send(make([]byte, 640)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	events := collect(t, stream.Events(), 4)

	want := []EventType{EventSpeechStarted, EventInterim, EventFinal, EventUtteranceEnd}
	for i, ev := range events {
		if ev.Type != want[i] {
			t.Errorf("event %d: got %s, want %s", i, ev.Type, want[i])
		}
		if ev.Language != "es" {
			t.Errorf("event %d: language %q", i, ev.Language)
		}
	}

	final := events[2]
	if final.Text != "hola quiero agendar" || !final.SpeechFinal {
		t.Errorf("unexpected final: %+v", final)
	}
	if final.Start != 400*time.Millisecond || final.Duration != 1200*time.Millisecond {
		t.Errorf("unexpected timing: start=%v duration=%v", final.Start, final.Duration)
	}
	if final.Words() != 3 {
		t.Errorf("expected 3 words, got %d", final.Words())
	}

	if err := stream.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := stream.Send([]byte{0, 0}); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("expected ErrStreamClosed after close, got %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.auth != "Token dg-key" {
		t.Errorf("unexpected auth header %q", fake.auth)
	}
	for _, param := range []string{"model=nova-2", "language=es", "encoding=linear16", "sample_rate=16000", "interim_results=true", "vad_events=true"} {
		if !strings.Contains(fake.query, param) {
			t.Errorf("query %q missing %s", fake.query, param)
		}
	}
	if fake.audio != 640 {
		t.Errorf("expected 640 audio bytes, got %d", fake.audio)
	}
}

func TestDeepgramContextCancel(t *testing.T) {
	d, _ := newTestDeepgram(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := d.Stream(ctx)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	cancel()

	select {
	case _, ok := <-stream.Events():
		if ok {
			t.Error("expected closed events channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events not closed after cancel")
	}
	if stream.Err() != nil {
		t.Errorf("cancel should not record an error, got %v", stream.Err())
	}
}

func TestDeepgramHandshakeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
	}))
	defer server.Close()

	d, err := NewDeepgram(WithAPIKey("bad"), WithBaseURL("ws"+strings.TrimPrefix(server.URL, "http")))
	if err != nil {
		t.Fatal(err)
	}

	_, err = d.Stream(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if !apiErr.IsUnauthorized() {
		t.Errorf("expected 401, got %d", apiErr.StatusCode)
	}
}

func TestConfigValidation(t *testing.T) {
	if _, err := NewDeepgram(); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}
	if _, err := NewDeepgram(WithAPIKey("k"), WithSampleRate(0)); !errors.Is(err, ErrInvalidSampleRate) {
		t.Errorf("expected ErrInvalidSampleRate, got %v", err)
	}

	cfg := DefaultConfig()
	cfg.Apply(WithModel("nova-3"), WithLanguage("en"), WithUtteranceEnd(1500*time.Millisecond))
	if cfg.Model != "nova-3" || cfg.Language != "en" || cfg.UtteranceEndMs != 1500 {
		t.Errorf("options not applied: %+v", cfg)
	}
}

func TestMockStream(t *testing.T) {
	m := NewMock()
	ctx, cancel := context.WithCancel(context.Background())

	s, err := m.Stream(ctx)
	if err != nil {
		t.Fatal(err)
	}
	ms := <-m.Opened
	if ms != m.Last() {
		t.Fatal("Opened and Last disagree")
	}

	_ = s.Send(make([]byte, 320))
	ms.Emit(Event{Type: EventFinal, Text: "sí"})
	if ev := <-s.Events(); ev.Text != "sí" {
		t.Errorf("unexpected event %+v", ev)
	}
	if frames, bytes := ms.Sent(); frames != 1 || bytes != 320 {
		t.Errorf("unexpected sent counts %d/%d", frames, bytes)
	}

	cancel()
	if _, ok := <-s.Events(); ok {
		t.Error("expected events closed after cancel")
	}
	if ms.Emit(Event{}) {
		t.Error("Emit should fail after close")
	}
}
