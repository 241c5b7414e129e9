package audioio

import (
	"context"
	"io"
	"testing"
	"time"
)

func TestMockSource_PushStream(t *testing.T) {
	src := NewMockSource(4, nil)

	for i := 0; i < 3; i++ {
		if !src.Push(AudioChunk{Samples: make([]int16, 960), SampleRate: 48000, Channels: 1}) {
			t.Fatalf("Push %d failed", i)
		}
	}
	src.Close()

	count := 0
	for chunk := range src.Stream() {
		if chunk.SampleRate != 48000 {
			t.Errorf("Expected sample rate 48000, got %d", chunk.SampleRate)
		}
		count++
	}
	if count != 3 {
		t.Errorf("Expected 3 chunks, got %d", count)
	}

	stats := src.Stats()
	if stats.ChunksRead != 3 || stats.SamplesRead != 3*960 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestMockSource_Overrun(t *testing.T) {
	src := NewMockSource(1, nil)
	defer src.Close()

	if !src.Push(AudioChunk{}) {
		t.Fatal("First push should succeed")
	}
	if src.Push(AudioChunk{}) {
		t.Error("Second push should overrun")
	}
	if src.Stats().Overruns != 1 {
		t.Errorf("Expected 1 overrun, got %d", src.Stats().Overruns)
	}
}

func TestMockSource_Close(t *testing.T) {
	src := NewMockSource(0, nil)

	if err := src.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if src.Push(AudioChunk{}) {
		t.Error("Push after close should fail")
	}
	// Closing again should be a no-op
	if err := src.Close(); err != nil {
		t.Fatalf("Second Close failed: %v", err)
	}
}

func TestMockSink_WriteClear(t *testing.T) {
	sink := NewMockSink(nil)
	defer sink.Close()

	ctx := context.Background()
	chunk := AudioChunk{
		Samples:    make([]int16, 480),
		SampleRate: 24000,
		Channels:   1,
	}

	if err := sink.Write(ctx, chunk); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := sink.Write(ctx, chunk); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := sink.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	stats := sink.Stats()
	if stats.ChunksWritten != 2 || stats.Clears != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if len(sink.Chunks()) != 2 {
		t.Errorf("Expected 2 recorded chunks, got %d", len(sink.Chunks()))
	}
}

func TestMockSink_Closed(t *testing.T) {
	sink := NewMockSink(nil)
	sink.Close()

	if err := sink.Write(context.Background(), AudioChunk{}); err != io.ErrClosedPipe {
		t.Errorf("Expected ErrClosedPipe, got: %v", err)
	}
}

func TestMockSink_WriteDelayHonorsContext(t *testing.T) {
	sink := NewMockSink(nil)
	sink.WriteDelay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := sink.Write(ctx, AudioChunk{}); err != context.DeadlineExceeded {
		t.Errorf("Expected DeadlineExceeded, got %v", err)
	}
}

func TestConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.FrameSize() != 960 {
		t.Errorf("Expected 960 samples per frame, got %d", cfg.FrameSize())
	}
	if cfg.FrameBytes() != 1920 {
		t.Errorf("Expected 1920 bytes per frame, got %d", cfg.FrameBytes())
	}

	cfg.SampleRate = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for zero sample rate")
	}
}
