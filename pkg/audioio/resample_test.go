package audioio

import (
	"testing"
)

func TestResample_SameRate(t *testing.T) {
	samples := []int16{100, 200, 300, 400, 500}
	result := Resample(samples, 24000, 24000)

	if len(result) != len(samples) {
		t.Errorf("Expected %d samples, got %d", len(samples), len(result))
	}

	for i, s := range samples {
		if result[i] != s {
			t.Errorf("Sample %d: expected %d, got %d", i, s, result[i])
		}
	}
}

func TestResample_Downsample(t *testing.T) {
	// 48kHz -> 24kHz (2:1 ratio)
	samples := make([]int16, 960) // 20ms at 48kHz
	for i := range samples {
		samples[i] = int16(i)
	}

	result := Resample(samples, 48000, 24000)

	// Should get approximately half the samples
	expectedLen := 480
	if len(result) != expectedLen {
		t.Errorf("Expected %d samples, got %d", expectedLen, len(result))
	}
}

func TestResample_Upsample(t *testing.T) {
	// 16kHz -> 24kHz (2:3 ratio)
	samples := make([]int16, 320) // 20ms at 16kHz
	for i := range samples {
		samples[i] = int16(i * 100)
	}

	result := Resample(samples, 16000, 24000)

	// Should get 1.5x samples
	expectedLen := 480
	if len(result) != expectedLen {
		t.Errorf("Expected %d samples, got %d", expectedLen, len(result))
	}
}

func TestResample_Empty(t *testing.T) {
	result := Resample(nil, 24000, 48000)
	if len(result) != 0 {
		t.Errorf("Expected empty result for nil input")
	}

	result = Resample([]int16{}, 24000, 48000)
	if len(result) != 0 {
		t.Errorf("Expected empty result for empty input")
	}
}

func TestBytesToSamples(t *testing.T) {
	data := []byte{0x02, 0x01, 0x04, 0x03}
	samples := BytesToSamples(data)

	if len(samples) != 2 {
		t.Fatalf("Expected 2 samples, got %d", len(samples))
	}

	if samples[0] != 0x0102 {
		t.Errorf("Sample 0: expected 0x0102, got 0x%04x", samples[0])
	}

	if samples[1] != 0x0304 {
		t.Errorf("Sample 1: expected 0x0304, got 0x%04x", samples[1])
	}
}

func TestSamplesToBytes(t *testing.T) {
	samples := []int16{0x0102, 0x0304}
	data := SamplesToBytes(samples)

	if len(data) != 4 {
		t.Fatalf("Expected 4 bytes, got %d", len(data))
	}

	expected := []byte{0x02, 0x01, 0x04, 0x03}
	for i, b := range expected {
		if data[i] != b {
			t.Errorf("Byte %d: expected 0x%02x, got 0x%02x", i, b, data[i])
		}
	}
}

func TestStereoToMono(t *testing.T) {
	stereo := []int16{100, 200, 300, 400}
	mono := StereoToMono(stereo)

	if len(mono) != 2 {
		t.Fatalf("Expected 2 samples, got %d", len(mono))
	}

	// (100+200)/2 = 150, (300+400)/2 = 350
	expected := []int16{150, 350}
	for i, s := range expected {
		if mono[i] != s {
			t.Errorf("Sample %d: expected %d, got %d", i, s, mono[i])
		}
	}
}

func TestRMS(t *testing.T) {
	if rms := RMS([]int16{0, 0, 0}); rms != 0 {
		t.Errorf("Expected RMS 0 for silence, got %f", rms)
	}

	if rms := RMS([]int16{32767, -32767, 32767}); rms < 0.99 || rms > 1.01 {
		t.Errorf("Expected RMS ~1.0 for full scale, got %f", rms)
	}

	// A sine wave at amplitude A has RMS A/sqrt(2).
	tone := Tone(440, 0.5, 4800, 48000)
	if rms := RMS(tone); rms < 0.34 || rms > 0.37 {
		t.Errorf("Expected RMS ~0.354 for half-scale sine, got %f", rms)
	}

	if rms := RMS(nil); rms != 0 {
		t.Errorf("Expected RMS 0 for empty, got %f", rms)
	}
}

func TestFrames(t *testing.T) {
	samples := make([]int16, 2500)
	for i := range samples {
		samples[i] = 1
	}

	frames := Frames(samples, 960)
	if len(frames) != 3 {
		t.Fatalf("Expected 3 frames, got %d", len(frames))
	}
	for i, f := range frames {
		if len(f) != 960 {
			t.Errorf("Frame %d: expected 960 samples, got %d", i, len(f))
		}
	}
	// 2500 - 1920 = 580 real samples, rest is padding
	if frames[2][579] != 1 || frames[2][580] != 0 {
		t.Error("Expected last frame to be zero-padded after real samples")
	}

	if Frames(nil, 960) != nil {
		t.Error("Expected nil frames for empty input")
	}
}

func TestChunkConversions(t *testing.T) {
	chunk := AudioChunk{Samples: []int16{100, 200, 300, 400}, SampleRate: 48000, Channels: 2}

	mono := chunk.Mono()
	if mono.Channels != 1 || len(mono.Samples) != 2 || mono.Samples[0] != 150 {
		t.Errorf("Unexpected mono chunk: %+v", mono)
	}

	down := AudioChunk{Samples: make([]int16, 960), SampleRate: 48000, Channels: 1}.To(16000)
	if down.SampleRate != 16000 || len(down.Samples) != 320 {
		t.Errorf("Unexpected resampled chunk: rate=%d len=%d", down.SampleRate, len(down.Samples))
	}
	if d := down.Duration(); d.Milliseconds() != 20 {
		t.Errorf("Expected 20ms, got %v", d)
	}

	var back AudioChunk
	back.FromBytes(chunk.Bytes(), 48000, 2)
	if len(back.Samples) != 4 || back.Samples[3] != 400 {
		t.Errorf("Bytes round trip failed: %+v", back)
	}
}

func TestResampleBytes(t *testing.T) {
	// Create 20ms of 48kHz audio (960 samples)
	samples := make([]int16, 960)
	for i := range samples {
		samples[i] = int16(i % 1000)
	}
	data := SamplesToBytes(samples)

	// Resample to 24kHz
	result := ResampleBytes(data, 48000, 24000)

	// Should get ~480 samples = 960 bytes
	expectedBytes := 480 * 2
	if len(result) != expectedBytes {
		t.Errorf("Expected %d bytes, got %d", expectedBytes, len(result))
	}
}

// Benchmarks

func BenchmarkResample_2x(b *testing.B) {
	samples := make([]int16, 960)
	for i := range samples {
		samples[i] = int16(i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Resample(samples, 48000, 24000)
	}
}

func BenchmarkBytesToSamples(b *testing.B) {
	data := make([]byte, 960)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = BytesToSamples(data)
	}
}

func BenchmarkSamplesToBytes(b *testing.B) {
	samples := make([]int16, 480)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = SamplesToBytes(samples)
	}
}

