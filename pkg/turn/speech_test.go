package turn

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-callagent/pkg/audioio"
)

func TestSegmenter(t *testing.T) {
	tests := []struct {
		name   string
		deltas []string
		want   []string
		rest   string
	}{
		{"single sentence", []string{"Hola."}, nil, "Hola."},
		{"split on space", []string{"Hola. ", "Soy Gabriela"}, []string{"Hola."}, "Soy Gabriela"},
		{"question across deltas", []string{"¿Le acomoda", " el martes?", " Perfecto"}, []string{"¿Le acomoda el martes?"}, "Perfecto"},
		{"decimal is not a boundary", []string{"Cuesta 3.5 millones. Y"}, []string{"Cuesta 3.5 millones."}, "Y"},
		{"ellipsis", []string{"Bueno… veamos"}, []string{"Bueno…"}, "veamos"},
		{"newline", []string{"Uno\nDos"}, []string{"Uno"}, "Dos"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s segmenter
			var got []string
			for _, d := range tt.deltas {
				got = append(got, s.push(d)...)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.rest, s.flush())
			assert.Empty(t, s.flush())
		})
	}
}

func TestUtteranceHeard(t *testing.T) {
	u := &utterance{}
	u.mark("Hola.")
	u.pushed = 100 * time.Millisecond
	u.mark("Soy Gabriela.")
	u.pushed = 300 * time.Millisecond

	assert.Empty(t, u.heard())

	u.played.Store(int64(20 * time.Millisecond))
	assert.Equal(t, []string{"Hola."}, u.heard())

	u.played.Store(int64(120 * time.Millisecond))
	assert.Equal(t, []string{"Hola.", "Soy Gabriela."}, u.heard())
}

func TestWriterCancel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sink := audioio.NewMockSink(logger)
	w := newWriter(sink, audioio.RateSTT, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.run(ctx)

	done := func(u *utterance) {
		t.Helper()
		select {
		case <-u.done:
		case <-time.After(time.Second):
			t.Fatal("utterance never finished")
		}
	}

	// A finished utterance leaves the sink alone.
	played := w.open(ctx)
	require.NoError(t, played.push(silenceFrame()))
	played.end()
	done(played)
	w.cancel(played)
	assert.Zero(t, sink.Stats().Clears)

	sink.WriteDelay = 20 * time.Millisecond
	live := w.open(ctx)
	require.NoError(t, live.push(silenceFrame()))
	require.NoError(t, live.push(silenceFrame()))
	require.Eventually(t, func() bool { return live.played.Load() > 0 }, time.Second, 2*time.Millisecond)
	w.cancel(live)
	w.cancel(live)
	done(live)
	assert.Equal(t, int64(1), sink.Stats().Clears)
	assert.True(t, live.stopped.Load())
}

func TestMetricsCollector(t *testing.T) {
	m := NewMetricsCollector()
	assert.Equal(t, Metrics{}, m.Average())

	m.MarkSpeechEnd()
	time.Sleep(5 * time.Millisecond)
	m.MarkCommit()
	m.MarkFirstToken()
	first := m.Current().FirstTokenTime
	m.MarkFirstToken()
	assert.Equal(t, first, m.Current().FirstTokenTime)
	m.MarkFirstAudio()
	m.MarkDone()

	cur := m.Current()
	assert.GreaterOrEqual(t, cur.Endpointing, 5*time.Millisecond)
	assert.GreaterOrEqual(t, cur.TotalLatency, cur.FirstAudio)
	assert.Equal(t, 1, m.Turns())
	assert.Equal(t, cur.TotalLatency, m.Average().TotalLatency)
	assert.Contains(t, cur.FormatLatency(), "TOTAL")
}
