package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-callagent/pkg/inference"
	"github.com/teslashibe/go-callagent/pkg/stt"
	"github.com/teslashibe/go-callagent/pkg/telephony"
	"github.com/teslashibe/go-callagent/pkg/tts"
)

func newTestManager(t *testing.T) (*Manager, *telephony.Mock) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tel := telephony.NewMock()

	cfg := DefaultConfig()
	cfg.Logger = logger
	cfg.Turn.Logger = logger
	cfg.GreetingDelay = time.Hour
	cfg.ParticipantTimeout = 5 * time.Second

	m := NewManager(context.Background(), cfg, Deps{
		Dial: func(ctx context.Context, name string) (Transport, error) {
			return newFakeTransport(logger), nil
		},
		Telephony: tel,
		LLM:       inference.NewMock(),
		TTS:       tts.NewMock(),
		STT:       stt.NewMock(),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		assert.NoError(t, m.Shutdown(ctx))
	})
	return m, tel
}

func TestManagerStartListHangup(t *testing.T) {
	m, tel := newTestManager(t)

	var mu sync.Mutex
	var seen []Event
	m.Subscribe(func(ev Event) {
		mu.Lock()
		seen = append(seen, ev)
		mu.Unlock()
	})

	a, err := m.Start("room-a")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	b, err := m.Start("room-b")
	require.NoError(t, err)

	again, err := m.Start("room-a")
	assert.ErrorIs(t, err, ErrRoomActive)
	assert.Equal(t, a.ID(), again.ID())

	got, ok := m.Get(b.ID())
	require.True(t, ok)
	assert.Same(t, b, got)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, "room-a", list[0].Room)
	assert.Equal(t, "room-b", list[1].Room)

	require.NoError(t, m.Hangup(context.Background(), a.ID()))
	<-a.Done()
	assert.Equal(t, "operator hangup", a.Reason())
	assert.Equal(t, []string{"room-a"}, tel.Deleted())

	require.Eventually(t, func() bool { return m.Len() == 1 }, time.Second, 5*time.Millisecond)
	_, ok = m.Get(a.ID())
	assert.False(t, ok)

	mu.Lock()
	defer mu.Unlock()
	var terminated bool
	for _, ev := range seen {
		if ev.Session == a.ID() && ev.Type == EventState && ev.State == "TERMINATED" {
			terminated = true
		}
	}
	assert.True(t, terminated, "observer saw termination")
}

func TestManagerHangupUnknown(t *testing.T) {
	m, _ := newTestManager(t)
	assert.ErrorIs(t, m.Hangup(context.Background(), "nope"), ErrNotFound)
}

func TestManagerRoomReusableAfterTermination(t *testing.T) {
	m, _ := newTestManager(t)

	s, err := m.Start("room-a")
	require.NoError(t, err)
	require.NoError(t, m.Hangup(context.Background(), s.ID()))
	require.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 5*time.Millisecond)

	s2, err := m.Start("room-a")
	require.NoError(t, err)
	assert.NotEqual(t, s.ID(), s2.ID())
}

func TestManagerShutdown(t *testing.T) {
	m, tel := newTestManager(t)

	_, err := m.Start("room-a")
	require.NoError(t, err)
	_, err = m.Start("room-b")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		for _, info := range m.List() {
			if info.State != "AWAITING_PARTICIPANT" {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
	assert.Equal(t, 0, m.Len())
	assert.ElementsMatch(t, []string{"room-a", "room-b"}, tel.Deleted())

	_, err = m.Start("room-c")
	assert.ErrorIs(t, err, ErrManagerClosed)
}
