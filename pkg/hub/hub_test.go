package hub

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func runHub(t *testing.T) *Hub {
	t.Helper()
	h := New("events", quiet())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	require.Eventually(t, h.IsRunning, time.Second, time.Millisecond)
	return h
}

func attach(h *Hub, buffer int) *Client {
	c := &Client{hub: h, send: make(chan Message, buffer)}
	h.register <- c
	return c
}

func TestBroadcastJSON(t *testing.T) {
	h := runHub(t)
	a := attach(h, 4)
	b := attach(h, 4)
	require.Eventually(t, func() bool { return h.ClientCount() == 2 }, time.Second, time.Millisecond)

	require.NoError(t, h.BroadcastJSON(map[string]string{"type": "state", "state": "ACTIVE"}))
	for _, c := range []*Client{a, b} {
		select {
		case msg := <-c.send:
			assert.JSONEq(t, `{"type":"state","state":"ACTIVE"}`, string(msg.Data))
		case <-time.After(time.Second):
			t.Fatal("message not delivered")
		}
	}
}

func TestBroadcastJSONEncodeError(t *testing.T) {
	h := New("events", quiet())
	assert.Error(t, h.BroadcastJSON(func() {}))
}

func TestSlowClientDropped(t *testing.T) {
	h := runHub(t)
	slow := attach(h, 1)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, time.Millisecond)

	h.Broadcast(Message{Data: []byte("1")})
	h.Broadcast(Message{Data: []byte("2")})
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, time.Millisecond)

	msg, ok := <-slow.send
	assert.True(t, ok)
	assert.Equal(t, "1", string(msg.Data))
	_, ok = <-slow.send
	assert.False(t, ok, "send channel closed")
}

func TestUnregister(t *testing.T) {
	h := runHub(t)
	c := attach(h, 1)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, time.Millisecond)

	h.unregister <- c
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, time.Millisecond)
	_, ok := <-c.send
	assert.False(t, ok)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := New("events", quiet())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	c := attach(h, 1)
	cancel()

	<-h.done
	assert.False(t, h.IsRunning())
	_, ok := <-c.send
	assert.False(t, ok)
}
