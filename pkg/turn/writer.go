package turn

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-callagent/pkg/audioio"
)

const (
	utteranceBuffer = 50 // one second of 20ms frames
	writerQueue     = 64
)

// segment is a piece of text and where its audio starts in the utterance.
type segment struct {
	text   string
	offset time.Duration
}

// utterance is one contiguous run of assistant audio. The writer plays
// utterances strictly in the order they were opened.
type utterance struct {
	id     uint64
	frames chan audioio.AudioChunk
	ctx    context.Context
	cancel context.CancelFunc

	// done is closed once the writer has finished with the utterance,
	// whether it played out or was cancelled.
	done chan struct{}

	closeOnce sync.Once
	played    atomic.Int64
	stopped   atomic.Bool

	mu       sync.Mutex
	segments []segment
	pushed   time.Duration
}

// push queues a frame. It fails once the utterance is cancelled.
func (u *utterance) push(frame audioio.AudioChunk) error {
	select {
	case u.frames <- frame:
		u.mu.Lock()
		u.pushed += frame.Duration()
		u.mu.Unlock()
		return nil
	case <-u.ctx.Done():
		return u.ctx.Err()
	}
}

// mark records that text starts at the current end of the utterance.
func (u *utterance) mark(text string) {
	u.mu.Lock()
	u.segments = append(u.segments, segment{text: text, offset: u.pushed})
	u.mu.Unlock()
}

// end tells the writer no more frames follow.
func (u *utterance) end() {
	u.closeOnce.Do(func() { close(u.frames) })
}

// heard returns the text whose audio started playing.
func (u *utterance) heard() []string {
	played := time.Duration(u.played.Load())
	u.mu.Lock()
	defer u.mu.Unlock()
	var out []string
	for _, s := range u.segments {
		if played > s.offset {
			out = append(out, s.text)
		}
	}
	return out
}

// writer is the single goroutine that hands assistant audio to the sink.
type writer struct {
	sink   audioio.Sink
	rate   int
	logger *slog.Logger

	// onFrame is called after each frame reaches the sink.
	onFrame func(u *utterance)

	queue  chan *utterance
	nextID atomic.Uint64
}

func newWriter(sink audioio.Sink, rate int, logger *slog.Logger) *writer {
	return &writer{
		sink:   sink,
		rate:   rate,
		logger: logger.With("component", "turn.writer"),
		queue:  make(chan *utterance, writerQueue),
	}
}

// open starts a new utterance at the back of the queue.
func (w *writer) open(ctx context.Context) *utterance {
	uctx, cancel := context.WithCancel(ctx)
	u := &utterance{
		id:     w.nextID.Add(1),
		frames: make(chan audioio.AudioChunk, utteranceBuffer),
		ctx:    uctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	select {
	case w.queue <- u:
	case <-ctx.Done():
		cancel()
		close(u.done)
	}
	return u
}

// cancel drops every remaining frame of the utterance and clears audio the
// sink has buffered. The sink is left alone once the utterance is done.
func (w *writer) cancel(u *utterance) {
	already := u.stopped.Swap(true)
	u.cancel()
	if already {
		return
	}
	select {
	case <-u.done:
		return
	default:
	}
	if err := w.sink.Clear(); err != nil {
		w.logger.Warn("sink clear failed", "error", err)
	}
}

// run plays queued utterances until ctx is done.
func (w *writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-w.queue:
			w.play(u)
		}
	}
}

func (w *writer) play(u *utterance) {
	defer close(u.done)
	defer u.cancel()

	for {
		select {
		case <-u.ctx.Done():
			return
		case frame, ok := <-u.frames:
			if !ok {
				return
			}
			if u.stopped.Load() {
				return
			}
			frame = frame.Mono().To(w.rate)
			if err := w.sink.Write(u.ctx, frame); err != nil {
				if u.ctx.Err() == nil {
					w.logger.Error("sink write failed", "utterance", u.id, "error", err)
				}
				return
			}
			u.played.Add(int64(frame.Duration()))
			if w.onFrame != nil {
				w.onFrame(u)
			}
		}
	}
}
