package turn

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/teslashibe/go-callagent/pkg/audioio"
	"github.com/teslashibe/go-callagent/pkg/tts"
)

const speechBuffer = 64

// item is a sentence to synthesize, or a break that ends the current
// utterance.
type item struct {
	text string
	brk  bool
}

// Speech is a handle on one assistant reply or fixed utterance.
type Speech struct {
	id            uint64
	runID         uint64
	interruptible bool

	ctx    context.Context
	cancel context.CancelFunc

	writer *writer
	tts    tts.Provider
	logger *slog.Logger

	onStart func(*Speech)
	onDone  func(*Speech)

	items      chan item
	seg        segmenter
	finishOnce sync.Once

	done        chan struct{}
	doneOnce    sync.Once
	started     atomic.Bool
	interrupted atomic.Bool

	mu         sync.Mutex
	utterances []*utterance
	text       strings.Builder
}

// finishedSpeech returns a handle that is already done.
func finishedSpeech() *Speech {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &Speech{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	close(s.done)
	return s
}

// ID identifies the speech in logs.
func (s *Speech) ID() uint64 { return s.id }

// Done is closed once the speech has played out or was interrupted.
func (s *Speech) Done() <-chan struct{} { return s.done }

// Wait blocks until the speech is done or ctx expires.
func (s *Speech) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Interruptible reports whether caller speech may cut the speech off.
func (s *Speech) Interruptible() bool { return s.interruptible }

// Interrupted reports whether the speech was cut off.
func (s *Speech) Interrupted() bool { return s.interrupted.Load() }

// Text returns everything the speech was given to say.
func (s *Speech) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.TrimSpace(s.text.String())
}

// Heard returns the sentences whose audio started playing.
func (s *Speech) Heard() string {
	s.mu.Lock()
	utterances := append([]*utterance(nil), s.utterances...)
	s.mu.Unlock()

	var parts []string
	for _, u := range utterances {
		parts = append(parts, u.heard()...)
	}
	return strings.Join(parts, " ")
}

// push appends reply text. Complete sentences go to synthesis at once.
func (s *Speech) push(delta string) error {
	s.mu.Lock()
	s.text.WriteString(delta)
	s.mu.Unlock()

	for _, sentence := range s.seg.push(delta) {
		if err := s.send(item{text: sentence}); err != nil {
			return err
		}
	}
	return nil
}

// flush synthesizes buffered text and closes the current utterance, so its
// audio can finish while the caller waits on something else.
func (s *Speech) flush() {
	if rest := s.seg.flush(); rest != "" {
		if s.send(item{text: rest}) != nil {
			return
		}
	}
	_ = s.send(item{brk: true})
}

// finish marks the end of the text.
func (s *Speech) finish() {
	s.finishOnce.Do(func() {
		if rest := s.seg.flush(); rest != "" {
			_ = s.send(item{text: rest})
		}
		close(s.items)
	})
}

func (s *Speech) send(it item) error {
	select {
	case s.items <- it:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// interrupt stops synthesis and drops every frame not yet played. Done
// closes once the synthesis goroutine has observed the cancellation.
func (s *Speech) interrupt() {
	s.interrupted.Store(true)
	s.cancel()

	s.mu.Lock()
	utterances := append([]*utterance(nil), s.utterances...)
	s.mu.Unlock()
	for _, u := range utterances {
		s.writer.cancel(u)
	}
}

func (s *Speech) markDone() {
	s.doneOnce.Do(func() {
		s.cancel()
		close(s.done)
		if s.onDone != nil {
			s.onDone(s)
		}
	})
}

// synthesize turns queued sentences into utterances. It runs in its own
// goroutine for the life of the speech.
func (s *Speech) synthesize() {
	defer s.markDone()

	var cur *utterance
	endCurrent := func() {
		if cur != nil {
			cur.end()
			cur = nil
		}
	}

	for {
		select {
		case <-s.ctx.Done():
			endCurrent()
			return

		case it, ok := <-s.items:
			if !ok {
				endCurrent()
				s.drain()
				return
			}
			if it.brk {
				endCurrent()
				continue
			}
			if cur == nil {
				cur = s.writer.open(s.ctx)
				s.mu.Lock()
				s.utterances = append(s.utterances, cur)
				s.mu.Unlock()
			}
			if s.started.CompareAndSwap(false, true) && s.onStart != nil {
				s.onStart(s)
			}
			cur.mark(it.text)
			if err := s.speak(cur, it.text); err != nil && s.ctx.Err() == nil {
				s.logger.Error("synthesis failed", "error", err, "text_len", len(it.text))
			}
		}
	}
}

// drain waits for the writer to finish every utterance.
func (s *Speech) drain() {
	s.mu.Lock()
	utterances := append([]*utterance(nil), s.utterances...)
	s.mu.Unlock()
	for _, u := range utterances {
		select {
		case <-u.done:
		case <-s.ctx.Done():
			return
		}
	}
}

// speak streams one sentence into u as 20ms frames.
func (s *Speech) speak(u *utterance, text string) error {
	stream, err := s.tts.Stream(s.ctx, text)
	if err != nil {
		return err
	}
	defer stream.Close()

	format := stream.Format()
	rate := format.SampleRate
	if rate == 0 {
		rate = audioio.RateTTS
	}
	size := rate / 50

	var pending []int16
	var odd []byte
	for {
		data, err := stream.Read()
		if err != nil {
			return err
		}
		if data == nil {
			break
		}
		if len(odd) > 0 {
			data = append(odd, data...)
			odd = nil
		}
		if len(data)%2 == 1 {
			odd = []byte{data[len(data)-1]}
			data = data[:len(data)-1]
		}
		pending = append(pending, audioio.BytesToSamples(data)...)

		n := len(pending) / size * size
		for _, frame := range audioio.Frames(pending[:n], size) {
			if err := u.push(audioio.AudioChunk{Samples: frame, SampleRate: rate, Channels: 1}); err != nil {
				return err
			}
		}
		pending = append([]int16(nil), pending[n:]...)
	}

	for _, frame := range audioio.Frames(pending, size) {
		if err := u.push(audioio.AudioChunk{Samples: frame, SampleRate: rate, Channels: 1}); err != nil {
			return err
		}
	}
	return nil
}

// segmenter cuts streamed text into sentences at a terminator followed by
// whitespace, and at line breaks.
type segmenter struct {
	buf string
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '…', ';':
		return true
	}
	return false
}

func (s *segmenter) push(delta string) []string {
	s.buf += delta

	var out []string
	start := 0
	prevTerm := false
	for i, r := range s.buf {
		if r == '\n' || prevTerm && unicode.IsSpace(r) {
			if sentence := strings.TrimSpace(s.buf[start:i]); sentence != "" {
				out = append(out, sentence)
			}
			start = i
		}
		prevTerm = isTerminator(r)
	}
	s.buf = s.buf[start:]
	return out
}

func (s *segmenter) flush() string {
	rest := strings.TrimSpace(s.buf)
	s.buf = ""
	return rest
}
