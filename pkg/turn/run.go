package turn

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/teslashibe/go-callagent/pkg/audioio"
	"github.com/teslashibe/go-callagent/pkg/inference"
	"github.com/teslashibe/go-callagent/pkg/stt"
	"github.com/teslashibe/go-callagent/pkg/tools"
	"github.com/teslashibe/go-callagent/pkg/vad"
)

// readAudio feeds caller audio to transcription and the VAD.
func (c *Controller) readAudio(ctx context.Context, stream stt.Stream, detector *vad.Detector) {
	in := c.deps.Source.Stream()
	sendFailed := false
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-in:
			if !ok {
				c.post(ctx, audioClosed{})
				return
			}
			chunk = chunk.Mono().To(audioio.RateSTT)
			if err := stream.Send(chunk.Bytes()); err != nil && !sendFailed {
				sendFailed = true
				c.logger.Warn("transcription send failed", "error", err)
			}
			if ev, ok := detector.Process(chunk); ok {
				c.post(ctx, vadEvent{ev: ev})
			}
			if detector.Speaking() {
				c.post(ctx, vadProgress{speech: detector.SpeechDuration()})
			}
		}
	}
}

func (c *Controller) readTranscripts(ctx context.Context, stream stt.Stream) {
	for ev := range stream.Events() {
		c.post(ctx, transcriptEvent{ev: ev})
	}
	c.post(ctx, transcriptionEnded{err: stream.Err()})
}

func (c *Controller) chatRequest(msgs []inference.Message, withTools bool) *inference.ChatRequest {
	req := &inference.ChatRequest{
		Messages:    msgs,
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
	}
	if withTools {
		req.Tools = c.deps.Tools.Definitions()
		req.ToolChoice = "auto"
	}
	return req
}

// generate runs one reply: tool rounds up to MaxToolSteps, then a final
// call without tools.
func (c *Controller) generate(ctx context.Context, r *run, msgs []inference.Message, s *Speech, d *draft, opts replyOptions) {
	defer s.finish()
	runID := r.id
	logger := c.logger.With("turn", runID)

	if d != nil {
		defer d.cancel()
		if text, ok := awaitDraft(ctx, d); ok {
			logger.Debug("preemptive draft adopted")
			c.metrics.MarkFirstToken()
			_ = s.push(text)
			c.post(ctx, runDone{run: runID, msg: inference.NewAssistantMessage(text)})
			return
		}
		logger.Debug("preemptive draft discarded")
	}

	shortened := false
	for step := 0; ; step++ {
		withTools := !opts.noTools && c.deps.Tools != nil && step < c.cfg.MaxToolSteps
		text, calls, err := c.stream(ctx, c.chatRequest(msgs, withTools), s)
		if err != nil && text == "" && !shortened && inference.IsContextLength(err) {
			shortened = true
			logger.Warn("conversation exceeds the model context, dropping older turns", "messages", len(msgs))
			msgs = inference.TrimHistory(msgs, max(1, conversationLen(msgs)/2))
			step--
			continue
		}
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("model call failed", "step", step, "error", err)
			}
			c.post(ctx, runDone{run: runID, msg: inference.NewAssistantMessage(text), err: err})
			return
		}
		if len(calls) == 0 || !withTools {
			if len(calls) > 0 {
				logger.Warn("tool calls ignored after the last tool round", "count", len(calls))
			}
			c.post(ctx, runDone{run: runID, msg: inference.NewAssistantMessage(text)})
			return
		}

		s.flush()
		if !r.beginRound(ctx) {
			return
		}
		round := c.dispatch(ctx, logger, text, calls)
		// Completed calls are recorded even when the caller cut in.
		c.post(context.Background(), toolRound{run: runID, msgs: round})
		if ctx.Err() != nil {
			return
		}
		msgs = append(msgs, round...)
	}
}

// stream runs one model call, speaking text as it arrives when s is set.
func (c *Controller) stream(ctx context.Context, req *inference.ChatRequest, s *Speech) (string, []inference.ToolCall, error) {
	st, err := c.deps.LLM.Stream(ctx, req)
	if err != nil {
		return "", nil, err
	}
	defer st.Close()

	var text strings.Builder
	var calls []inference.ToolCall
	for {
		chunk, err := st.Recv()
		if errors.Is(err, io.EOF) {
			return text.String(), calls, nil
		}
		if err != nil {
			return text.String(), calls, err
		}
		if chunk.Delta != "" {
			if text.Len() == 0 && s != nil {
				c.metrics.MarkFirstToken()
			}
			text.WriteString(chunk.Delta)
			if s != nil {
				if err := s.push(chunk.Delta); err != nil {
					return text.String(), calls, err
				}
			}
		}
		calls = append(calls, chunk.ToolCalls...)
		if chunk.Done {
			return text.String(), calls, nil
		}
	}
}

// dispatch runs a tool round in call order and returns the messages that
// record it. Calls not yet started when ctx ends are skipped and left out.
func (c *Controller) dispatch(ctx context.Context, logger *slog.Logger, text string, calls []inference.ToolCall) []inference.Message {
	calls = append([]inference.ToolCall(nil), calls...)
	results := make([]tools.Result, 0, len(calls))
	for i, call := range calls {
		if ctx.Err() != nil {
			logger.Info("tool round cut short", "completed", i, "skipped", len(calls)-i)
			calls = calls[:i]
			break
		}
		inv, err := tools.FromToolCall(call)
		calls[i].ID = inv.CallID
		if err != nil {
			logger.Warn("malformed tool arguments", "tool", call.Name, "call_id", inv.CallID, "error", err)
			results = append(results, tools.Err(tools.KindInvalidArgument, err.Error()))
		} else {
			results = append(results, c.deps.Tools.Invoke(ctx, inv))
		}
		if c.onToolCall != nil {
			c.onToolCall(inv, results[i])
		}
	}
	if len(calls) == 0 {
		return nil
	}

	round := make([]inference.Message, 0, len(calls)+1)
	round = append(round, inference.NewToolCallMessage(text, calls))
	for i, call := range calls {
		round = append(round, inference.NewToolMessage(call.ID, results[i].Text))
	}
	return round
}

// prepare makes the preemptive model call. Tools are offered so that a
// reply that needs one is recognized and discarded; they are never run.
func (c *Controller) prepare(ctx context.Context, d *draft, msgs []inference.Message) {
	text, calls, err := c.stream(ctx, c.chatRequest(msgs, c.deps.Tools != nil), nil)
	d.result <- draftResult{text: text, calls: len(calls) > 0, err: err}
}

// awaitDraft returns the draft's text when it is usable as the reply.
func awaitDraft(ctx context.Context, d *draft) (string, bool) {
	select {
	case res := <-d.result:
		text := strings.TrimSpace(res.text)
		return text, res.err == nil && !res.calls && text != ""
	case <-ctx.Done():
		return "", false
	}
}

func conversationLen(msgs []inference.Message) int {
	n := 0
	for _, m := range msgs {
		if m.Role != inference.RoleSystem {
			n++
		}
	}
	return n
}
