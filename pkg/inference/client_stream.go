package inference

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

// Stream returns a streaming chat response. Tool call fragments are
// assembled and delivered whole with the final chunk.
func (c *Client) Stream(ctx context.Context, req *ChatRequest) (Stream, error) {
	resp, err := c.post(ctx, c.stream, "/chat/completions", c.chatPayload(req, true), "Accept", "text/event-stream")
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.parseError(resp)
	}

	return &clientStream{
		reader: bufio.NewReader(resp.Body),
		body:   resp.Body,
		calls:  make(map[int]*ToolCall),
	}, nil
}

// clientStream implements Stream for SSE responses.
type clientStream struct {
	reader *bufio.Reader
	body   io.ReadCloser

	// Tool call fragments keyed by their stream index.
	calls  map[int]*ToolCall
	closed bool
}

// Recv returns the next stream chunk.
func (s *clientStream) Recv() (*StreamChunk, error) {
	if s.closed {
		return nil, ErrStreamClosed
	}
	for {
		line, err := s.reader.ReadString('\n')
		if err == io.EOF {
			return s.final(""), nil
		}
		if err != nil {
			return nil, WrapError(providerClient, fmt.Errorf("read stream: %w", err))
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return s.final(""), nil
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			// Skip malformed events
			continue
		}

		if len(event.Choices) == 0 {
			continue
		}

		choice := event.Choices[0]
		for _, tc := range choice.Delta.ToolCalls {
			s.accumulate(tc)
		}

		if choice.FinishReason != "" {
			chunk := s.final(choice.FinishReason)
			chunk.Delta = choice.Delta.Content
			return chunk, nil
		}

		if choice.Delta.Content == "" {
			continue
		}
		return &StreamChunk{Delta: choice.Delta.Content}, nil
	}
}

// accumulate merges one tool call fragment into the pending calls.
func (s *clientStream) accumulate(frag streamToolCall) {
	call, ok := s.calls[frag.Index]
	if !ok {
		call = &ToolCall{}
		s.calls[frag.Index] = call
	}
	if frag.ID != "" {
		call.ID = frag.ID
	}
	if frag.Function.Name != "" {
		call.Name = frag.Function.Name
	}
	call.Arguments += frag.Function.Arguments
}

// final builds the terminating chunk with every assembled tool call.
func (s *clientStream) final(reason string) *StreamChunk {
	chunk := &StreamChunk{FinishReason: reason, Done: true}
	if len(s.calls) == 0 {
		return chunk
	}
	indexes := make([]int, 0, len(s.calls))
	for i := range s.calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		chunk.ToolCalls = append(chunk.ToolCalls, *s.calls[i])
	}
	s.calls = make(map[int]*ToolCall)
	if chunk.FinishReason == "" {
		chunk.FinishReason = "tool_calls"
	}
	return chunk
}

// Close stops the stream.
func (s *clientStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

type streamToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// streamEvent is the SSE event format.
type streamEvent struct {
	Choices []struct {
		Delta struct {
			Content   string           `json:"content"`
			Role      string           `json:"role"`
			ToolCalls []streamToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}
