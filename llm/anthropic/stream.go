package anthropic

import (
	"io"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/magpievoice/magpie/llm"
)

// replyStream adapts the SDK's SSE stream to llm.Stream. Recv pulls
// directly on the caller's goroutine; there is no buffering beyond the
// SDK's own.
type replyStream struct {
	stream *ssestream.Stream[anthropic.MessageStreamEventUnion]

	stopReason string
	usage      *llm.Usage
	done       bool
}

// Recv returns the next text delta. The message_stop event becomes a
// final textless chunk carrying the stop reason and usage.
func (s *replyStream) Recv() (llm.Chunk, error) {
	if s.done {
		return llm.Chunk{}, io.EOF
	}

	for s.stream.Next() {
		switch evt := s.stream.Current().AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := evt.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				return llm.Chunk{Text: delta.Text}, nil
			}

		case anthropic.MessageDeltaEvent:
			s.stopReason = string(evt.Delta.StopReason)
			s.usage = &llm.Usage{
				InputTokens:  evt.Usage.InputTokens,
				OutputTokens: evt.Usage.OutputTokens,
			}

		case anthropic.MessageStopEvent:
			s.done = true
			return llm.Chunk{StopReason: s.stopReason, Usage: s.usage}, nil
		}
	}

	s.done = true
	if err := s.stream.Err(); err != nil {
		return llm.Chunk{}, wrapErr(err)
	}
	return llm.Chunk{}, io.EOF
}

func (s *replyStream) Close() error {
	s.done = true
	return s.stream.Close()
}
