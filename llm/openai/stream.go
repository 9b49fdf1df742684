package openai

import (
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/magpievoice/magpie/llm"
)

// replyStream adapts go-openai's chat completion stream to llm.Stream.
type replyStream struct {
	stream *openai.ChatCompletionStream

	stopReason string
	usage      *llm.Usage
	done       bool
}

// Recv returns the next text delta. With IncludeUsage set the server
// sends a final choice-less frame carrying usage; that frame and the
// SDK's io.EOF collapse into one final textless chunk.
func (s *replyStream) Recv() (llm.Chunk, error) {
	if s.done {
		return llm.Chunk{}, io.EOF
	}

	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.done = true
			return llm.Chunk{StopReason: s.stopReason, Usage: s.usage}, nil
		}
		if err != nil {
			s.done = true
			return llm.Chunk{}, wrapErr(err)
		}

		if resp.Usage != nil {
			s.usage = &llm.Usage{
				InputTokens:  int64(resp.Usage.PromptTokens),
				OutputTokens: int64(resp.Usage.CompletionTokens),
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		if choice.FinishReason != "" {
			s.stopReason = string(choice.FinishReason)
		}
		if choice.Delta.Content != "" {
			return llm.Chunk{Text: choice.Delta.Content}, nil
		}
	}
}

func (s *replyStream) Close() error {
	s.done = true
	return s.stream.Close()
}
