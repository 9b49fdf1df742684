package ollama

import (
	"context"
	"io"

	"github.com/ollama/ollama/api"

	"github.com/magpievoice/magpie/llm"
)

// replyStream adapts Ollama's callback-style Chat to llm.Stream. The
// request runs on its own goroutine and hands chunks over a channel;
// Close cancels the request context, which unblocks both sides.
type replyStream struct {
	cancel context.CancelFunc
	chunks chan llm.Chunk
	result chan error

	done bool
}

func newReplyStream(ctx context.Context, client *api.Client, req *api.ChatRequest) *replyStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &replyStream{
		cancel: cancel,
		chunks: make(chan llm.Chunk, 8),
		result: make(chan error, 1),
	}

	go func() {
		defer close(s.chunks)
		s.result <- client.Chat(ctx, req, func(resp api.ChatResponse) error {
			chunk := llm.Chunk{Text: resp.Message.Content}
			if resp.Done {
				chunk.StopReason = resp.DoneReason
				if chunk.StopReason == "" {
					chunk.StopReason = "stop"
				}
				chunk.Usage = &llm.Usage{
					InputTokens:  int64(resp.PromptEvalCount),
					OutputTokens: int64(resp.EvalCount),
				}
			}
			select {
			case s.chunks <- chunk:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	return s
}

func (s *replyStream) Recv() (llm.Chunk, error) {
	if s.done {
		return llm.Chunk{}, io.EOF
	}

	if chunk, ok := <-s.chunks; ok {
		return chunk, nil
	}

	s.done = true
	if err := <-s.result; err != nil {
		return llm.Chunk{}, wrapErr(err)
	}
	return llm.Chunk{}, io.EOF
}

func (s *replyStream) Close() error {
	s.cancel()
	return nil
}
