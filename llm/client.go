package llm

import "context"

// Client is the provider-neutral completion surface. Implementations
// live in the provider subpackages and translate to their SDKs.
type Client interface {
	// Synchronous sends the request and waits for the full reply.
	Synchronous(ctx context.Context, req *Request) (*Response, error)

	// Stream sends the request and delivers the reply incrementally.
	// The caller must drain or Close the returned stream.
	Stream(ctx context.Context, req *Request) (Stream, error)
}

// Stream delivers one reply as a sequence of chunks. Recv returns
// io.EOF after the final chunk; any other error ends the stream. Close
// releases the underlying connection and is safe to call at any point,
// including mid-stream to abandon the reply.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}
