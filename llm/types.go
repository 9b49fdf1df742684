package llm

// Role identifies who spoke a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversational turn, flattened to plain text. Voice
// conversations carry no richer structure than this; audio is
// transcribed before it reaches the model layer.
type Message struct {
	Role Role
	Text string
}

// Request is a provider-neutral completion request.
type Request struct {
	// Model names the provider-specific model. Empty falls back to the
	// client's configured default, when it has one.
	Model string

	// System is the system prompt. The conversation gateway swaps this
	// between turns as memory refreshes land.
	System string

	// Messages is the rolling conversation window, oldest first.
	Messages []Message

	MaxTokens   int64
	Temperature *float64
}

// Usage is the provider's token accounting for one reply. Fields are
// zero when the provider does not report them.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Response is one complete assistant reply.
type Response struct {
	Text       string
	StopReason string
	Usage      Usage
}

// Chunk is one increment of a streamed reply. Text carries new output;
// the final chunk before the stream ends reports StopReason and Usage
// when the provider supplies them, and may carry no text.
type Chunk struct {
	Text       string
	StopReason string
	Usage      *Usage
}
