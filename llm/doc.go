// Package llm is the provider-neutral language model layer for voice
// conversations.
//
// The daemon talks to exactly one model per conversation but which one
// is a deployment decision, so everything above this package works in
// terms of the Client interface:
//
//	resp, err := client.Synchronous(ctx, &llm.Request{
//		System:   sess.Instructions(),
//		Messages: window,
//	})
//
// or, for incremental rendering on the conversation socket:
//
//	stream, err := client.Stream(ctx, req)
//	for {
//		chunk, err := stream.Recv()
//		...
//	}
//
// Messages are plain text. Utterances are transcribed before they reach
// this layer and replies are synthesized after, so there is no block or
// attachment structure to carry.
//
// The subpackages llm/anthropic, llm/openai, and llm/ollama implement
// Client over the respective SDKs. Provider selection happens once at
// daemon startup: ProviderRegistry.Resolve walks the ordered preference
// list from the config and returns a ClientKey for the first provider
// that is both enabled and configured, with environment variables
// (ANTHROPIC_API_KEY, OPENAI_API_KEY, OLLAMA_HOST, ...) as fallback
// credentials.
//
// Provider SDK failures are normalized into *Error with a coarse Kind
// (rate limited, auth, invalid request, overloaded) so the gateway can
// report something more useful than an opaque SDK string.
package llm
