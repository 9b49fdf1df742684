// Package speech defines the provider-neutral speech interfaces. Provider
// adapters live in subpackages.
package speech

import "context"

// Recognizer converts captured audio into text.
type Recognizer interface {
	// Transcribe returns the text spoken in the audio. The filename hints
	// the container format to the provider (for example "utterance.wav").
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Synthesizer renders text as audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
