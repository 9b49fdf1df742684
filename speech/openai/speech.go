package openai

import (
	"bytes"
	"context"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// Speech implements speech.Recognizer and speech.Synthesizer against the
// OpenAI API (Whisper transcription, TTS synthesis).
type Speech struct {
	client   *openai.Client
	sttModel string
	ttsModel string
	voice    string
}

// NewSpeech creates a new Speech adapter.
// If apiKey is empty, it will return an error.
// If baseURL is empty, it will use the default OpenAI API endpoint.
// Empty models fall back to whisper-1 and tts-1; an empty voice to alloy.
func NewSpeech(apiKey, baseURL, sttModel, ttsModel, voice string) (*Speech, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	if sttModel == "" {
		sttModel = openai.Whisper1
	}
	if ttsModel == "" {
		ttsModel = string(openai.TTSModel1)
	}
	if voice == "" {
		voice = string(openai.VoiceAlloy)
	}

	return &Speech{
		client:   openai.NewClientWithConfig(config),
		sttModel: sttModel,
		ttsModel: ttsModel,
		voice:    voice,
	}, nil
}

// Transcribe implements speech.Recognizer.
func (s *Speech) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("audio is empty")
	}
	if filename == "" {
		filename = "utterance.wav"
	}

	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    s.sttModel,
		Reader:   bytes.NewReader(audio),
		FilePath: filename,
	})
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}

	return resp.Text, nil
}

// Synthesize implements speech.Synthesizer.
func (s *Speech) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("text is empty")
	}

	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.ttsModel),
		Input:          text,
		Voice:          openai.SpeechVoice(s.voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, fmt.Errorf("speech synthesis failed: %w", err)
	}
	defer resp.Close() //nolint:errcheck // Cleanup

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read synthesized audio: %w", err)
	}

	return audio, nil
}
