package server

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/magpievoice/magpie/config"
	"github.com/magpievoice/magpie/llm"
	llmanthropic "github.com/magpievoice/magpie/llm/anthropic"
	llmollama "github.com/magpievoice/magpie/llm/ollama"
	llmopenai "github.com/magpievoice/magpie/llm/openai"
	"github.com/magpievoice/magpie/speech"
	speechopenai "github.com/magpievoice/magpie/speech/openai"
)

// NewLLMClient creates the concrete provider client for a resolved key.
// Client creation lives here rather than in the llm package to avoid an
// import cycle with the provider subpackages.
func NewLLMClient(key *llm.ClientKey, logger zerolog.Logger) (llm.Client, error) {
	switch key.Provider {
	case llm.ProviderAnthropic:
		if key.APIKey == "" {
			return nil, fmt.Errorf("anthropic API key is required")
		}
		client, err := llmanthropic.NewAnthropicClient(key.APIKey, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic client: %w", err)
		}
		return client, nil

	case llm.ProviderOllama:
		client, err := llmollama.NewOllamaClient(key.Host, key.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		return client, nil

	case llm.ProviderOpenAI:
		if key.APIKey == "" {
			return nil, fmt.Errorf("openai API key is required")
		}
		client, err := llmopenai.NewOpenAIClient(key.APIKey, key.BaseURL, key.Model, key.Organization)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai client: %w", err)
		}
		return client, nil

	default:
		return nil, fmt.Errorf("unknown provider: %s", key.Provider)
	}
}

// NewSpeech builds the speech recognizer and synthesizer from config.
// Either side is nil when its provider is unset; both sides currently run
// through the OpenAI speech endpoints.
func NewSpeech(cfg *config.ServerConfig) (speech.Recognizer, speech.Synthesizer, error) {
	sttProvider := cfg.Voice.STT.Provider
	ttsProvider := cfg.Voice.TTS.Provider
	if sttProvider == "" && ttsProvider == "" {
		return nil, nil, nil
	}
	if sttProvider != "" && sttProvider != "openai" {
		return nil, nil, fmt.Errorf("unsupported stt provider: %s", sttProvider)
	}
	if ttsProvider != "" && ttsProvider != "openai" {
		return nil, nil, fmt.Errorf("unsupported tts provider: %s", ttsProvider)
	}

	pc := config.LoadProviderConfig(cfg)
	apiKey := lo.CoalesceOrEmpty(pc.OpenAIAPIKey, os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, nil, fmt.Errorf("speech providers require an OpenAI API key")
	}
	baseURL := lo.CoalesceOrEmpty(pc.OpenAIBaseURL, os.Getenv("OPENAI_BASE_URL"))

	sp, err := speechopenai.NewSpeech(apiKey, baseURL, cfg.Voice.STT.Model, cfg.Voice.TTS.Model, cfg.Voice.TTS.Voice)
	if err != nil {
		return nil, nil, err
	}

	var recognizer speech.Recognizer
	var synthesizer speech.Synthesizer
	if sttProvider != "" {
		recognizer = sp
	}
	if ttsProvider != "" {
		synthesizer = sp
	}
	return recognizer, synthesizer, nil
}
