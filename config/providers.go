package config

import (
	"github.com/magpievoice/magpie/llm"
)

// LoadProviderConfig maps the server config onto the LLM provider
// credential set. The mapping is deliberately dumb: environment
// fallbacks and defaults are applied by the provider registry at
// resolve time, not here.
func LoadProviderConfig(cfg *ServerConfig) llm.ProviderConfig {
	if cfg == nil {
		return llm.ProviderConfig{}
	}
	return llm.ProviderConfig{
		AnthropicAPIKey: cfg.Anthropic.APIKey,
		OllamaHost:      cfg.Ollama.Host,
		OllamaModel:     cfg.Ollama.Model,
		OpenAIAPIKey:    cfg.OpenAI.APIKey,
		OpenAIBaseURL:   cfg.OpenAI.BaseURL,
		OpenAIModel:     cfg.OpenAI.Model,
		OpenAIOrg:       cfg.OpenAI.Organization,
	}
}
