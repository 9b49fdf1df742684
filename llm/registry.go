package llm

import (
	"fmt"
	"os"

	"github.com/samber/lo"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
)

// defaultAnthropicModel is used when a preference names the provider
// without a model. Ollama and OpenAI have no baked-in default; their
// model must come from the preference, the config, or the environment.
const defaultAnthropicModel = "claude-haiku-4-5"

// Preference is one entry of the ordered provider preference list.
type Preference struct {
	Provider    string
	Model       string
	Temperature *float64
}

// ClientKey carries everything needed to construct one provider client.
type ClientKey struct {
	Provider     string
	Model        string
	APIKey       string // anthropic, openai
	Host         string // ollama
	BaseURL      string // openai
	Organization string // openai
}

// ProviderConfig holds per-provider credentials from the daemon config.
// Empty fields fall back to the conventional environment variables at
// resolve time, so a bare environment-configured daemon still works.
type ProviderConfig struct {
	AnthropicAPIKey string
	OllamaHost      string
	OllamaModel     string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIModel     string
	OpenAIOrg       string
}

// ProviderRegistry resolves ordered provider preferences against the
// configured credentials. It only decides which provider wins; client
// construction stays with the caller to keep the provider subpackages
// out of this package's imports.
type ProviderRegistry struct {
	enabled map[string]bool
	config  *ProviderConfig
}

// NewProviderRegistry creates a registry over the given credentials.
// Only providers named in enabledProviders can win resolution.
func NewProviderRegistry(providerConfig *ProviderConfig, enabledProviders []string) *ProviderRegistry {
	enabled := make(map[string]bool, len(enabledProviders))
	for _, p := range enabledProviders {
		enabled[p] = true
	}
	return &ProviderRegistry{enabled: enabled, config: providerConfig}
}

// IsProviderEnabled reports whether the provider may win resolution.
func (r *ProviderRegistry) IsProviderEnabled(provider string) bool {
	return r.enabled[provider]
}

// IsProviderConfigured reports whether the provider has the credentials
// it needs, from the config or the environment.
func (r *ProviderRegistry) IsProviderConfigured(provider string) bool {
	switch provider {
	case ProviderAnthropic:
		return lo.CoalesceOrEmpty(r.config.AnthropicAPIKey, os.Getenv("ANTHROPIC_API_KEY")) != ""
	case ProviderOllama:
		// No credentials; the host has a default.
		return true
	case ProviderOpenAI:
		return lo.CoalesceOrEmpty(r.config.OpenAIAPIKey, os.Getenv("OPENAI_API_KEY")) != ""
	default:
		return false
	}
}

// Resolve returns a ClientKey for the first preference whose provider
// is enabled and configured. With no preferences it falls back to an
// arbitrary enabled provider and its default model, since a model name
// from one provider rarely works on another.
func (r *ProviderRegistry) Resolve(prefs []Preference) (*ClientKey, error) {
	if len(prefs) == 0 {
		for provider := range r.enabled {
			if !r.IsProviderConfigured(provider) {
				return nil, fmt.Errorf("enabled provider %s is not configured", provider)
			}
			return r.keyFor(provider, "")
		}
		return nil, fmt.Errorf("no providers enabled")
	}

	attempted := make([]string, 0, len(prefs))
	for _, pref := range prefs {
		attempted = append(attempted, pref.Provider)
		if !r.enabled[pref.Provider] || !r.IsProviderConfigured(pref.Provider) {
			continue
		}
		key, err := r.keyFor(pref.Provider, pref.Model)
		if err != nil {
			continue
		}
		return key, nil
	}
	return nil, fmt.Errorf("no available provider from preferences %v (enabled: %v)", attempted, lo.Keys(r.enabled))
}

// keyFor fills in the provider-specific credentials and model default.
func (r *ProviderRegistry) keyFor(provider, model string) (*ClientKey, error) {
	key := &ClientKey{Provider: provider, Model: model}

	switch provider {
	case ProviderAnthropic:
		key.APIKey = lo.CoalesceOrEmpty(r.config.AnthropicAPIKey, os.Getenv("ANTHROPIC_API_KEY"))
		if key.APIKey == "" {
			return nil, fmt.Errorf("anthropic API key not configured")
		}
		key.Model = lo.CoalesceOrEmpty(key.Model, defaultAnthropicModel)

	case ProviderOllama:
		key.Host = lo.CoalesceOrEmpty(r.config.OllamaHost, os.Getenv("OLLAMA_HOST"), "http://localhost:11434")
		key.Model = lo.CoalesceOrEmpty(key.Model, r.config.OllamaModel, os.Getenv("OLLAMA_MODEL"))
		if key.Model == "" {
			return nil, fmt.Errorf("ollama model not specified and no default configured")
		}

	case ProviderOpenAI:
		key.APIKey = lo.CoalesceOrEmpty(r.config.OpenAIAPIKey, os.Getenv("OPENAI_API_KEY"))
		if key.APIKey == "" {
			return nil, fmt.Errorf("openai API key not configured")
		}
		key.BaseURL = lo.CoalesceOrEmpty(r.config.OpenAIBaseURL, os.Getenv("OPENAI_BASE_URL"))
		key.Organization = lo.CoalesceOrEmpty(r.config.OpenAIOrg, os.Getenv("OPENAI_ORG_ID"))
		key.Model = lo.CoalesceOrEmpty(key.Model, r.config.OpenAIModel, os.Getenv("OPENAI_MODEL"))

	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}

	return key, nil
}
