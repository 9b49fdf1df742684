package llm

import (
	"testing"
)

func TestProviderRegistryIsProviderEnabled(t *testing.T) {
	registry := NewProviderRegistry(&ProviderConfig{}, []string{ProviderAnthropic, ProviderOllama})

	if !registry.IsProviderEnabled(ProviderAnthropic) {
		t.Error("anthropic should be enabled")
	}
	if !registry.IsProviderEnabled(ProviderOllama) {
		t.Error("ollama should be enabled")
	}
	if registry.IsProviderEnabled(ProviderOpenAI) {
		t.Error("openai should not be enabled")
	}
}

func TestProviderRegistryIsProviderConfigured(t *testing.T) {
	// Clear env fallbacks so only the explicit config counts.
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	registry := NewProviderRegistry(&ProviderConfig{}, []string{ProviderAnthropic})
	if registry.IsProviderConfigured(ProviderAnthropic) {
		t.Error("anthropic should not be configured without an API key")
	}

	registry = NewProviderRegistry(&ProviderConfig{AnthropicAPIKey: "test-key"}, []string{ProviderAnthropic})
	if !registry.IsProviderConfigured(ProviderAnthropic) {
		t.Error("anthropic should be configured with an API key")
	}

	// Ollama needs no credentials.
	registry = NewProviderRegistry(&ProviderConfig{}, []string{ProviderOllama})
	if !registry.IsProviderConfigured(ProviderOllama) {
		t.Error("ollama should always be configured")
	}

	registry = NewProviderRegistry(&ProviderConfig{}, []string{ProviderOpenAI})
	if registry.IsProviderConfigured(ProviderOpenAI) {
		t.Error("openai should not be configured without an API key")
	}

	registry = NewProviderRegistry(&ProviderConfig{OpenAIAPIKey: "test-key"}, []string{ProviderOpenAI})
	if !registry.IsProviderConfigured(ProviderOpenAI) {
		t.Error("openai should be configured with an API key")
	}
}

func TestProviderRegistryIsProviderConfiguredEnvFallback(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-key")

	registry := NewProviderRegistry(&ProviderConfig{}, []string{ProviderAnthropic})
	if !registry.IsProviderConfigured(ProviderAnthropic) {
		t.Error("anthropic should be configured via ANTHROPIC_API_KEY")
	}
}

func TestProviderRegistryResolveWithPreferences(t *testing.T) {
	registry := NewProviderRegistry(&ProviderConfig{
		AnthropicAPIKey: "test-key",
		OllamaHost:      "http://localhost:11434",
		OllamaModel:     "mistral:20b",
	}, []string{ProviderAnthropic, ProviderOllama})

	prefs := []Preference{
		{Provider: ProviderAnthropic, Model: "claude-sonnet-4-20250514"},
		{Provider: ProviderOllama, Model: "mistral:20b"},
	}

	key, err := registry.Resolve(prefs)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if key.Provider != ProviderAnthropic {
		t.Errorf("expected provider %q, got %q", ProviderAnthropic, key.Provider)
	}
	if key.Model != "claude-sonnet-4-20250514" {
		t.Errorf("expected the preferred model, got %q", key.Model)
	}
	if key.APIKey != "test-key" {
		t.Errorf("expected the configured API key, got %q", key.APIKey)
	}
}

func TestProviderRegistryResolveWithoutPreferences(t *testing.T) {
	registry := NewProviderRegistry(&ProviderConfig{AnthropicAPIKey: "test-key"}, []string{ProviderAnthropic})

	// Without preferences the enabled provider and its default model apply.
	key, err := registry.Resolve(nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if key.Provider != ProviderAnthropic {
		t.Errorf("expected provider %q, got %q", ProviderAnthropic, key.Provider)
	}
	if key.Model != defaultAnthropicModel {
		t.Errorf("expected the provider default model, got %q", key.Model)
	}
}

func TestProviderRegistryResolveFallback(t *testing.T) {
	// Ollama is preferred but not enabled; resolution falls through.
	registry := NewProviderRegistry(&ProviderConfig{AnthropicAPIKey: "test-key"}, []string{ProviderAnthropic})

	prefs := []Preference{
		{Provider: ProviderOllama, Model: "mistral:20b"},
		{Provider: ProviderAnthropic, Model: "claude-haiku-4-5"},
	}

	key, err := registry.Resolve(prefs)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if key.Provider != ProviderAnthropic {
		t.Errorf("expected fallback to anthropic, got %q", key.Provider)
	}
}

func TestProviderRegistryResolveOllamaDefaults(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "")
	t.Setenv("OLLAMA_MODEL", "")

	registry := NewProviderRegistry(&ProviderConfig{OllamaModel: "qwen3:8b"}, []string{ProviderOllama})
	key, err := registry.Resolve([]Preference{{Provider: ProviderOllama}})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if key.Host != "http://localhost:11434" {
		t.Errorf("expected the default host, got %q", key.Host)
	}
	if key.Model != "qwen3:8b" {
		t.Errorf("expected the configured model, got %q", key.Model)
	}

	// Without a model from anywhere, ollama cannot resolve.
	registry = NewProviderRegistry(&ProviderConfig{}, []string{ProviderOllama})
	if _, err := registry.Resolve([]Preference{{Provider: ProviderOllama}}); err == nil {
		t.Error("expected an error when no ollama model is configured")
	}
}

func TestProviderRegistryResolveNoAvailableProvider(t *testing.T) {
	registry := NewProviderRegistry(&ProviderConfig{}, []string{})

	if _, err := registry.Resolve(nil); err == nil {
		t.Error("expected an error when no providers are enabled")
	}
}
