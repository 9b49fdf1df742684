package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// AnthropicConfig carries the Anthropic credentials.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key,omitempty"`
}

// OllamaConfig locates a local or remote Ollama server.
type OllamaConfig struct {
	Host  string `yaml:"host,omitempty"`  // Defaults to http://localhost:11434
	Model string `yaml:"model,omitempty"` // Used when a preference names no model
}

// OpenAIConfig carries the OpenAI credentials. BaseURL supports
// API-compatible gateways.
type OpenAIConfig struct {
	APIKey       string `yaml:"api_key,omitempty"`
	BaseURL      string `yaml:"base_url,omitempty"`
	Model        string `yaml:"model,omitempty"` // Used when a preference names no model
	Organization string `yaml:"organization,omitempty"`
}

// LLMPreference is one entry of the ordered provider list under
// voice.llm. The daemon uses the first preference whose provider has
// working credentials.
type LLMPreference struct {
	Provider    string   `yaml:"provider" json:"provider"` // "anthropic", "ollama", or "openai"
	Model       string   `yaml:"model,omitempty" json:"model,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
}

// DatabaseConfig locates the SQLite database and its migrations.
type DatabaseConfig struct {
	Path       string `yaml:"path,omitempty"`       // SQLite database path
	Migrations string `yaml:"migrations,omitempty"` // Migrations directory
}

// MemoryConfig configures the remote memory service and the integration
// pipeline. Duration fields are Go duration strings ("3s", "2m"); values
// that fail to parse fall back to the pipeline defaults.
type MemoryConfig struct {
	BaseURL          string `yaml:"base_url,omitempty"`
	APIKey           string `yaml:"api_key,omitempty"`
	UserID           string `yaml:"user_id,omitempty"`    // Identifier scoping whose memory is read and written
	AgentID          string `yaml:"agent_id,omitempty"`   // Identifier scoping which agent's view of the user applies
	UserName         string `yaml:"user_name,omitempty"`  // Optional, forwarded to the service
	AgentName        string `yaml:"agent_name,omitempty"` // Optional, forwarded to the service
	FlushThreshold   int    `yaml:"flush_threshold,omitempty"`
	PollInterval     string `yaml:"poll_interval,omitempty"`
	MaxPollAttempts  int    `yaml:"max_poll_attempts,omitempty"`
	PollDeadline     string `yaml:"poll_deadline,omitempty"`
	CloseGracePeriod string `yaml:"close_grace_period,omitempty"`
	RefreshSchedule  string `yaml:"refresh_schedule,omitempty"` // Cron expression or duration; empty disables
}

// PollIntervalDuration parses PollInterval, returning 0 when unset or
// unparseable so the pipeline default applies.
func (c MemoryConfig) PollIntervalDuration() time.Duration {
	return parseDuration(c.PollInterval)
}

// PollDeadlineDuration parses PollDeadline.
func (c MemoryConfig) PollDeadlineDuration() time.Duration {
	return parseDuration(c.PollDeadline)
}

// CloseGracePeriodDuration parses CloseGracePeriod.
func (c MemoryConfig) CloseGracePeriodDuration() time.Duration {
	return parseDuration(c.CloseGracePeriod)
}

// STTConfig selects the speech-to-text provider and model.
type STTConfig struct {
	Provider string `yaml:"provider,omitempty"`
	Model    string `yaml:"model,omitempty"`
}

// TTSConfig selects the text-to-speech provider, model, and voice.
type TTSConfig struct {
	Provider string `yaml:"provider,omitempty"`
	Model    string `yaml:"model,omitempty"`
	Voice    string `yaml:"voice,omitempty"`
}

// VoiceConfig configures the conversation loop: base instructions and the
// STT/LLM/TTS provider selections.
type VoiceConfig struct {
	BaseInstructions string          `yaml:"base_instructions,omitempty"`
	LLM              []LLMPreference `yaml:"llm,omitempty"` // Ordered list of provider/model preferences
	STT              STTConfig       `yaml:"stt,omitempty"`
	TTS              TTSConfig       `yaml:"tts,omitempty"`
}

// RedisConfig configures the Redis prompt snapshot backend.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
	TTL      string `yaml:"ttl,omitempty"` // Duration string; empty or 0 means no expiry
}

// TTLDuration parses TTL, returning 0 when unset or unparseable.
func (c RedisConfig) TTLDuration() time.Duration {
	return parseDuration(c.TTL)
}

// PromptStoreConfig selects where composed prompts are snapshotted.
type PromptStoreConfig struct {
	Backend string      `yaml:"backend,omitempty"` // "file" or "redis"
	Dir     string      `yaml:"dir,omitempty"`     // Directory for the file backend
	Redis   RedisConfig `yaml:"redis,omitempty"`
}

// ServerConfig represents server-side configuration for the magpied daemon.
type ServerConfig struct {
	Server struct {
		Listen string `yaml:"listen,omitempty"` // TCP address (default: ":8790")
	} `yaml:"server,omitempty"`

	Database DatabaseConfig `yaml:"database,omitempty"`
	Memory   MemoryConfig   `yaml:"memory,omitempty"`
	Voice    VoiceConfig    `yaml:"voice,omitempty"`

	// LLM provider configurations
	Anthropic AnthropicConfig `yaml:"anthropic,omitempty"`
	OpenAI    OpenAIConfig    `yaml:"openai,omitempty"`
	Ollama    OllamaConfig    `yaml:"ollama,omitempty"`

	PromptStore PromptStoreConfig `yaml:"prompt_store,omitempty"`
}

// ClientConfig represents client-side configuration for the magpie CLI.
type ClientConfig struct {
	ServerURL string `yaml:"server_url,omitempty"` // Daemon base URL (default: http://localhost:8790)
	Theme     string `yaml:"theme,omitempty"`      // UI theme (default: solarized)
	Notify    bool   `yaml:"notify,omitempty"`     // Desktop notification on memory refresh
}

// GetServerConfigPath returns the default server config file path.
// Can be overridden via MAGPIE_CONFIG_PATH environment variable.
func GetServerConfigPath() string {
	if envPath := os.Getenv("MAGPIE_CONFIG_PATH"); envPath != "" {
		return ExpandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.magpied/config.yaml"
	}
	return filepath.Join(homeDir, ".magpied", "config.yaml")
}

// GetClientConfigPath returns the default client config file path.
// Can be overridden via MAGPIE_CLIENT_CONFIG_PATH environment variable.
func GetClientConfigPath() string {
	if envPath := os.Getenv("MAGPIE_CLIENT_CONFIG_PATH"); envPath != "" {
		return ExpandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.magpied/cli.yaml"
	}
	return filepath.Join(homeDir, ".magpied", "cli.yaml")
}

// ExpandPath expands a leading ~ to the user's home directory. Config
// paths (database, prompt directory, log file) run through this before
// use.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// defaultServerConfig returns the baseline the user config merges onto.
func defaultServerConfig() ServerConfig {
	defaults := ServerConfig{
		Database: DatabaseConfig{
			Path:       "magpie.db",
			Migrations: "./migrations",
		},
		Memory: MemoryConfig{
			BaseURL:          "https://api.memu.so",
			FlushThreshold:   4,
			PollInterval:     "3s",
			MaxPollAttempts:  20,
			PollDeadline:     "2m",
			CloseGracePeriod: "15s",
		},
		Voice: VoiceConfig{
			BaseInstructions: "You are a friendly voice assistant. Keep replies short and conversational.",
			LLM: []LLMPreference{
				{Provider: "openai", Model: "gpt-4o-mini"},
			},
			STT: STTConfig{Provider: "openai", Model: "whisper-1"},
			TTS: TTSConfig{Provider: "openai", Model: "tts-1", Voice: "alloy"},
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
		},
		Ollama: OllamaConfig{
			Host:  "http://localhost:11434",
			Model: "llama3.2:3b",
		},
		PromptStore: PromptStoreConfig{
			Backend: "file",
			Dir:     "~/.magpied/prompts",
			Redis: RedisConfig{
				Prefix: "magpie:prompt:",
			},
		},
	}
	defaults.Server.Listen = ":8790"
	return defaults
}

// LoadServerConfig loads server-side configuration, merging the config
// file (if present) onto the defaults.
func LoadServerConfig(path string) (*ServerConfig, error) {
	defaults := defaultServerConfig()

	expandedPath := ExpandPath(path)
	if _, err := os.Stat(expandedPath); err != nil {
		return &defaults, nil
	}

	configYAML, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
	}

	var userConfig ServerConfig
	if err := yaml.Unmarshal(configYAML, &userConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := mergo.Merge(&defaults, userConfig, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge config: %w", err)
	}

	return &defaults, nil
}

// LoadClientConfig loads client-side configuration.
// Returns defaults if the config file doesn't exist.
func LoadClientConfig(path string) (*ClientConfig, error) {
	defaults := ClientConfig{
		ServerURL: "http://localhost:8790",
		Theme:     "solarized",
	}

	expandedPath := ExpandPath(path)
	if _, err := os.Stat(expandedPath); err != nil {
		return &defaults, nil
	}

	configYAML, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
	if err != nil {
		return nil, fmt.Errorf("failed to read client config file %q: %w", expandedPath, err)
	}

	var config ClientConfig
	if err := yaml.Unmarshal(configYAML, &config); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}

	if err := mergo.Merge(&defaults, config, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge client config: %w", err)
	}

	return &defaults, nil
}

// SaveServerConfig saves the server configuration to the specified path.
func SaveServerConfig(cfg *ServerConfig, path string) error {
	return saveYAML(cfg, path)
}

// SaveClientConfig saves the client configuration to the specified path.
func SaveClientConfig(cfg *ClientConfig, path string) error {
	return saveYAML(cfg, path)
}

func saveYAML(cfg any, path string) error {
	expandedPath := ExpandPath(path)

	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
