package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Provider type constants for the "type" field of a provider entry.
// When the type is omitted it is inferred from the provider's name.
const (
	ProviderTypeAnthropic    = "anthropic"
	ProviderTypeOpenAI       = "openai"
	ProviderTypeGemini       = "gemini"
	ProviderTypeOpenAICompat = "openai-compat"
)

type Config struct {
	// DefaultProvider names the entry in Providers used when a reply does
	// not request a specific provider.
	DefaultProvider string `mapstructure:"provider"`

	// RememberModel controls whether a topic's last-used model is saved
	// and reused for subsequent replies in that topic.
	RememberModel bool `mapstructure:"remember_model"`

	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Retention RetentionConfig           `mapstructure:"retention"`
	MCP       MCPConfig                 `mapstructure:"mcp"`
	Store     StoreConfig               `mapstructure:"store"`
}

// ProviderConfig configures a single model provider entry.
type ProviderConfig struct {
	Type     string `mapstructure:"type"`     // anthropic, openai, gemini, openai-compat
	APIKey   string `mapstructure:"api_key"`  // falls back to env for known types
	Model    string `mapstructure:"model"`    // default model for this provider
	BaseURL  string `mapstructure:"base_url"` // required for openai-compat
	Disabled bool   `mapstructure:"disabled"`
}

// RetentionConfig controls how long per-reply state is kept in memory.
type RetentionConfig struct {
	MaxAgeHours int `mapstructure:"max_age_hours"`
}

// MCPConfig locates the MCP server definitions file.
type MCPConfig struct {
	ConfigPath string `mapstructure:"config_path"`
}

// StoreConfig locates the conversation database.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

func Load() (*Config, error) {
	configPath, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configPath)
	viper.AddConfigPath(".")

	viper.SetDefault("provider", "anthropic")
	viper.SetDefault("remember_model", true)
	viper.SetDefault("retention.max_age_hours", 24)
	viper.SetDefault("providers.anthropic.model", "claude-sonnet-4-5")
	viper.SetDefault("providers.openai.model", "gpt-5.2")
	viper.SetDefault("providers.gemini.model", "gemini-2.5-flash")

	// Config file is optional; defaults plus env vars are enough to run.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}
	return &cfg, nil
}

// InferProviderType resolves a provider entry's type, falling back to the
// entry name when no explicit type is set.
func InferProviderType(name, explicit string) string {
	if explicit != "" {
		return explicit
	}
	switch strings.ToLower(name) {
	case "anthropic":
		return ProviderTypeAnthropic
	case "openai":
		return ProviderTypeOpenAI
	case "gemini", "google":
		return ProviderTypeGemini
	case "ollama", "lmstudio":
		return ProviderTypeOpenAICompat
	default:
		return ""
	}
}

// GetConfigDir returns the directory holding the config file, creating it
// if needed. Honors PARLEY_CONFIG_DIR for tests and unusual setups.
func GetConfigDir() (string, error) {
	if dir := os.Getenv("PARLEY_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home dir: %w", err)
	}
	dir := filepath.Join(home, ".config", "parley")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config dir: %w", err)
	}
	return dir, nil
}

// DataDir returns the directory for durable state such as the sqlite
// database, creating it if needed.
func DataDir() (string, error) {
	if dir := os.Getenv("PARLEY_DATA_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home dir: %w", err)
	}
	dir := filepath.Join(home, ".local", "share", "parley")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create data dir: %w", err)
	}
	return dir, nil
}

// StorePath returns the configured database path or the default location
// under the data directory.
func (c *Config) StorePath() (string, error) {
	if c.Store.Path != "" {
		return c.Store.Path, nil
	}
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "parley.db"), nil
}

// MCPConfigPath returns the configured MCP servers file or the default
// location under the config directory.
func (c *Config) MCPConfigPath() (string, error) {
	if c.MCP.ConfigPath != "" {
		return c.MCP.ConfigPath, nil
	}
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "mcp.json"), nil
}
