package llm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/parleyhq/parley/internal/config"
)

// Registry builds and caches adapters from configured provider entries.
type Registry struct {
	cfg      *config.Config
	adapters map[string]Adapter
}

func NewRegistry(cfg *config.Config) *Registry {
	return &Registry{
		cfg:      cfg,
		adapters: make(map[string]Adapter),
	}
}

// Default returns the adapter for the configured default provider.
func (r *Registry) Default() (Adapter, error) {
	if r.cfg.DefaultProvider == "" {
		return nil, fmt.Errorf("no default provider configured")
	}
	return r.Get(r.cfg.DefaultProvider)
}

// DefaultModel returns the configured model for the default provider, or
// empty when neither is configured.
func (r *Registry) DefaultModel() string {
	if entry, ok := r.cfg.Providers[r.cfg.DefaultProvider]; ok {
		return entry.Model
	}
	return ""
}

// Get returns the adapter for a named provider entry, creating it on
// first use. Adapters are wrapped with automatic retry for rate limits
// and transient errors.
func (r *Registry) Get(name string) (Adapter, error) {
	if adapter, ok := r.adapters[name]; ok {
		return adapter, nil
	}

	entry, ok := r.cfg.Providers[name]
	if !ok {
		// A built-in type name works without an explicit config entry.
		if config.InferProviderType(name, "") == "" {
			return nil, fmt.Errorf("provider %q not configured", name)
		}
		entry = config.ProviderConfig{}
	}
	if entry.Disabled {
		return nil, fmt.Errorf("provider %q is disabled", name)
	}

	adapter, err := r.build(name, &entry)
	if err != nil {
		return nil, err
	}
	adapter = WrapWithRetry(adapter, DefaultRetryConfig())
	r.adapters[name] = adapter
	return adapter, nil
}

// Register installs a pre-built adapter under a name, bypassing config
// lookup. Registered adapters are returned by Get as-is, without the
// retry wrapper.
func (r *Registry) Register(name string, adapter Adapter) {
	r.adapters[name] = adapter
}

// Names returns configured provider names in sorted order, skipping
// disabled entries.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.cfg.Providers))
	for name, entry := range r.cfg.Providers {
		if entry.Disabled {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) build(name string, entry *config.ProviderConfig) (Adapter, error) {
	switch config.InferProviderType(name, entry.Type) {
	case config.ProviderTypeAnthropic:
		return NewAnthropicAdapter(entry.APIKey, entry.Model)

	case config.ProviderTypeOpenAI:
		baseURL := entry.BaseURL
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		return NewOpenAIAdapter(baseURL, entry.APIKey, entry.Model, "OpenAI"), nil

	case config.ProviderTypeGemini:
		return NewGeminiAdapter(entry.APIKey, entry.Model), nil

	case config.ProviderTypeOpenAICompat:
		baseURL := entry.BaseURL
		if baseURL == "" {
			switch strings.ToLower(name) {
			case "ollama":
				baseURL = "http://localhost:11434/v1"
			case "lmstudio":
				baseURL = "http://localhost:1234/v1"
			default:
				return nil, fmt.Errorf("provider %q requires base_url", name)
			}
		}
		displayName := strings.ToUpper(name[:1]) + name[1:]
		return NewOpenAIAdapterWithHeaders(baseURL, entry.APIKey, entry.Model, displayName, nil), nil

	default:
		return nil, fmt.Errorf("unknown provider type for %q", name)
	}
}

// ParseProviderModel parses "provider:model" or just "provider" from a
// flag value. Model is empty when not specified.
func ParseProviderModel(s string, cfg *config.Config) (string, string, error) {
	parts := strings.SplitN(s, ":", 2)
	provider := strings.TrimSpace(parts[0])
	if provider == "" {
		return "", "", fmt.Errorf("invalid provider format: %q", s)
	}
	model := ""
	if len(parts) == 2 {
		model = strings.TrimSpace(parts[1])
	}

	if cfg != nil {
		if _, ok := cfg.Providers[provider]; ok {
			return provider, model, nil
		}
	}
	if config.InferProviderType(provider, "") != "" {
		return provider, model, nil
	}

	return "", "", fmt.Errorf("unknown provider: %s", provider)
}
