package llm

import (
	"testing"

	"github.com/parleyhq/parley/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		DefaultProvider: "anthropic",
		Providers: map[string]config.ProviderConfig{
			"anthropic": {APIKey: "sk-test", Model: "claude-sonnet-4-5"},
			"openai":    {APIKey: "sk-test", Model: "gpt-5.2"},
			"broken":    {Disabled: true},
			"local":     {Type: config.ProviderTypeOpenAICompat, BaseURL: "http://localhost:8080/v1"},
		},
	}
}

func TestRegistryGetCachesAdapters(t *testing.T) {
	registry := NewRegistry(testConfig())

	first, err := registry.Get("openai")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := registry.Get("openai")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if first != second {
		t.Error("adapter not cached")
	}
}

func TestRegistryRejectsDisabled(t *testing.T) {
	registry := NewRegistry(testConfig())
	if _, err := registry.Get("broken"); err == nil {
		t.Error("disabled provider must not resolve")
	}
}

func TestRegistryUnknownProvider(t *testing.T) {
	registry := NewRegistry(testConfig())
	if _, err := registry.Get("mystery"); err == nil {
		t.Error("unknown provider must fail")
	}
}

func TestRegistryCompatRequiresBaseURL(t *testing.T) {
	cfg := testConfig()
	cfg.Providers["custom"] = config.ProviderConfig{Type: config.ProviderTypeOpenAICompat}
	registry := NewRegistry(cfg)
	if _, err := registry.Get("custom"); err == nil {
		t.Error("compat provider without base_url must fail")
	}
	if _, err := registry.Get("local"); err != nil {
		t.Errorf("compat provider with base_url: %v", err)
	}
}

func TestRegistryRegisterBypassesConfig(t *testing.T) {
	registry := NewRegistry(&config.Config{})
	adapter := &flakyAdapter{}
	registry.Register("custom", adapter)

	got, err := registry.Get("custom")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != Adapter(adapter) {
		t.Error("registered adapter not returned as-is")
	}
}

func TestRegistryDefaultModel(t *testing.T) {
	registry := NewRegistry(testConfig())
	if got := registry.DefaultModel(); got != "claude-sonnet-4-5" {
		t.Errorf("DefaultModel = %q", got)
	}
	if got := NewRegistry(&config.Config{}).DefaultModel(); got != "" {
		t.Errorf("DefaultModel on empty config = %q", got)
	}
}

func TestRegistryNamesSkipsDisabled(t *testing.T) {
	registry := NewRegistry(testConfig())
	names := registry.Names()
	want := []string{"anthropic", "local", "openai"}
	if len(names) != len(want) {
		t.Fatalf("Names = %v", names)
	}
	for i, name := range want {
		if names[i] != name {
			t.Errorf("Names[%d] = %q, want %q", i, names[i], name)
		}
	}
}

func TestParseProviderModel(t *testing.T) {
	cfg := testConfig()
	cases := []struct {
		in       string
		provider string
		model    string
		wantErr  bool
	}{
		{"anthropic", "anthropic", "", false},
		{"anthropic:claude-opus-4-5", "anthropic", "claude-opus-4-5", false},
		{"local:some-model", "local", "some-model", false},
		{"ollama:llama3", "ollama", "llama3", false},
		{"mystery:model", "", "", true},
		{":model", "", "", true},
	}
	for _, tc := range cases {
		provider, model, err := ParseProviderModel(tc.in, cfg)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseProviderModel(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseProviderModel(%q): %v", tc.in, err)
			continue
		}
		if provider != tc.provider || model != tc.model {
			t.Errorf("ParseProviderModel(%q) = %q/%q, want %q/%q",
				tc.in, provider, model, tc.provider, tc.model)
		}
	}
}
