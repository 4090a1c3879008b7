package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInferProviderType(t *testing.T) {
	cases := []struct {
		name     string
		explicit string
		want     string
	}{
		{"anthropic", "", ProviderTypeAnthropic},
		{"openai", "", ProviderTypeOpenAI},
		{"gemini", "", ProviderTypeGemini},
		{"google", "", ProviderTypeGemini},
		{"ollama", "", ProviderTypeOpenAICompat},
		{"lmstudio", "", ProviderTypeOpenAICompat},
		{"Anthropic", "", ProviderTypeAnthropic},
		{"custom", "", ""},
		{"custom", ProviderTypeOpenAICompat, ProviderTypeOpenAICompat},
	}
	for _, tc := range cases {
		if got := InferProviderType(tc.name, tc.explicit); got != tc.want {
			t.Errorf("InferProviderType(%q, %q) = %q, want %q", tc.name, tc.explicit, got, tc.want)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PARLEY_CONFIG_DIR", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultProvider != "anthropic" {
		t.Errorf("DefaultProvider = %q", cfg.DefaultProvider)
	}
	if !cfg.RememberModel {
		t.Error("RememberModel must default to true")
	}
	if cfg.Retention.MaxAgeHours != 24 {
		t.Errorf("MaxAgeHours = %d", cfg.Retention.MaxAgeHours)
	}
	if cfg.Providers["anthropic"].Model == "" {
		t.Error("anthropic default model missing")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PARLEY_CONFIG_DIR", dir)

	content := `
provider: local
remember_model: false
providers:
  local:
    type: openai-compat
    base_url: http://localhost:8080/v1
    model: llama3
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultProvider != "local" {
		t.Errorf("DefaultProvider = %q", cfg.DefaultProvider)
	}
	if cfg.RememberModel {
		t.Error("remember_model override ignored")
	}
	local := cfg.Providers["local"]
	if local.Type != ProviderTypeOpenAICompat || local.BaseURL != "http://localhost:8080/v1" {
		t.Errorf("local = %+v", local)
	}
}

func TestStorePathOverride(t *testing.T) {
	cfg := &Config{Store: StoreConfig{Path: "/custom/parley.db"}}
	path, err := cfg.StorePath()
	if err != nil {
		t.Fatalf("StorePath: %v", err)
	}
	if path != "/custom/parley.db" {
		t.Errorf("path = %q", path)
	}
}

func TestStorePathDefault(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PARLEY_DATA_DIR", dir)

	path, err := (&Config{}).StorePath()
	if err != nil {
		t.Fatalf("StorePath: %v", err)
	}
	if path != filepath.Join(dir, "parley.db") {
		t.Errorf("path = %q", path)
	}
}

func TestMCPConfigPath(t *testing.T) {
	cfg := &Config{MCP: MCPConfig{ConfigPath: "/custom/mcp.json"}}
	path, err := cfg.MCPConfigPath()
	if err != nil {
		t.Fatalf("MCPConfigPath: %v", err)
	}
	if path != "/custom/mcp.json" {
		t.Errorf("path = %q", path)
	}

	dir := t.TempDir()
	t.Setenv("PARLEY_CONFIG_DIR", dir)
	path, err = (&Config{}).MCPConfigPath()
	if err != nil {
		t.Fatalf("MCPConfigPath default: %v", err)
	}
	if path != filepath.Join(dir, "mcp.json") {
		t.Errorf("default path = %q", path)
	}
}
