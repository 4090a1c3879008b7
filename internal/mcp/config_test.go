package mcp

import (
	"path/filepath"
	"testing"
)

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(cfg.Servers) != 0 {
		t.Errorf("servers = %v, want empty", cfg.Servers)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.json")

	cfg := &Config{}
	cfg.AddServer("files", ServerConfig{
		Command: "mcp-files",
		Args:    []string{"--root", "/tmp"},
		Env:     map[string]string{"LOG_LEVEL": "debug"},
	})
	cfg.AddServer("web", ServerConfig{Command: "mcp-web", Disabled: true})

	if err := cfg.SaveToPath(path); err != nil {
		t.Fatalf("SaveToPath: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	files, ok := loaded.Servers["files"]
	if !ok {
		t.Fatal("files server missing after round trip")
	}
	if files.Command != "mcp-files" || len(files.Args) != 2 {
		t.Errorf("files = %+v", files)
	}
	if !loaded.Servers["web"].Disabled {
		t.Error("disabled flag lost")
	}

	names := loaded.ServerNames()
	if len(names) != 2 || names[0] != "files" || names[1] != "web" {
		t.Errorf("names = %v, want sorted", names)
	}
}

func TestConfigRemoveServer(t *testing.T) {
	cfg := &Config{}
	cfg.AddServer("a", ServerConfig{Command: "x"})

	if !cfg.RemoveServer("a") {
		t.Error("RemoveServer returned false for existing server")
	}
	if cfg.RemoveServer("a") {
		t.Error("RemoveServer returned true for missing server")
	}
}

func TestServerConfigValidate(t *testing.T) {
	cfg := ServerConfig{}
	if err := cfg.Validate(); err == nil {
		t.Error("empty command must fail validation")
	}
	cfg.Command = "mcp-server"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadConfigRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.json")
	if err := (&Config{}).SaveToPath(path); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadConfig(path); err != nil {
		t.Errorf("valid file rejected: %v", err)
	}
}

func TestParseToolName(t *testing.T) {
	server, tool := parseToolName("files__read")
	if server != "files" || tool != "read" {
		t.Errorf("parsed = %q/%q", server, tool)
	}

	server, tool = parseToolName("srv__tool__extra")
	if server != "srv" || tool != "tool__extra" {
		t.Errorf("parsed = %q/%q, separator must split on first occurrence", server, tool)
	}

	server, tool = parseToolName("noseparator")
	if server != "" || tool != "noseparator" {
		t.Errorf("parsed = %q/%q, unprefixed name must pass through", server, tool)
	}
}
