package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/parleyhq/parley/internal/llm"
)

type staticTool struct {
	name   string
	result string
}

func (t *staticTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{Name: t.name, Schema: map[string]any{"type": "object"}}
}

func (t *staticTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	return t.result, nil
}

func TestRegistryRegisterAndInvoke(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&staticTool{name: "a", result: "from a"})
	registry.Register(&staticTool{name: "b", result: "from b"})

	result, err := registry.Invoke(context.Background(), "b", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result != "from b" {
		t.Errorf("result = %q", result)
	}

	if _, err := registry.Invoke(context.Background(), "missing", nil); err == nil {
		t.Error("unknown tool must fail")
	}
}

func TestRegistrySpecsInRegistrationOrder(t *testing.T) {
	registry := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		registry.Register(&staticTool{name: name})
	}

	specs := registry.AllSpecs()
	if len(specs) != 3 {
		t.Fatalf("specs = %d", len(specs))
	}
	if specs[0].Name != "zeta" || specs[1].Name != "alpha" || specs[2].Name != "mid" {
		t.Errorf("order = %v", []string{specs[0].Name, specs[1].Name, specs[2].Name})
	}

	// Re-registering keeps the original position.
	registry.Register(&staticTool{name: "alpha", result: "replaced"})
	specs = registry.AllSpecs()
	if len(specs) != 3 || specs[1].Name != "alpha" {
		t.Errorf("re-registration changed ordering: %v", specs)
	}
}

func TestRegistryUnregister(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&staticTool{name: "a"})
	registry.Register(&staticTool{name: "b"})

	registry.Unregister("a")
	if _, ok := registry.Get("a"); ok {
		t.Error("tool still present after Unregister")
	}
	specs := registry.AllSpecs()
	if len(specs) != 1 || specs[0].Name != "b" {
		t.Errorf("specs = %v", specs)
	}

	registry.Unregister("never-existed")
}

func TestEchoTool(t *testing.T) {
	tool := NewEchoTool()
	if tool.Spec().Name != EchoToolName {
		t.Errorf("name = %q", tool.Spec().Name)
	}

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"message":"hello"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result != "hello" {
		t.Errorf("result = %q", result)
	}

	if _, err := tool.Execute(context.Background(), json.RawMessage(`not json`)); err == nil {
		t.Error("invalid args must fail")
	}
}

func TestRegistryAsToolHost(t *testing.T) {
	registry := NewRegistry()
	registry.Register(NewEchoTool())

	specs, err := registry.Tools(context.Background())
	if err != nil {
		t.Fatalf("Tools: %v", err)
	}
	if len(specs) != 1 || specs[0].Name != EchoToolName {
		t.Errorf("specs = %v", specs)
	}
}
