package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/parleyhq/parley/internal/llm"
)

// MultiHost merges several tool hosts behind one ToolHost. Names are
// resolved against hosts in construction order; the first host
// advertising a name wins and later duplicates are dropped.
type MultiHost struct {
	hosts []ToolHost

	mu     sync.Mutex
	routes map[string]ToolHost
}

func NewMultiHost(hosts ...ToolHost) *MultiHost {
	return &MultiHost{hosts: hosts}
}

// Tools gathers specs from every host and rebuilds the routing table. A
// host that fails discovery is skipped; the error surfaces only when no
// host produced any tools.
func (h *MultiHost) Tools(ctx context.Context) ([]llm.ToolSpec, error) {
	routes := make(map[string]ToolHost)
	var specs []llm.ToolSpec
	var firstErr error

	for _, host := range h.hosts {
		hostSpecs, err := host.Tools(ctx)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, spec := range hostSpecs {
			if _, taken := routes[spec.Name]; taken {
				continue
			}
			routes[spec.Name] = host
			specs = append(specs, spec)
		}
	}

	if len(specs) == 0 && firstErr != nil {
		return nil, firstErr
	}

	h.mu.Lock()
	h.routes = routes
	h.mu.Unlock()
	return specs, nil
}

// Invoke routes a call to the host that advertised the tool on the most
// recent Tools call.
func (h *MultiHost) Invoke(ctx context.Context, name string, args json.RawMessage) (string, error) {
	h.mu.Lock()
	host := h.routes[name]
	h.mu.Unlock()

	if host == nil {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	return host.Invoke(ctx, name, args)
}
