package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/parleyhq/parley/internal/llm"
)

// ServerStatus is the lifecycle phase of a managed server.
type ServerStatus string

const (
	StatusStopped  ServerStatus = "stopped"
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusFailed   ServerStatus = "failed"
)

// ServerState is a point-in-time snapshot of one managed server.
type ServerState struct {
	Name   string
	Status ServerStatus
	Error  error
	Client *Client
}

// Manager handles MCP server lifecycle and aggregates their tools.
// Tool names are namespaced as servername__toolname so two servers can
// expose tools with the same name.
type Manager struct {
	config   *Config
	clients  map[string]*Client
	statuses map[string]*ServerState
	mu       sync.RWMutex
}

// NewManager returns a manager with no configuration loaded yet.
func NewManager() *Manager {
	return &Manager{
		clients:  make(map[string]*Client),
		statuses: make(map[string]*ServerState),
	}
}

// LoadConfig reads mcp.json from path and replaces the current config.
// Already running servers keep their old settings until restarted.
func (m *Manager) LoadConfig(path string) error {
	cfg, err := LoadConfig(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Config exposes the loaded configuration.
func (m *Manager) Config() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// AvailableServers lists the configured server names, sorted.
func (m *Manager) AvailableServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return nil
	}
	return m.config.ServerNames()
}

// ServerStatus reports where a named server is in its lifecycle. Servers
// never started count as stopped.
func (m *Manager) ServerStatus(name string) (ServerStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.statuses[name]
	if !ok {
		return StatusStopped, nil
	}
	return state.Status, state.Error
}

// StartAll starts every configured server that is not disabled, blocking
// until each has either connected or failed. A server failing to start is
// recorded in its state rather than failing the whole call.
func (m *Manager) StartAll(ctx context.Context) {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()
	if cfg == nil {
		return
	}

	var wg sync.WaitGroup
	for _, name := range cfg.ServerNames() {
		if cfg.Servers[name].Disabled {
			continue
		}
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			m.start(ctx, name)
		}(name)
	}
	wg.Wait()
}

// Enable starts a single MCP server, blocking until it is connected or
// has failed.
func (m *Manager) Enable(ctx context.Context, name string) error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()
	if cfg == nil {
		return fmt.Errorf("no MCP configuration loaded")
	}
	if _, ok := cfg.Servers[name]; !ok {
		return fmt.Errorf("unknown MCP server: %s", name)
	}
	m.start(ctx, name)
	_, err := m.ServerStatus(name)
	return err
}

func (m *Manager) start(ctx context.Context, name string) {
	m.mu.Lock()
	serverCfg, ok := m.config.Servers[name]
	if !ok {
		m.mu.Unlock()
		return
	}
	if state, ok := m.statuses[name]; ok {
		if state.Status == StatusStarting || state.Status == StatusReady {
			m.mu.Unlock()
			return
		}
	}

	client := NewClient(name, serverCfg)
	m.clients[name] = client
	m.statuses[name] = &ServerState{
		Name:   name,
		Status: StatusStarting,
		Client: client,
	}
	m.mu.Unlock()

	err := client.Start(ctx)

	m.mu.Lock()
	state := m.statuses[name]
	if err != nil {
		state.Status = StatusFailed
		state.Error = err
	} else {
		state.Status = StatusReady
		state.Error = nil
	}
	m.mu.Unlock()
}

// Disable stops a server and drops it from the running set. Unknown or
// stopped servers are left alone.
func (m *Manager) Disable(name string) error {
	m.mu.Lock()
	client, ok := m.clients[name]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.clients, name)
	if state, ok := m.statuses[name]; ok {
		state.Status = StatusStopped
		state.Error = nil
		state.Client = nil
	}
	m.mu.Unlock()

	return client.Stop()
}

// Restart cycles a server through a stop and a fresh start.
func (m *Manager) Restart(ctx context.Context, name string) error {
	if err := m.Disable(name); err != nil {
		return err
	}
	return m.Enable(ctx, name)
}

// StopAll shuts down every running server and clears all tracked state.
func (m *Manager) StopAll() {
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.clients = make(map[string]*Client)
	m.statuses = make(map[string]*ServerState)
	m.mu.Unlock()

	for _, c := range clients {
		c.Stop()
	}
}

// Tools returns all tools from all running MCP servers with namespaced
// names.
func (m *Manager) Tools(ctx context.Context) ([]llm.ToolSpec, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var allTools []llm.ToolSpec
	for name, state := range m.statuses {
		if state.Status != StatusReady || state.Client == nil {
			continue
		}
		for _, tool := range state.Client.Tools() {
			allTools = append(allTools, llm.ToolSpec{
				Name:        fmt.Sprintf("%s__%s", name, tool.Name),
				Description: fmt.Sprintf("[%s] %s", name, tool.Description),
				Schema:      tool.Schema,
			})
		}
	}
	return allTools, nil
}

// Invoke routes a namespaced tool call to the owning MCP server.
func (m *Manager) Invoke(ctx context.Context, fullName string, args json.RawMessage) (string, error) {
	serverName, toolName := parseToolName(fullName)
	if serverName == "" {
		return "", fmt.Errorf("invalid MCP tool name: %s (expected servername__toolname)", fullName)
	}

	m.mu.RLock()
	state, ok := m.statuses[serverName]
	m.mu.RUnlock()

	if !ok || state.Status != StatusReady || state.Client == nil {
		return "", fmt.Errorf("MCP server %s is not running", serverName)
	}

	return state.Client.CallTool(ctx, toolName, args)
}

// parseToolName splits servername__toolname at the first double
// underscore. A name with no separator yields an empty server name.
func parseToolName(fullName string) (serverName, toolName string) {
	for i := 0; i < len(fullName)-1; i++ {
		if fullName[i] == '_' && fullName[i+1] == '_' {
			return fullName[:i], fullName[i+2:]
		}
	}
	return "", fullName
}

// GetAllStates snapshots every server's state for display.
func (m *Manager) GetAllStates() []ServerState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make([]ServerState, 0, len(m.statuses))
	for _, state := range m.statuses {
		states = append(states, ServerState{
			Name:   state.Name,
			Status: state.Status,
			Error:  state.Error,
		})
	}
	return states
}
