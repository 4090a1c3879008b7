package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/mcp"
	"github.com/spf13/cobra"
)

var mcpAddEnv []string
var mcpAddDisabled bool

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Manage MCP tool servers",
	Long: `Manage the MCP servers whose tools are offered to the model.

Servers are defined in mcp.json and launched over stdio when a chat
needs tools.

Examples:
  parley mcp list
  parley mcp add files mcp-server-files --root /data
  parley mcp add github mcp-github -e GITHUB_TOKEN=xxx
  parley mcp disable github
  parley mcp remove files
  parley mcp tools`,
}

var mcpListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured servers",
	RunE:  runMCPList,
}

var mcpAddCmd = &cobra.Command{
	Use:   "add <name> <command> [args...]",
	Short: "Add or update a server",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runMCPAdd,
}

var mcpRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a server",
	Args:  cobra.ExactArgs(1),
	RunE:  runMCPRemove,
}

var mcpEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable a server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setMCPServerDisabled(args[0], false)
	},
}

var mcpDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable a server without removing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setMCPServerDisabled(args[0], true)
	},
}

var mcpToolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Start all servers and list the tools they expose",
	RunE:  runMCPTools,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.AddCommand(mcpListCmd)
	mcpCmd.AddCommand(mcpAddCmd)
	mcpCmd.AddCommand(mcpRemoveCmd)
	mcpCmd.AddCommand(mcpEnableCmd)
	mcpCmd.AddCommand(mcpDisableCmd)
	mcpCmd.AddCommand(mcpToolsCmd)
	mcpAddCmd.Flags().StringArrayVarP(&mcpAddEnv, "env", "e", nil, "Environment variable KEY=VALUE (repeatable)")
	mcpAddCmd.Flags().BoolVar(&mcpAddDisabled, "disabled", false, "Add the server in disabled state")
}

func mcpConfigPath() (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	return cfg.MCPConfigPath()
}

func runMCPList(cmd *cobra.Command, args []string) error {
	path, err := mcpConfigPath()
	if err != nil {
		return err
	}
	cfg, err := mcp.LoadConfig(path)
	if err != nil {
		return err
	}
	if len(cfg.Servers) == 0 {
		fmt.Println("No MCP servers configured. Add one with: parley mcp add <name> <command>")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCOMMAND\tSTATE")
	for _, name := range cfg.ServerNames() {
		server := cfg.Servers[name]
		state := "enabled"
		if server.Disabled {
			state = "disabled"
		}
		command := server.Command
		if len(server.Args) > 0 {
			command += " " + strings.Join(server.Args, " ")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, command, state)
	}
	return w.Flush()
}

func runMCPAdd(cmd *cobra.Command, args []string) error {
	name := args[0]
	server := mcp.ServerConfig{
		Command:  args[1],
		Args:     args[2:],
		Disabled: mcpAddDisabled,
	}
	if len(mcpAddEnv) > 0 {
		server.Env = make(map[string]string, len(mcpAddEnv))
		for _, kv := range mcpAddEnv {
			key, value, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("invalid env entry %q, expected KEY=VALUE", kv)
			}
			server.Env[key] = value
		}
	}
	if err := server.Validate(); err != nil {
		return err
	}

	path, err := mcpConfigPath()
	if err != nil {
		return err
	}
	cfg, err := mcp.LoadConfig(path)
	if err != nil {
		return err
	}
	cfg.AddServer(name, server)
	if err := cfg.SaveToPath(path); err != nil {
		return err
	}
	fmt.Printf("Added server %s\n", name)
	return nil
}

func runMCPRemove(cmd *cobra.Command, args []string) error {
	path, err := mcpConfigPath()
	if err != nil {
		return err
	}
	cfg, err := mcp.LoadConfig(path)
	if err != nil {
		return err
	}
	if !cfg.RemoveServer(args[0]) {
		return fmt.Errorf("server not found: %s", args[0])
	}
	if err := cfg.SaveToPath(path); err != nil {
		return err
	}
	fmt.Printf("Removed server %s\n", args[0])
	return nil
}

func setMCPServerDisabled(name string, disabled bool) error {
	path, err := mcpConfigPath()
	if err != nil {
		return err
	}
	cfg, err := mcp.LoadConfig(path)
	if err != nil {
		return err
	}
	server, ok := cfg.Servers[name]
	if !ok {
		return fmt.Errorf("server not found: %s", name)
	}
	server.Disabled = disabled
	cfg.AddServer(name, server)
	if err := cfg.SaveToPath(path); err != nil {
		return err
	}
	if disabled {
		fmt.Printf("Disabled server %s\n", name)
	} else {
		fmt.Printf("Enabled server %s\n", name)
	}
	return nil
}

func runMCPTools(cmd *cobra.Command, args []string) error {
	path, err := mcpConfigPath()
	if err != nil {
		return err
	}
	manager := mcp.NewManager()
	if err := manager.LoadConfig(path); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	manager.StartAll(ctx)
	defer manager.StopAll()

	for _, state := range manager.GetAllStates() {
		if state.Status == mcp.StatusFailed {
			fmt.Fprintf(os.Stderr, "warning: %s failed to start: %v\n", state.Name, state.Error)
		}
	}

	specs, err := manager.Tools(ctx)
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		fmt.Println("No tools available.")
		return nil
	}
	for _, spec := range specs {
		fmt.Printf("  %s\t%s\n", spec.Name, spec.Description)
	}
	return nil
}
