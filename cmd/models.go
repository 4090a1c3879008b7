package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/spf13/cobra"
)

var modelsProvider string
var modelsJSON bool

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List available models from a provider",
	Long: `List available models from a provider.

This queries the provider's models API, which is useful for finding
model names to put in the config or pass to --provider.

Examples:
  parley models                    # current default provider
  parley models -p anthropic
  parley models -p ollama
  parley models --json`,
	RunE: runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.Flags().StringVarP(&modelsProvider, "provider", "p", "", "Provider to query (anthropic, openai, gemini, ollama, lmstudio, or a configured entry)")
	modelsCmd.Flags().BoolVar(&modelsJSON, "json", false, "Output as JSON")
}

func runModels(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	registry := llm.NewRegistry(cfg)
	name := modelsProvider
	if name == "" {
		name = cfg.DefaultProvider
	}
	adapter, err := registry.Get(name)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	models, err := adapter.ListModels(ctx)
	if err != nil {
		return err
	}

	if modelsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(models)
	}

	if len(models) == 0 {
		fmt.Printf("No models reported by %s\n", name)
		return nil
	}
	fmt.Printf("Models from %s:\n", name)
	for _, m := range models {
		line := "  " + m.ID
		if m.DisplayName != "" && m.DisplayName != m.ID {
			line += "  (" + m.DisplayName + ")"
		}
		fmt.Println(line)
	}
	return nil
}
