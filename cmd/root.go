package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Chat with language models from the terminal",
	Long: `parley is a conversational client for Anthropic, OpenAI, Gemini and
OpenAI-compatible servers, with tool use over MCP.

Examples:
  parley chat "what does this stack trace mean?"
  parley chat -t <topic-id> "and how do I fix it"
  parley chat -p openai:gpt-5.2 "summarize this"

  parley topics                         # list conversation topics
  parley models -p anthropic            # list available models
  parley mcp list                       # show configured tool servers`,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	SilenceUsage:      true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
