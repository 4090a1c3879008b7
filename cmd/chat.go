package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/mcp"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/tools"
	"github.com/spf13/cobra"
)

var chatTopic string
var chatProvider string
var chatNoTools bool
var chatVerbose bool

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Send a message and stream the reply",
	Long: `Send a message to a topic and stream the model's reply, executing any
tools the model requests along the way.

Without --topic a new topic is created; its id is printed so the
conversation can be continued later.

Examples:
  parley chat "explain CAP theorem"
  parley chat -t 4f1c2d "give me an example"
  parley chat -p gemini "describe this tradeoff"
  parley chat -p openai:gpt-5.2 --no-tools "just answer, no tools"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVarP(&chatTopic, "topic", "t", "", "Topic id to continue")
	chatCmd.Flags().StringVarP(&chatProvider, "provider", "p", "", "Provider to use, optionally provider:model")
	chatCmd.Flags().BoolVar(&chatNoTools, "no-tools", false, "Disable tool use for this reply")
	chatCmd.Flags().BoolVarP(&chatVerbose, "verbose", "v", false, "Show tool activity while streaming")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prompt := strings.Join(args, " ")
	topicID, created, err := resolveTopic(ctx, st, prompt)
	if err != nil {
		return err
	}

	userMsg := &store.Message{
		TopicID:  topicID,
		Role:     "user",
		Content:  prompt,
		Status:   store.StatusSuccess,
		Sequence: -1,
	}
	if err := st.CreateMessage(ctx, userMsg); err != nil {
		return fmt.Errorf("save message: %w", err)
	}

	host, shutdown, err := buildToolHost(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdown()

	registry := llm.NewRegistry(cfg)
	orch := chat.NewOrchestrator(cfg, st, registry, host, renderEvent)

	var opts chat.GenerateOptions
	if chatProvider != "" {
		provider, model, err := llm.ParseProviderModel(chatProvider, cfg)
		if err != nil {
			return err
		}
		opts = chat.GenerateOptions{Provider: provider, Model: model}
	}

	// SIGINT aborts the in-flight reply instead of killing the process.
	go func() {
		<-ctx.Done()
		orch.Abort(topicID)
	}()

	_, err = orch.Generate(ctx, topicID, opts)
	fmt.Println()

	if maxAge := cfg.Retention.MaxAgeHours; maxAge > 0 {
		orch.Accumulators().CleanupOlderThan(time.Duration(maxAge) * time.Hour)
	}

	if errors.Is(err, chat.ErrAborted) {
		fmt.Fprintln(os.Stderr, "aborted")
		err = nil
	}
	if err != nil {
		return err
	}

	if created {
		fmt.Fprintf(os.Stderr, "topic: %s\n", topicID)
	}
	return nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	path, err := cfg.StorePath()
	if err != nil {
		return nil, err
	}
	return store.NewSQLiteStore(path)
}

// resolveTopic returns the topic to use, creating one titled after the
// prompt when none was given.
func resolveTopic(ctx context.Context, st store.Store, prompt string) (string, bool, error) {
	if chatTopic != "" {
		topic, err := st.GetTopic(ctx, chatTopic)
		if err != nil {
			return "", false, err
		}
		if topic == nil {
			return "", false, fmt.Errorf("topic not found: %s", chatTopic)
		}
		return topic.ID, false, nil
	}

	topic := &store.Topic{Title: topicTitle(prompt)}
	if err := st.CreateTopic(ctx, topic); err != nil {
		return "", false, fmt.Errorf("create topic: %w", err)
	}
	return topic.ID, true, nil
}

func topicTitle(prompt string) string {
	const max = 60
	title := strings.TrimSpace(prompt)
	if len(title) > max {
		title = title[:max] + "..."
	}
	return title
}

// buildToolHost assembles the tool surface for a reply: MCP servers from
// mcp.json plus the built-in tools, MCP taking precedence on name
// collisions.
func buildToolHost(ctx context.Context, cfg *config.Config) (chat.ToolHost, func(), error) {
	builtin := tools.NewRegistry()
	builtin.Register(tools.NewEchoTool())

	if chatNoTools {
		return builtin, func() {}, nil
	}

	mcpPath, err := cfg.MCPConfigPath()
	if err != nil {
		return nil, nil, err
	}

	manager := mcp.NewManager()
	if err := manager.LoadConfig(mcpPath); err != nil {
		return nil, nil, fmt.Errorf("load mcp config: %w", err)
	}
	manager.StartAll(ctx)

	host := chat.NewMultiHost(manager, builtin)
	return host, manager.StopAll, nil
}

// renderEvent writes the reply stream to the terminal. Text goes to
// stdout; tool activity goes to stderr so piped output stays clean.
func renderEvent(ev chat.StreamEvent) {
	switch ev.Type {
	case chat.EventText:
		fmt.Print(ev.Content)
	case chat.EventMcpToolStart:
		if chatVerbose {
			fmt.Fprintf(os.Stderr, "\n[%s] running...\n", ev.ToolName)
		}
	case chat.EventMcpToolSuccess:
		if chatVerbose {
			fmt.Fprintf(os.Stderr, "[%s] done\n", ev.ToolName)
		}
	case chat.EventMcpToolError:
		fmt.Fprintf(os.Stderr, "[%s] error: %s\n", ev.ToolName, ev.Error)
	case chat.EventMcpToolTimeout:
		fmt.Fprintf(os.Stderr, "[%s] timed out\n", ev.ToolName)
	case chat.EventSessionError:
		fmt.Fprintf(os.Stderr, "\nerror: %s\n", ev.Error)
	}
}
