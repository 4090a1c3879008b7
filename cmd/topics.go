package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/store"
	"github.com/spf13/cobra"
)

var topicsProvider string
var topicsLimit int

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "List conversation topics",
	Long: `List conversation topics, most recently active first.

Examples:
  parley topics
  parley topics --provider anthropic
  parley topics show 4f1c2d
  parley topics delete 4f1c2d`,
	RunE: runTopicsList,
}

var topicsShowCmd = &cobra.Command{
	Use:   "show <topic-id>",
	Short: "Show a topic's messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runTopicsShow,
}

var topicsDeleteCmd = &cobra.Command{
	Use:   "delete <topic-id>",
	Short: "Delete a topic and its messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runTopicsDelete,
}

var topicsPruneDays int

var topicsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete topics with no recent activity",
	RunE:  runTopicsPrune,
}

func init() {
	rootCmd.AddCommand(topicsCmd)
	topicsCmd.AddCommand(topicsShowCmd)
	topicsCmd.AddCommand(topicsDeleteCmd)
	topicsCmd.AddCommand(topicsPruneCmd)
	topicsCmd.Flags().StringVarP(&topicsProvider, "provider", "p", "", "Only topics last used with this provider")
	topicsCmd.Flags().IntVarP(&topicsLimit, "limit", "n", 20, "Maximum topics to list")
	topicsPruneCmd.Flags().IntVar(&topicsPruneDays, "days", 30, "Delete topics idle for more than this many days")
}

func runTopicsList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	topics, err := st.ListTopics(context.Background(), store.ListOptions{
		Provider: topicsProvider,
		Limit:    topicsLimit,
	})
	if err != nil {
		return err
	}
	if len(topics) == 0 {
		fmt.Println("No topics yet. Start one with: parley chat \"...\"")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tMODEL\tMSGS\tUPDATED")
	for _, topic := range topics {
		model := topic.Model
		if topic.Provider != "" {
			model = topic.Provider + ":" + topic.Model
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			topic.ID[:8], topic.Title, model, topic.MessageCount,
			topic.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runTopicsShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	topic, err := findTopic(ctx, st, args[0])
	if err != nil {
		return err
	}

	messages, err := st.ListMessages(ctx, topic.ID)
	if err != nil {
		return err
	}

	fmt.Printf("# %s\n\n", topic.Title)
	for _, msg := range messages {
		fmt.Printf("--- %s (%s)\n%s\n\n", msg.Role, msg.Status, msg.Content)
		if msg.ToolSummary != "" {
			fmt.Printf("tools:\n%s\n", msg.ToolSummary)
		}
	}
	return nil
}

func runTopicsDelete(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	topic, err := findTopic(ctx, st, args[0])
	if err != nil {
		return err
	}
	if err := st.DeleteTopic(ctx, topic.ID); err != nil {
		return err
	}
	fmt.Printf("Deleted topic %s\n", topic.ID[:8])
	return nil
}

func runTopicsPrune(cmd *cobra.Command, args []string) error {
	if topicsPruneDays <= 0 {
		return fmt.Errorf("--days must be positive")
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	cutoff := time.Now().Add(-time.Duration(topicsPruneDays) * 24 * time.Hour)
	removed, err := st.DeleteTopicsOlderThan(context.Background(), cutoff)
	if err != nil {
		return err
	}
	fmt.Printf("Pruned %d topic(s) idle for more than %d days\n", removed, topicsPruneDays)
	return nil
}

// findTopic resolves a full or abbreviated topic id.
func findTopic(ctx context.Context, st store.Store, id string) (*store.Topic, error) {
	topic, err := st.GetTopic(ctx, id)
	if err != nil {
		return nil, err
	}
	if topic != nil {
		return topic, nil
	}

	// Try a prefix match over recent topics.
	topics, err := st.ListTopics(ctx, store.ListOptions{Limit: 200})
	if err != nil {
		return nil, err
	}
	var match *store.Topic
	for i := range topics {
		if len(topics[i].ID) >= len(id) && topics[i].ID[:len(id)] == id {
			if match != nil {
				return nil, fmt.Errorf("topic id %q is ambiguous", id)
			}
			match = &topics[i]
		}
	}
	if match == nil {
		return nil, fmt.Errorf("topic not found: %s", id)
	}
	return match, nil
}
