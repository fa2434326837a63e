package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/harun/studymate/internal/tracing"
	"github.com/harun/studymate/pkg/conversation"
	"github.com/spf13/cobra"
)

var (
	listOwner    string
	listLimit    int
	historyLimit int
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "Inspect and manage stored conversations",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List an owner's conversations, most recently updated first",
	Args:  cobra.NoArgs,
	RunE:  runConversationsList,
}

var conversationsHistoryCmd = &cobra.Command{
	Use:   "history <conversation-id>",
	Short: "Print a conversation's messages, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runConversationsHistory,
}

var conversationsDeleteCmd = &cobra.Command{
	Use:   "delete <conversation-id>",
	Short: "Delete a conversation and all of its messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runConversationsDelete,
}

func init() {
	conversationsListCmd.Flags().StringVar(&listOwner, "owner", "", "owner ID (default chat.default_owner)")
	conversationsListCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum conversations (default chat.list_limit)")
	conversationsHistoryCmd.Flags().IntVar(&historyLimit, "limit", 0, "maximum messages (default chat.history_limit)")

	conversationsCmd.AddCommand(conversationsListCmd, conversationsHistoryCmd, conversationsDeleteCmd)
	rootCmd.AddCommand(conversationsCmd)
}

func runConversationsList(cmd *cobra.Command, args []string) error {
	d, closeFn, err := openLocal(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	convs, err := d.GetChat().ListConversations(tracing.NewRequestContext(cmd.Context()), listOwner, listLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(convs) == 0 {
		fmt.Fprintln(out, "No conversations")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tPROVIDER\tUPDATED")
	for _, c := range convs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, c.Title, c.Provider, conversation.FormatTime(c.UpdatedAt))
	}
	return w.Flush()
}

func runConversationsHistory(cmd *cobra.Command, args []string) error {
	d, closeFn, err := openLocal(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	msgs, err := d.GetChat().GetHistory(tracing.NewRequestContext(cmd.Context()), args[0], historyLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, m := range msgs {
		fmt.Fprintf(out, "[%s] %s: %s\n", conversation.FormatTime(m.Timestamp), m.Role, m.Content)
	}
	return nil
}

func runConversationsDelete(cmd *cobra.Command, args []string) error {
	d, closeFn, err := openLocal(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := d.GetChat().DeleteConversation(tracing.NewRequestContext(cmd.Context()), args[0]); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Deleted conversation %s\n", args[0])
	return nil
}
