package cli

import (
	"fmt"
	"strings"

	"github.com/harun/studymate/internal/tracing"
	"github.com/harun/studymate/pkg/chat"
	"github.com/spf13/cobra"
)

var (
	chatProvider     string
	chatConversation string
	chatOwner        string
	chatRetry        bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [message...]",
	Short: "Send one message and print the reply",
	Long: `Send one user message to a provider and print the assistant reply.
Without --conversation a new conversation is started and its ID printed first.
With --retry the unanswered last message of --conversation is sent again.`,
	Example: `  studymate chat --provider claude "How do I move into data engineering?"
  studymate chat --provider openai --conversation V1StGXR8_Z5jdHi6B-myT "And which certifications?"
  studymate chat --provider gemini --conversation V1StGXR8_Z5jdHi6B-myT --retry`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatProvider, "provider", "p", "", "provider name or alias (openai, anthropic, google, http)")
	chatCmd.Flags().StringVarP(&chatConversation, "conversation", "c", "", "continue an existing conversation")
	chatCmd.Flags().StringVar(&chatOwner, "owner", "", "owner for a new conversation (default chat.default_owner)")
	chatCmd.Flags().BoolVar(&chatRetry, "retry", false, "resend the unanswered last message of --conversation")
	_ = chatCmd.MarkFlagRequired("provider")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	message := strings.Join(args, " ")
	if chatRetry {
		if chatConversation == "" {
			return fmt.Errorf("--retry requires --conversation")
		}
		if message != "" {
			return fmt.Errorf("--retry takes no message")
		}
	} else if strings.TrimSpace(message) == "" {
		return fmt.Errorf("message is required")
	}

	d, closeFn, err := openLocal(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx := tracing.NewRequestContext(cmd.Context())

	var result chat.TurnResult
	if chatRetry {
		result, err = d.GetChat().RetryTurn(ctx, chatConversation, chatProvider)
	} else {
		result, err = d.GetChat().HandleTurn(ctx, chat.TurnRequest{
			ConversationID: chatConversation,
			Provider:       chatProvider,
			Message:        message,
			OwnerID:        chatOwner,
		})
	}

	out := cmd.OutOrStdout()
	if chatConversation == "" && result.ConversationID != "" {
		fmt.Fprintf(out, "conversation: %s\n", result.ConversationID)
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(out, result.Response)
	return nil
}
