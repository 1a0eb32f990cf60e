package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgallion1/docview/internal/chat"
	"github.com/spf13/cobra"
)

var (
	chatDocs  []string
	chatLimit int
	chatJSON  bool
)

var chatCmd = &cobra.Command{
	Use:   "chat <space> <question...>",
	Short: "Ask a knowledge space a question",
	Long: `Streams an answer from the chat endpoint of a knowledge space. Press Ctrl-C
to stop generation; the text received so far is kept.

Examples:
  docview chat 7 "What changed in the travel policy?"
  docview chat 7 --doc 12 --doc 15 summarize these`,
	Args: cobra.MinimumNArgs(2),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringSliceVar(&chatDocs, "doc", nil, "restrict the answer to these document ids")
	chatCmd.Flags().IntVarP(&chatLimit, "limit", "n", 0, "maximum number of source documents")
	chatCmd.Flags().BoolVar(&chatJSON, "json", false, "output the conversation as JSON")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	client := newClient()
	defer client.Close()

	sess := chat.NewSession(client, args[0], log)
	sess.SetScope(chatDocs, chatLimit)
	if _, err := sess.Send(cmd.Context(), strings.Join(args[1:], " ")); err != nil {
		return err
	}

	// The reply context is the command's, so Ctrl-C aborts the stream and
	// Wait still returns the partial answer.
	msg, err := sess.Wait(context.Background())
	if err != nil && !errors.Is(err, chat.ErrAborted) {
		return err
	}

	if chatJSON {
		out, err := json.MarshalIndent(sess.Messages(), "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal messages: %w", err)
		}
		cmd.Println(string(out))
		return nil
	}

	cmd.Println(msg.Text)
	if errors.Is(err, chat.ErrAborted) {
		cmd.Println(chat.StoppedText)
	}
	if len(msg.Sources) > 0 {
		cmd.Println()
		cmd.Println("Sources:")
		for i, s := range msg.Sources {
			title := s.Title
			if title == "" {
				title = s.FilePath
			}
			cmd.Printf("  [%d] %s (document %d)\n", i+1, title, s.DocumentID)
		}
	}
	return nil
}
