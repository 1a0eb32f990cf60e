package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgallion1/docview/internal/review"
	"github.com/spf13/cobra"
)

var (
	reviewNoFormat     bool
	reviewNoReferences bool
	reviewNoContent    bool
	reviewSeverity     string
	reviewAcceptAll    bool
	reviewOut          string
	reviewJSON         bool
)

var reviewCmd = &cobra.Command{
	Use:   "review <file>",
	Short: "Stream review suggestions for a document",
	Long: `Uploads a file for review and prints suggestions as the server streams them.
With --accept-all the suggestions are applied and, given --out, the modified
document is downloaded.

Examples:
  docview review memo.docx
  docview review memo.docx --severity ERROR
  docview review memo.docx --accept-all --out memo.reviewed.docx`,
	Args: cobra.ExactArgs(1),
	RunE: runReview,
}

func init() {
	reviewCmd.Flags().BoolVar(&reviewNoFormat, "no-format", false, "skip format checks")
	reviewCmd.Flags().BoolVar(&reviewNoReferences, "no-references", false, "skip reference verification")
	reviewCmd.Flags().BoolVar(&reviewNoContent, "no-content", false, "skip content suggestions")
	reviewCmd.Flags().StringVar(&reviewSeverity, "severity", "", "only show ERROR, WARNING or INFO suggestions")
	reviewCmd.Flags().BoolVar(&reviewAcceptAll, "accept-all", false, "accept every suggestion when the review finishes")
	reviewCmd.Flags().StringVarP(&reviewOut, "out", "o", "", "write the reviewed document to this path")
	reviewCmd.Flags().BoolVar(&reviewJSON, "json", false, "output the finished session as JSON")
	rootCmd.AddCommand(reviewCmd)
}

func runReview(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	severity := review.Severity(strings.ToUpper(reviewSeverity))

	client := newClient()
	defer client.Close()
	reviewer := review.NewReviewer(client, log, cfg.MaxPreviewBytes)
	if !reviewJSON {
		reviewer.OnUpdate(func(u review.Update) {
			if u.Suggestion != nil && (severity == "" || u.Suggestion.Severity == severity) {
				printSuggestion(cmd, *u.Suggestion)
			}
		})
	}

	ctx := cmd.Context()
	sess, err := reviewer.Upload(ctx, filepath.Base(args[0]), data)
	if err != nil {
		return err
	}
	log.Info("review session created", "session_id", sess.ID, "file", sess.FileName)

	opts := review.Options{
		CheckFormat:      !reviewNoFormat,
		VerifyReferences: !reviewNoReferences,
		SuggestContent:   !reviewNoContent,
	}
	if err := reviewer.StartReview(ctx, opts); err != nil {
		return err
	}
	sess, err = reviewer.Wait(ctx)
	if err != nil {
		return err
	}

	if reviewJSON {
		out, err := json.MarshalIndent(map[string]any{
			"session":     sess,
			"counts":      sess.Counts(),
			"suggestions": review.FilterBySeverity(sess.Suggestions, severity),
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}
		cmd.Println(string(out))
	} else {
		c := sess.Counts()
		cmd.Printf("\n%d suggestions: %d errors, %d warnings, %d info\n", c.Total, c.Errors, c.Warnings, c.Infos)
	}
	if sess.State == review.StateFailed {
		return fmt.Errorf("review failed: %s", sess.Error)
	}

	if reviewAcceptAll && len(sess.Suggestions) > 0 {
		n, err := reviewer.Accept(ctx, nil, true)
		if err != nil {
			return err
		}
		cmd.Printf("Accepted %d suggestions.\n", n)
	}
	if reviewOut != "" {
		doc, err := reviewer.Download(ctx)
		if err != nil {
			return err
		}
		if err := os.WriteFile(reviewOut, doc, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", reviewOut, err)
		}
		cmd.Printf("Wrote %s\n", reviewOut)
	}
	return nil
}

func printSuggestion(cmd *cobra.Command, s review.Suggestion) {
	cmd.Printf("[%s] %s at %d: %s\n", s.Severity, s.Type, s.Position, s.Reason)
	if s.OriginalText != "" {
		cmd.Printf("    - %s\n", s.OriginalText)
	}
	if s.SuggestedText != nil {
		cmd.Printf("    + %s\n", *s.SuggestedText)
	}
	if s.KnowledgeSource != nil {
		cmd.Printf("    source: %s\n", *s.KnowledgeSource)
	}
}
