package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bueller/bueller/internal/conversation"
	"github.com/bueller/bueller/internal/storage"
	"github.com/bueller/bueller/internal/storage/fsstore"
	"github.com/bueller/bueller/internal/types"
	"github.com/bueller/bueller/internal/ui"
)

var showCmd = &cobra.Command{
	Use:     "show <issue>",
	GroupID: GroupIssues,
	Short:   "Show an issue conversation",
	Long: `Show the conversation of an issue in whichever lifecycle holds it.

The issue may be given as a file name, a path, or a name without .md.
Markdown is rendered when stdout is a terminal; --raw prints the file as is.`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func init() {
	showCmd.Flags().Bool("raw", false, "Print the issue file unmodified")
	showCmd.Flags().Bool("no-pager", false, "Do not pipe long output through a pager")
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	issue, err := loadIssue(ctx, openStore(cfg), args[0])
	if err != nil {
		return err
	}

	if jsonOutput {
		return outputJSON(cmd.OutOrStdout(), issue)
	}
	if raw, _ := cmd.Flags().GetBool("raw"); raw {
		_, err := fmt.Fprint(cmd.OutOrStdout(), issue.RawContent)
		return err
	}
	noPager, _ := cmd.Flags().GetBool("no-pager")
	return stdout.ToPager(stdout.RenderMarkdown(conversationMarkdown(issue)), ui.PagerOptions{NoPager: noPager})
}

// issueName turns a path or bare name into an issue file name.
func issueName(arg string) string {
	name := filepath.Base(strings.TrimSpace(arg))
	if !strings.HasSuffix(name, fsstore.IssueExt) {
		name += fsstore.IssueExt
	}
	return name
}

// loadIssue finds and reads an issue from any lifecycle.
func loadIssue(ctx context.Context, store storage.Store, arg string) (*types.Issue, error) {
	name := issueName(arg)
	lifecycle, err := store.Locate(ctx, name)
	if err != nil {
		return nil, err
	}
	return store.Load(ctx, lifecycle, name)
}

// conversationMarkdown lays an issue out with one heading per turn.
func conversationMarkdown(issue *types.Issue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n*%s*\n", issue.Name, issue.Lifecycle)
	if len(issue.Messages) == 0 {
		b.WriteString("\n(no conversation)\n")
		return b.String()
	}
	for _, msg := range issue.Messages {
		fmt.Fprintf(&b, "\n## @%s\n\n%s\n", msg.Author, strings.TrimSpace(msg.Content))
	}
	if sig := conversation.ClassifySignal(lastClaudeTurn(issue)); sig != types.SignalContinue {
		fmt.Fprintf(&b, "\n---\n\n*%s*\n", conversation.StatusMarker(sig))
	}
	return b.String()
}

func lastClaudeTurn(issue *types.Issue) string {
	turns := conversation.MessagesByAuthor(issue, types.AuthorClaude)
	if len(turns) == 0 {
		return ""
	}
	return turns[len(turns)-1].Content
}
