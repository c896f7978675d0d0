package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bueller/bueller/internal/types"
)

var replyCmd = &cobra.Command{
	Use:     "reply <issue> [text...]",
	GroupID: GroupIssues,
	Short:   "Add a @user turn to an issue",
	Long: `Append a @user turn to an issue wherever it lives. Without text
arguments the reply is read from stdin.

--reopen moves an issue in review or stuck back to open so the next run
picks it up again.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runReply,
}

func init() {
	replyCmd.Flags().Bool("reopen", false, "Move the issue back to open")
	rootCmd.AddCommand(replyCmd)
}

func runReply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	text := strings.TrimSpace(strings.Join(args[1:], " "))
	if text == "" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("reading reply from stdin: %w", err)
		}
		text = strings.TrimSpace(string(data))
	}
	if text == "" {
		return errors.New("reply text is empty")
	}

	store := openStore(cfg)
	name := issueName(args[0])
	lifecycle, err := store.Locate(ctx, name)
	if err != nil {
		return err
	}
	if err := store.Append(ctx, lifecycle, name, types.AuthorUser, text); err != nil {
		return err
	}

	reopen, _ := cmd.Flags().GetBool("reopen")
	moved := false
	if reopen && lifecycle != types.LifecycleOpen {
		if err := store.Move(ctx, name, lifecycle, types.LifecycleOpen); err != nil {
			return fmt.Errorf("reply saved but reopen failed: %w", err)
		}
		moved = true
	}

	if jsonOutput {
		out := map[string]any{"name": name, "lifecycle": lifecycle, "reopened": moved}
		if moved {
			out["lifecycle"] = types.LifecycleOpen
		}
		return outputJSON(cmd.OutOrStdout(), out)
	}
	if moved {
		stdout.Printf("%s Replied to %s and moved it %s → %s\n", stdout.PassIcon(), name, lifecycle, types.LifecycleOpen)
		return nil
	}
	stdout.Printf("%s Replied to %s %s\n", stdout.PassIcon(), name, stdout.Muted("("+string(lifecycle)+")"))
	return nil
}
