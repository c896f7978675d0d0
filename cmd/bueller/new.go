package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/bueller/bueller/internal/naming"
	"github.com/bueller/bueller/internal/storage"
	"github.com/bueller/bueller/internal/types"
	"github.com/bueller/bueller/internal/ui"
)

var newCmd = &cobra.Command{
	Use:     "new [title]",
	GroupID: GroupIssues,
	Short:   "Create a new open issue",
	Long: `Create p<priority>-<sequence>-<slug>.md in <issues_dir>/open holding a
single @user turn.

The body comes from --body, or from stdin with --body -. Without a body the
title is used. When stdin is a terminal and the title is missing, an
interactive form asks for the title, body and priority.`,
	RunE: runNew,
}

func init() {
	newCmd.Flags().IntP("priority", "p", naming.DefaultPriority, "Priority (0 = highest)")
	newCmd.Flags().String("body", "", "Issue body ('-' reads stdin)")
	rootCmd.AddCommand(newCmd)
}

func runNew(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	title := strings.TrimSpace(strings.Join(args, " "))
	priority, _ := cmd.Flags().GetInt("priority")
	body, _ := cmd.Flags().GetString("body")
	if body == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("reading body from stdin: %w", err)
		}
		body = string(data)
	}

	if title == "" {
		if !ui.IsTerminal(os.Stdin) {
			return errors.New("a title is required (pass it as an argument)")
		}
		if err := runNewForm(&title, &body, &priority); err != nil {
			return err
		}
	}
	if err := naming.ValidatePriority(priority); err != nil {
		return err
	}

	store := openStore(cfg)
	if err := store.Init(ctx); err != nil {
		return err
	}
	name, err := createIssue(ctx, store, title, body, priority)
	if err != nil {
		return err
	}

	path := filepath.Join(cfg.IssuesDir, types.LifecycleOpen.Dir(), name)
	if jsonOutput {
		return outputJSON(cmd.OutOrStdout(), map[string]string{"name": name, "path": path})
	}
	stdout.Printf("%s Created %s\n", stdout.PassIcon(), path)
	return nil
}

// createIssue writes a new open issue and returns its name. The sequence is
// one past the highest used in any lifecycle.
func createIssue(ctx context.Context, store storage.Store, title, body string, priority int) (string, error) {
	slug, err := naming.Slugify(title, "issue")
	if err != nil {
		return "", err
	}
	var existing []string
	for _, l := range types.Lifecycles {
		names, err := store.Discover(ctx, l)
		if err != nil {
			return "", err
		}
		existing = append(existing, names...)
	}

	body = strings.TrimSpace(body)
	if body == "" {
		body = strings.TrimSpace(title)
	}
	name := naming.FileName(priority, naming.NextSequence(existing), slug)
	content := fmt.Sprintf("@%s: %s\n", types.AuthorUser, body)
	if err := store.Create(ctx, name, content); err != nil {
		return "", err
	}
	return name, nil
}

func runNewForm(title, body *string, priority *int) error {
	priorityStr := strconv.Itoa(*priority)
	priorityOptions := []huh.Option[string]{
		huh.NewOption("P0 - Critical", "0"),
		huh.NewOption("P1 - High", "1"),
		huh.NewOption("P2 - Medium (default)", "2"),
		huh.NewOption("P3 - Low", "3"),
		huh.NewOption("P4 - Backlog", "4"),
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Title").
				Description("Short summary, used for the file name (required)").
				Placeholder("e.g., Add a hello.txt file").
				Value(title).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("title is required")
					}
					return nil
				}),

			huh.NewText().
				Title("Request").
				Description("What should the agent do? Defaults to the title").
				CharLimit(10000).
				Value(body),

			huh.NewSelect[string]().
				Title("Priority").
				Options(priorityOptions...).
				Value(&priorityStr),
		),
	).WithTheme(huh.ThemeDracula())

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return errors.New("issue creation cancelled")
		}
		return fmt.Errorf("form: %w", err)
	}
	p, err := strconv.Atoi(priorityStr)
	if err != nil {
		return fmt.Errorf("invalid priority %q", priorityStr)
	}
	*priority = p
	return nil
}
