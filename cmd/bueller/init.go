package main

import (
	"errors"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bueller/bueller/internal/config"
	"github.com/bueller/bueller/internal/types"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: GroupIssues,
	Short:   "Create the issues directory and a default config file",
	Long: `Create <issues_dir>/open, review and stuck, plus
<issues_dir>/.bueller/config.yaml holding the default settings.

An existing config file is left untouched.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := openStore(cfg).Init(ctx); err != nil {
			return err
		}

		path := config.Path(cfg.IssuesDir)
		created := true
		if err := config.WriteDefault(path); err != nil {
			if !errors.Is(err, config.ErrConfigExists) {
				return err
			}
			created = false
		}

		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), map[string]any{
				"issues_dir":     cfg.IssuesDir,
				"config":         path,
				"config_created": created,
			})
		}
		for _, l := range types.Lifecycles {
			stdout.Printf("%s %s\n", stdout.PassIcon(), filepath.Join(cfg.IssuesDir, l.Dir())+string(filepath.Separator))
		}
		if created {
			stdout.Printf("%s %s\n", stdout.PassIcon(), path)
		} else {
			stdout.Printf("%s %s %s\n", stdout.SkipIcon(), path, stdout.Muted("(exists)"))
		}
		stdout.Println()
		stdout.Printf("Add an issue with %s, then %s.\n", stdout.Accent("bueller new"), stdout.Accent("bueller run"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
