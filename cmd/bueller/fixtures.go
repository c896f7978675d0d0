package main

import (
	"github.com/spf13/cobra"

	"github.com/bueller/bueller/internal/agent"
	"github.com/bueller/bueller/internal/fixture"
)

var fixturesCmd = &cobra.Command{
	Use:     "fixtures [name...]",
	GroupID: GroupRun,
	Short:   "Run end-to-end fixtures against the configured agent",
	Long: `Run each fixture under --dir (default tests/fixtures): its setup/
directory is copied to <temp>/<name>/issues, every open issue is processed
with the agent working in <temp>/<name>, and expect.toml is checked.

The temp directory is wiped before the run and left in place afterwards so
failing fixtures can be inspected. Exits 1 when any fixture fails.`,
	RunE: runFixtures,
}

func init() {
	fixturesCmd.Flags().String("dir", fixture.DefaultDir, "Fixtures directory")
	fixturesCmd.Flags().String("temp", fixture.DefaultTemp, "Scratch directory for fixture runs")
	fixturesCmd.Flags().String("backend", "", "Agent backend (cli|anthropic|openai)")
	fixturesCmd.Flags().String("model", "", "Agent model")
	rootCmd.AddCommand(fixturesCmd)
}

func runFixtures(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	gw, err := agent.New(cfg.Agent, logger)
	if err != nil {
		return err
	}

	dir, _ := cmd.Flags().GetString("dir")
	temp, _ := cmd.Flags().GetString("temp")
	r := &fixture.Runner{
		Dir:           dir,
		TempBase:      temp,
		Gateway:       gw,
		MaxIterations: cfg.MaxIterations,
		Logger:        logger,
	}
	if !jsonOutput {
		r.OnResult = func(res fixture.Result) { fixture.PrintResult(stdout, res) }
	}

	summary, err := r.RunAll(cmd.Context(), args...)
	if err != nil {
		return err
	}
	if jsonOutput {
		if err := outputJSON(cmd.OutOrStdout(), summary); err != nil {
			return err
		}
	} else {
		fixture.PrintSummary(stdout, summary)
	}
	if !summary.OK() {
		return errFailed
	}
	return nil
}
