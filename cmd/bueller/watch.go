package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/bueller/bueller/internal/types"
	"github.com/bueller/bueller/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: GroupRun,
	Short:   "Process open issues now and whenever new ones arrive",
	Long: `Run every open issue, then keep watching <issues_dir>/open and run new
issue files as they appear. An issue that fails stays open and is not
retried until it is moved out and back (for example with reply --reopen)
or watch restarts.

Stops on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	addRunFlags(watchCmd)
	watchCmd.Flags().Duration("debounce", watch.DefaultDebounce, "Quiet period after a change before running")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	lock, err := acquireRunLock(cfg, "watch")
	if err != nil {
		return err
	}
	defer releaseRunLock(lock)

	store := openStore(cfg)
	if err := store.Init(ctx); err != nil {
		return err
	}
	ctrl, err := newController(cfg, store, stdout)
	if err != nil {
		return err
	}

	run := func(ctx context.Context, names []string) error {
		summary, err := ctrl.RunAll(ctx, names...)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), summary)
		}
		printRunSummary(stdout, summary)
		return nil
	}

	debounce, _ := cmd.Flags().GetDuration("debounce")
	w := watch.New(store, filepath.Join(cfg.IssuesDir, types.LifecycleOpen.Dir()), run,
		watch.WithDebounce(debounce),
		watch.WithLogger(logger),
	)
	if !jsonOutput {
		stdout.Printf("%s Watching %s %s\n", stdout.InfoIcon(),
			filepath.Join(cfg.IssuesDir, types.LifecycleOpen.Dir()), stdout.Muted("(Ctrl+C to stop)"))
	}
	start := time.Now()
	err = w.Run(ctx)
	logger.Info("watch stopped", "uptime", time.Since(start).Round(time.Second))
	return err
}
