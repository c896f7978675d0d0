package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/bueller/bueller/internal/agent"
	"github.com/bueller/bueller/internal/audit"
	"github.com/bueller/bueller/internal/config"
	"github.com/bueller/bueller/internal/controller"
	"github.com/bueller/bueller/internal/storage"
	"github.com/bueller/bueller/internal/types"
	"github.com/bueller/bueller/internal/ui"
)

var runCmd = &cobra.Command{
	Use:     "run [issue...]",
	GroupID: GroupRun,
	Short:   "Process open issues until each is done, stuck or out of budget",
	Long: `Process every issue in <issues_dir>/open, or only the named ones.

Each issue is sent to the agent repeatedly. A reply ending in STATUS: DONE
moves the issue to review, STATUS: STUCK moves it to stuck, anything else
continues the conversation until --max-iterations is reached, which also
moves the issue to stuck. Issues that fail or time out stay in open.

Exits 1 when any issue failed or timed out.`,
	RunE: runRun,
}

func init() {
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

// addRunFlags registers the flags shared by run and watch. Defaults shown
// here apply only when neither config nor environment sets the value.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().Int("max-iterations", config.DefaultMaxIterations, "Agent turns per issue before it is moved to stuck")
	cmd.Flags().Duration("timeout", config.DefaultTimeout, "Whole-run time limit (0 disables it)")
	cmd.Flags().Int64("timeout-ms", 0, "Whole-run time limit in milliseconds (overrides --timeout)")
	cmd.Flags().Int("concurrency", config.DefaultConcurrency, "Issues processed at once")
	cmd.Flags().String("work-dir", "", "Agent working directory (default: current directory)")
	cmd.Flags().String("backend", config.BackendCLI, "Agent backend (cli|anthropic|openai)")
	cmd.Flags().String("model", "", "Agent model")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	lock, err := acquireRunLock(cfg, "run")
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

	summary, err := ctrl.RunAll(ctx, args...)
	if err != nil {
		return err
	}
	if jsonOutput {
		if err := outputJSON(cmd.OutOrStdout(), summary); err != nil {
			return err
		}
	} else {
		printRunSummary(stdout, summary)
	}
	if !summary.OK() {
		return errFailed
	}
	return nil
}

// newController wires the agent gateway, audit log and status output.
// Status lines go to p unless --json is set.
func newController(cfg *config.Config, store storage.Store, p *ui.Printer) (*controller.Controller, error) {
	gw, err := agent.New(cfg.Agent, logger)
	if err != nil {
		return nil, err
	}
	var mu sync.Mutex
	hook := func(r controller.Result) {
		if jsonOutput {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		printRunResult(p, r)
	}
	return controller.New(store, gw, controller.ConfigFrom(cfg),
		controller.WithLogger(logger),
		controller.WithAudit(audit.Open(config.StateDir(cfg.IssuesDir))),
		controller.WithResultHook(hook),
	)
}

// printRunResult writes one status line per finished issue.
func printRunResult(p *ui.Printer, r controller.Result) {
	iterations := "1 iteration"
	if r.Iterations != 1 {
		iterations = fmt.Sprintf("%d iterations", r.Iterations)
	}
	detail := p.Muted(fmt.Sprintf("(%s, %s, %s)", r.State, iterations, r.Duration.Round(time.Millisecond)))
	switch {
	case r.Passed():
		icon := p.PassIcon()
		if r.To != types.LifecycleReview {
			icon = p.WarnIcon()
		}
		p.Printf("%s %s → %s %s\n", icon, r.Name, r.To, detail)
	case r.TimedOut():
		p.Printf("%s %s %s %s\n", p.FailIcon(), r.Name, p.Fail("(timeout)"), detail)
	default:
		p.Printf("%s %s %s\n", p.FailIcon(), r.Name, detail)
		if r.Err != nil {
			p.Printf("    %s\n", p.Fail(ui.FirstLine(r.Err.Error(), 200)))
		}
	}
}

// printRunSummary writes totals and the failing issues.
func printRunSummary(p *ui.Printer, s controller.Summary) {
	if s.Total == 0 {
		p.Printf("%s No open issues\n", p.InfoIcon())
		return
	}
	p.Println()
	p.Println(p.Separator())
	p.Printf("Total:  %d\n", s.Total)
	p.Printf("Passed: %d\n", s.Passed)
	p.Printf("Failed: %d\n", s.Failed)
	p.Printf("%s\n", p.Muted(fmt.Sprintf("run %s in %s", s.RunID, s.Duration.Round(time.Millisecond))))
	if s.OK() {
		return
	}
	p.Println()
	p.Println("Failed issues:")
	for _, name := range s.FailedNames() {
		p.Printf("  - %s\n", name)
	}
}
