package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bueller/bueller/internal/config"
	"github.com/bueller/bueller/internal/logging"
	"github.com/bueller/bueller/internal/storage"
	"github.com/bueller/bueller/internal/storage/fsstore"
	"github.com/bueller/bueller/internal/telemetry"
	"github.com/bueller/bueller/internal/ui"
)

// Command groups for help output
const (
	GroupIssues = "issues"
	GroupRun    = "run"
)

var (
	issuesDir   string
	configFile  string
	verboseFlag bool
	quietFlag   bool
	jsonOutput  bool
	logFormat   string

	logger *slog.Logger
	stdout *ui.Printer
	stderr *ui.Printer
)

// errFailed is returned by commands that already reported their failures;
// main exits 1 without printing it again.
var errFailed = errors.New("failed")

var rootCmd = &cobra.Command{
	Use:   "bueller",
	Short: "bueller - drive issue conversations to completion with an AI agent",
	Long: `bueller works through markdown issue files in <issues_dir>/open. Each issue
is a conversation between @user and @claude. The agent is asked to respond
until it reports the task done (the issue moves to review) or stuck (the
issue moves to stuck), or the iteration budget runs out.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		format, err := logging.ParseFormat(logFormat)
		if err != nil {
			return err
		}
		logger = logging.New(cmd.ErrOrStderr(), logging.Options{
			Level:  logging.LevelFor(verboseFlag, quietFlag),
			Format: format,
		})
		slog.SetDefault(logger)
		stdout = ui.NewPrinter(cmd.OutOrStdout())
		stderr = ui.NewPrinter(cmd.ErrOrStderr())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&issuesDir, "issues-dir", config.DefaultIssuesDir, "Issues directory holding open/, review/ and stuck/")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: <issues-dir>/.bueller/config.yaml, then ./.bueller.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", string(logging.FormatText), "Log format (text|json)")

	rootCmd.AddGroup(
		&cobra.Group{ID: GroupIssues, Title: "Issues:"},
		&cobra.Group{ID: GroupRun, Title: "Running:"},
	)
}

// loadConfig resolves and validates configuration with cmd's flags bound.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: configFile, Flags: cmd.Flags()})
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.File != "" {
		logger.Debug("loaded config", "file", cfg.File)
	}
	return cfg, nil
}

// openStore returns the instrumented issue store for cfg.
func openStore(cfg *config.Config) storage.Store {
	return telemetry.WrapStore(fsstore.New(cfg.IssuesDir))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	if err := telemetry.Init(ctx, "bueller", Version); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: telemetry disabled: %v\n", err)
	}

	err := rootCmd.ExecuteContext(ctx)
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	telemetry.Shutdown(shutdownCtx)
	cancel()

	if err != nil {
		if !errors.Is(err, errFailed) {
			p := ui.NewPrinter(os.Stderr)
			p.Printf("%s %v\n", p.Fail("Error:"), err)
		}
		os.Exit(1)
	}
}
