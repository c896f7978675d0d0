package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bueller/bueller/internal/config"
	"github.com/bueller/bueller/internal/lockfile"
	"github.com/bueller/bueller/internal/storage"
	"github.com/bueller/bueller/internal/timeparsing"
	"github.com/bueller/bueller/internal/types"
	"github.com/bueller/bueller/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: GroupIssues,
	Short:   "Show issues per lifecycle",
	Long: `List the issues in open, review and stuck.

--since keeps issues modified after a point in time: a duration ("2d",
"36h"), a date ("2025-01-10") or a phrase ("2 days ago", "last monday").`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().String("since", "", "Only issues modified since this time")
	statusCmd.Flags().String("format", "text", "Output format (text|json|yaml)")
	rootCmd.AddCommand(statusCmd)
}

// statusReport is the rendered form of status.
type statusReport struct {
	IssuesDir  string            `json:"issues_dir" yaml:"issues_dir"`
	Since      *time.Time        `json:"since,omitempty" yaml:"since,omitempty"`
	RunningPID int               `json:"running_pid,omitempty" yaml:"running_pid,omitempty"`
	Lifecycles []lifecycleStatus `json:"lifecycles" yaml:"lifecycles"`
}

type lifecycleStatus struct {
	Lifecycle types.Lifecycle `json:"lifecycle" yaml:"lifecycle"`
	Count     int             `json:"count" yaml:"count"`
	Issues    []issueStatus   `json:"issues" yaml:"issues"`
}

type issueStatus struct {
	Name     string    `json:"name" yaml:"name"`
	Modified time.Time `json:"modified" yaml:"modified"`
	Size     int64     `json:"size" yaml:"size"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")
	if jsonOutput {
		format = "json"
	}

	var since *time.Time
	if s, _ := cmd.Flags().GetString("since"); s != "" {
		t, err := timeparsing.ParseSince(s, time.Now())
		if err != nil {
			return err
		}
		since = &t
	}

	report, err := buildStatus(ctx, openStore(cfg), since)
	if err != nil {
		return err
	}
	report.IssuesDir = cfg.IssuesDir
	if held, pid := lockfile.Held(config.StateDir(cfg.IssuesDir)); held {
		report.RunningPID = pid
	}
	return writeStatus(cmd.OutOrStdout(), stdout, report, format)
}

func buildStatus(ctx context.Context, store storage.Store, since *time.Time) (*statusReport, error) {
	report := &statusReport{Since: since}
	for _, l := range types.Lifecycles {
		names, err := store.Discover(ctx, l)
		if err != nil {
			return nil, err
		}
		ls := lifecycleStatus{Lifecycle: l, Issues: []issueStatus{}}
		for _, name := range names {
			entry, err := store.Stat(ctx, l, name)
			if err != nil {
				return nil, err
			}
			if since != nil && entry.ModTime.Before(*since) {
				continue
			}
			ls.Issues = append(ls.Issues, issueStatus{Name: name, Modified: entry.ModTime, Size: entry.Size})
		}
		ls.Count = len(ls.Issues)
		report.Lifecycles = append(report.Lifecycles, ls)
	}
	return report, nil
}

func writeStatus(w io.Writer, p *ui.Printer, report *statusReport, format string) error {
	switch format {
	case "json":
		return outputJSON(w, report)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
	default:
		return fmt.Errorf("unknown format %q (expected text, json or yaml)", format)
	}

	if report.RunningPID > 0 {
		p.Printf("%s run in progress (pid %d)\n\n", p.InfoIcon(), report.RunningPID)
	}
	for i, ls := range report.Lifecycles {
		if i > 0 {
			p.Println()
		}
		p.Printf("%s %s\n", p.Category(string(ls.Lifecycle)), p.Muted(fmt.Sprintf("(%d)", ls.Count)))
		for _, is := range ls.Issues {
			p.Printf("  %s %s\n", is.Name, p.Muted(is.Modified.Local().Format("2006-01-02 15:04")))
		}
	}
	return nil
}
