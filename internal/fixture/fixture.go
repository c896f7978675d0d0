// Package fixture runs end-to-end fixtures: a seeded issues directory is
// processed by the controller in a scratch working directory and the result
// is checked against the fixture's expect.toml.
//
// Layout:
//
//	tests/fixtures/<name>/setup/       copied to <temp>/<name>/issues
//	tests/fixtures/<name>/expect.toml  assertions, see Expect
package fixture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bueller/bueller/internal/agent"
	"github.com/bueller/bueller/internal/audit"
	"github.com/bueller/bueller/internal/config"
	"github.com/bueller/bueller/internal/controller"
	"github.com/bueller/bueller/internal/logging"
	"github.com/bueller/bueller/internal/storage/fsstore"
)

// Fixture layout and defaults.
const (
	ExpectFile     = "expect.toml"
	SetupDir       = "setup"
	OutputFile     = "bueller.output.txt"
	DefaultDir     = "tests/fixtures"
	DefaultTemp    = ".test-tmp"
	DefaultTimeout = 60 * time.Second
	issuesDirName  = "issues"
)

// ErrNoFixtures is returned by RunAll when the fixtures directory is empty.
var ErrNoFixtures = errors.New("no fixtures found")

// Runner runs fixtures against a gateway.
type Runner struct {
	Dir           string // Fixtures directory
	TempBase      string // Scratch directory, wiped by Prepare
	Gateway       agent.Gateway
	MaxIterations int // Used when expect.toml sets none
	Logger        *slog.Logger
	OnResult      func(Result)
}

// Result is the outcome of one fixture.
type Result struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Err      error         `json:"-"`
	Timeout  bool          `json:"timeout,omitempty"`
	Dir      string        `json:"dir,omitempty"`
	Duration time.Duration `json:"-"`
}

// MarshalJSON adds the error text and the duration in milliseconds.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	out := struct {
		plain
		Error      string `json:"error,omitempty"`
		DurationMS int64  `json:"duration_ms"`
	}{plain: plain(r), DurationMS: r.Duration.Milliseconds()}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// Summary aggregates fixture results.
type Summary struct {
	Results  []Result `json:"results"`
	Total    int      `json:"total"`
	Passed   int      `json:"passed"`
	Failed   int      `json:"failed"`
	TempBase string   `json:"temp_base"`
}

// FailedNames lists failing fixtures; timeouts are suffixed with " (timeout)".
func (s Summary) FailedNames() []string {
	var names []string
	for _, r := range s.Results {
		if r.Passed {
			continue
		}
		if r.Timeout {
			names = append(names, r.Name+" (timeout)")
			continue
		}
		names = append(names, r.Name)
	}
	return names
}

// OK reports whether every fixture passed.
func (s Summary) OK() bool {
	return s.Failed == 0
}

// Discover lists fixture directories, sorted.
func (r *Runner) Discover() ([]string, error) {
	entries, err := os.ReadDir(r.dir())
	if err != nil {
		return nil, fmt.Errorf("fixtures directory not found: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Prepare wipes and recreates the scratch directory.
func (r *Runner) Prepare() error {
	if err := os.RemoveAll(r.tempBase()); err != nil {
		return fmt.Errorf("clean %s: %w", r.tempBase(), err)
	}
	return os.MkdirAll(r.tempBase(), 0o755)
}

// RunAll prepares the scratch directory and runs the named fixtures, or
// all of them when names is empty. Fixtures run one at a time.
func (r *Runner) RunAll(ctx context.Context, names ...string) (Summary, error) {
	if len(names) == 0 {
		discovered, err := r.Discover()
		if err != nil {
			return Summary{}, err
		}
		if len(discovered) == 0 {
			return Summary{}, fmt.Errorf("%w in %s", ErrNoFixtures, r.dir())
		}
		names = discovered
	}
	if err := r.Prepare(); err != nil {
		return Summary{}, err
	}

	s := Summary{TempBase: r.tempBase()}
	for _, name := range names {
		res := r.Run(ctx, name)
		if r.OnResult != nil {
			r.OnResult(res)
		}
		s.Results = append(s.Results, res)
		if res.Passed {
			s.Passed++
		} else {
			s.Failed++
		}
	}
	s.Total = len(s.Results)
	return s, nil
}

// Run runs one fixture. Problems with the fixture itself fail it rather
// than aborting the run.
func (r *Runner) Run(ctx context.Context, name string) Result {
	start := time.Now()
	res := r.run(ctx, name)
	res.Duration = time.Since(start)
	res.Passed = res.Err == nil
	return res
}

func (r *Runner) run(ctx context.Context, name string) Result {
	res := Result{Name: name}
	logger := logging.OrDefault(r.Logger)

	fixtureDir := filepath.Join(r.dir(), name)
	if info, err := os.Stat(fixtureDir); err != nil || !info.IsDir() {
		res.Err = fmt.Errorf("fixture directory not found: %s", fixtureDir)
		return res
	}
	expect, err := LoadExpect(filepath.Join(fixtureDir, ExpectFile))
	if err != nil {
		res.Err = fmt.Errorf("%s: %w", name, err)
		return res
	}
	setup := filepath.Join(fixtureDir, SetupDir)
	if info, err := os.Stat(setup); err != nil || !info.IsDir() {
		res.Err = fmt.Errorf("setup directory not found in %s", fixtureDir)
		return res
	}

	work := filepath.Join(r.tempBase(), name)
	res.Dir = work
	if err := os.RemoveAll(work); err != nil {
		res.Err = err
		return res
	}
	if err := os.MkdirAll(work, 0o755); err != nil {
		res.Err = err
		return res
	}
	issuesDir := filepath.Join(work, issuesDirName)
	if err := os.CopyFS(issuesDir, os.DirFS(setup)); err != nil {
		res.Err = fmt.Errorf("copy setup: %w", err)
		return res
	}

	out, err := os.Create(filepath.Join(work, OutputFile))
	if err != nil {
		res.Err = err
		return res
	}
	defer func() { _ = out.Close() }()

	timeout := expect.Timeout.Duration
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	maxIterations := expect.MaxIterations
	if maxIterations <= 0 {
		maxIterations = r.MaxIterations
	}
	if maxIterations <= 0 {
		maxIterations = config.DefaultMaxIterations
	}

	abs, err := filepath.Abs(work)
	if err != nil {
		res.Err = err
		return res
	}
	ctrl, err := controller.New(fsstore.New(issuesDir), r.Gateway, controller.Config{
		MaxIterations: maxIterations,
		Timeout:       timeout,
		Concurrency:   1,
		WorkDir:       abs,
	},
		controller.WithLogger(logging.New(out, logging.Options{Level: slog.LevelDebug})),
		controller.WithAudit(audit.Open(config.StateDir(issuesDir))),
	)
	if err != nil {
		res.Err = err
		return res
	}

	logger.InfoContext(ctx, "running fixture", "fixture", name, "timeout", timeout)
	summary, err := ctrl.RunAll(ctx)
	if err != nil {
		res.Err = err
		return res
	}
	if summary.TimedOut > 0 {
		res.Timeout = true
		res.Err = fmt.Errorf("test took longer than %s", timeout)
		return res
	}

	res.Err = expect.Verify(work)
	return res
}

func (r *Runner) dir() string {
	if r.Dir == "" {
		return DefaultDir
	}
	return r.Dir
}

func (r *Runner) tempBase() string {
	if r.TempBase == "" {
		return DefaultTemp
	}
	return r.TempBase
}
