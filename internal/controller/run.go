package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bueller/bueller/internal/agent"
	"github.com/bueller/bueller/internal/types"
)

// Result is the outcome of one issue run.
type Result struct {
	Name       string
	State      types.State
	Iterations int
	From       types.Lifecycle
	To         types.Lifecycle // Empty unless the issue was relocated
	Actions    []agent.Action
	Duration   time.Duration
	Err        error
}

// Passed reports whether the run reached a terminal state and relocated the
// issue.
func (r Result) Passed() bool {
	return r.State.IsTerminal() && r.To != ""
}

// TimedOut reports whether the run was cut short by the run timeout.
func (r Result) TimedOut() bool {
	return r.State == types.StateTimedOut
}

// MarshalJSON renders durations in milliseconds and the error as text.
func (r Result) MarshalJSON() ([]byte, error) {
	out := struct {
		Name       string          `json:"name"`
		State      types.State     `json:"state"`
		Passed     bool            `json:"passed"`
		Iterations int             `json:"iterations"`
		From       types.Lifecycle `json:"from"`
		To         types.Lifecycle `json:"to,omitempty"`
		Actions    []agent.Action  `json:"actions,omitempty"`
		DurationMS int64           `json:"duration_ms"`
		Error      string          `json:"error,omitempty"`
	}{
		Name:       r.Name,
		State:      r.State,
		Passed:     r.Passed(),
		Iterations: r.Iterations,
		From:       r.From,
		To:         r.To,
		Actions:    r.Actions,
		DurationMS: r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// Summary aggregates the results of a RunAll.
type Summary struct {
	RunID    string        `json:"run_id"`
	Results  []Result      `json:"results"`
	Total    int           `json:"total"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	TimedOut int           `json:"timed_out"`
	Duration time.Duration `json:"-"`
}

// NewSummary tallies results. Timed-out runs count as failed.
func NewSummary(runID string, results []Result) Summary {
	s := Summary{RunID: runID, Results: results, Total: len(results)}
	for _, r := range results {
		switch {
		case r.Passed():
			s.Passed++
		case r.TimedOut():
			s.TimedOut++
			s.Failed++
		default:
			s.Failed++
		}
	}
	return s
}

// OK reports whether every issue passed.
func (s Summary) OK() bool {
	return s.Failed == 0
}

// FailedNames lists failing issues in run order; timeouts are suffixed
// with " (timeout)".
func (s Summary) FailedNames() []string {
	var names []string
	for _, r := range s.Results {
		if r.Passed() {
			continue
		}
		name := r.Name
		if r.TimedOut() {
			name += " (timeout)"
		}
		names = append(names, name)
	}
	return names
}

// RunAll processes the named issues, or every open issue when names is
// empty, with bounded concurrency under the run timeout. Results keep the
// input order. The error is non-nil only when discovery fails.
func (c *Controller) RunAll(ctx context.Context, names ...string) (Summary, error) {
	start := time.Now()
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	if len(names) == 0 {
		discovered, err := c.store.Discover(ctx, types.LifecycleOpen)
		if err != nil {
			return Summary{RunID: c.runID}, fmt.Errorf("discover open issues: %w", err)
		}
		names = discovered
	}
	c.logger.InfoContext(ctx, "run starting",
		"run_id", c.runID,
		"issues", len(names),
		"concurrency", c.cfg.Concurrency,
		"timeout", c.cfg.Timeout)

	results := make([]Result, len(names))
	var g errgroup.Group
	g.SetLimit(c.cfg.Concurrency)
	for i, name := range names {
		g.Go(func() error {
			results[i] = c.Run(ctx, name)
			return nil
		})
	}
	_ = g.Wait() // Run reports failures in its Result

	s := NewSummary(c.runID, results)
	s.Duration = time.Since(start)
	c.logger.InfoContext(ctx, "run finished",
		"run_id", c.runID,
		"total", s.Total,
		"passed", s.Passed,
		"failed", s.Failed,
		"timed_out", s.TimedOut,
		"duration", s.Duration.Round(time.Millisecond))
	return s, nil
}
