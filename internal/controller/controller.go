// Package controller drives open issues through the agent until each one is
// resolved, stuck or out of budget, then relocates it.
//
// One issue is processed sequentially: load, ask the agent, append its turn,
// classify, and either loop or move the file. Distinct issues may run
// concurrently under RunAll.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/bueller/bueller/internal/agent"
	"github.com/bueller/bueller/internal/audit"
	"github.com/bueller/bueller/internal/config"
	"github.com/bueller/bueller/internal/conversation"
	"github.com/bueller/bueller/internal/logging"
	"github.com/bueller/bueller/internal/storage"
	"github.com/bueller/bueller/internal/telemetry"
	"github.com/bueller/bueller/internal/types"
)

// ErrTimeout marks results cut short by the run timeout.
var ErrTimeout = errors.New("run timed out")

const scopeName = "github.com/bueller/bueller/controller"

// Config holds the controller configuration.
type Config struct {
	// MaxIterations bounds agent turns per issue. Must be positive.
	MaxIterations int
	// Timeout bounds a whole RunAll. Zero disables it.
	Timeout time.Duration
	// Concurrency is how many issues RunAll processes at once.
	Concurrency int
	// WorkDir is the agent's working directory.
	WorkDir string
	// ContinuePrompt is appended as a user turn when the agent asks for
	// another iteration and budget remains.
	ContinuePrompt string
}

// ConfigFrom extracts the controller settings from a loaded configuration.
func ConfigFrom(c *config.Config) Config {
	return Config{
		MaxIterations:  c.MaxIterations,
		Timeout:        c.Timeout,
		Concurrency:    c.Concurrency,
		WorkDir:        c.WorkDir,
		ContinuePrompt: c.ContinuePrompt,
	}
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = logging.OrDefault(l) }
}

// WithAudit records turns and transitions in an audit log.
func WithAudit(l *audit.Log) Option {
	return func(c *Controller) { c.audit = l }
}

// WithRunID sets the id attached to logs and audit entries.
func WithRunID(id string) Option {
	return func(c *Controller) { c.runID = id }
}

// WithResultHook calls fn with every finished issue result. RunAll may call
// it from several goroutines at once.
func WithResultHook(fn func(Result)) Option {
	return func(c *Controller) { c.onResult = fn }
}

// Controller is the iteration controller.
type Controller struct {
	store    storage.Store
	gateway  agent.Gateway
	cfg      Config
	logger   *slog.Logger
	audit    *audit.Log
	runID    string
	onResult func(Result)

	tracer        trace.Tracer
	iterations    metric.Int64Counter
	outcomes      metric.Int64Counter
	agentDuration metric.Float64Histogram
}

// New creates a Controller.
func New(store storage.Store, gateway agent.Gateway, cfg Config, opts ...Option) (*Controller, error) {
	if store == nil || gateway == nil {
		return nil, errors.New("controller: store and gateway are required")
	}
	if cfg.MaxIterations <= 0 {
		return nil, fmt.Errorf("%w: max_iterations must be positive, got %d", config.ErrInvalidConfig, cfg.MaxIterations)
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("%w: timeout must not be negative, got %s", config.ErrInvalidConfig, cfg.Timeout)
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if strings.TrimSpace(cfg.ContinuePrompt) == "" {
		cfg.ContinuePrompt = config.DefaultContinuePrompt
	}
	if cfg.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("controller: working directory: %w", err)
		}
		cfg.WorkDir = wd
	}

	c := &Controller{
		store:   store,
		gateway: gateway,
		cfg:     cfg,
		logger:  slog.Default(),
		tracer:  telemetry.Tracer(scopeName),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.runID == "" {
		if id, err := audit.NewID(); err == nil {
			c.runID = id
		} else {
			c.runID = fmt.Sprintf("%d", time.Now().UnixNano())
		}
	}

	if err := c.initMetrics(telemetry.Meter(scopeName)); err != nil {
		c.logger.Warn("metric setup failed; continuing without some instruments", "error", err)
	}
	return c, nil
}

// initMetrics creates the controller instruments. A failed instrument is left
// nil and skipped when recording.
func (c *Controller) initMetrics(m metric.Meter) error {
	var errs []error
	var err error
	if c.iterations, err = m.Int64Counter("bueller.iterations",
		metric.WithDescription("Agent turns appended to issues"),
	); err != nil {
		c.iterations = nil
		errs = append(errs, fmt.Errorf("bueller.iterations: %w", err))
	}
	if c.outcomes, err = m.Int64Counter("bueller.outcomes",
		metric.WithDescription("Issue runs by final state"),
	); err != nil {
		c.outcomes = nil
		errs = append(errs, fmt.Errorf("bueller.outcomes: %w", err))
	}
	if c.agentDuration, err = m.Float64Histogram("bueller.agent.duration",
		metric.WithDescription("Agent call duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		c.agentDuration = nil
		errs = append(errs, fmt.Errorf("bueller.agent.duration: %w", err))
	}
	return errors.Join(errs...)
}

// RunID returns the id of this controller's run.
func (c *Controller) RunID() string {
	return c.runID
}

// Config returns the effective configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// Run drives one open issue to a final state. It never panics on a bad
// issue; every failure is reported in the Result.
func (c *Controller) Run(ctx context.Context, name string) Result {
	start := time.Now()
	res := Result{Name: name, State: types.StateRunning, From: types.LifecycleOpen}

	ctx = logging.WithFields(ctx, logging.Fields{RunID: c.runID, Issue: name, Component: "controller"})
	ctx, span := c.tracer.Start(ctx, "bueller.issue", trace.WithAttributes(
		attribute.String("bueller.issue", name),
		attribute.String("bueller.run_id", c.runID),
	))
	defer span.End()

	c.logger.InfoContext(ctx, "processing issue", "max_iterations", c.cfg.MaxIterations)
	c.run(ctx, &res)
	res.Duration = time.Since(start)

	span.SetAttributes(
		attribute.String("bueller.state", string(res.State)),
		attribute.Int("bueller.iterations", res.Iterations),
	)
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	}
	if c.outcomes != nil {
		c.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(res.State))))
	}

	if res.Err != nil {
		c.logger.WarnContext(ctx, "issue failed", "state", res.State, "iterations", res.Iterations, "error", res.Err)
	} else {
		c.logger.InfoContext(ctx, "issue finished", "state", res.State, "iterations", res.Iterations, "to", res.To, "duration", res.Duration)
	}
	if c.onResult != nil {
		c.onResult(res)
	}
	return res
}

func (c *Controller) run(ctx context.Context, res *Result) {
	for res.State == types.StateRunning {
		if res.Iterations >= c.cfg.MaxIterations {
			res.State = types.StateExhausted
			break
		}

		// The file is the source of truth; every turn is rebuilt from it.
		issue, err := c.store.Load(ctx, types.LifecycleOpen, res.Name)
		if err != nil {
			c.fail(ctx, res, err)
			return
		}

		signal, err := c.iterate(ctx, issue, res)
		if err != nil {
			c.fail(ctx, res, err)
			return
		}

		switch signal {
		case types.SignalDone:
			res.State = types.StateDone
		case types.SignalStuck:
			res.State = types.StateStuck
		default:
			if res.Iterations < c.cfg.MaxIterations {
				if err := c.appendTurn(ctx, res.Name, types.AuthorUser, c.cfg.ContinuePrompt); err != nil {
					c.fail(ctx, res, fmt.Errorf("append continuation: %w", err))
					return
				}
				c.record(ctx, &audit.Entry{Kind: audit.KindContinue, Issue: res.Name, Iteration: res.Iterations})
			}
		}
	}

	c.relocate(ctx, res)
}

// iterate runs one agent turn, persists it and classifies the turn as it
// reads back from the file.
func (c *Controller) iterate(ctx context.Context, issue *types.Issue, res *Result) (types.Signal, error) {
	iteration := res.Iterations + 1
	ctx = logging.WithFields(ctx, logging.Fields{Iteration: iteration})
	ctx, span := c.tracer.Start(ctx, "bueller.iteration", trace.WithAttributes(
		attribute.String("bueller.issue", res.Name),
		attribute.Int("bueller.iteration", iteration),
	))
	defer span.End()

	c.logger.DebugContext(ctx, "calling agent", "messages", len(issue.Messages))
	start := time.Now()
	resp, err := c.gateway.Respond(ctx, agent.Request{
		IssueName: res.Name,
		Messages:  append([]types.Message(nil), issue.Messages...),
		WorkDir:   c.cfg.WorkDir,
		Iteration: iteration,
	})
	elapsed := time.Since(start)
	if c.agentDuration != nil {
		c.agentDuration.Record(ctx, float64(elapsed.Milliseconds()))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("agent failed on iteration %d: %w", iteration, err)
	}

	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return "", fmt.Errorf("agent failed on iteration %d: %w", iteration, agent.ErrEmptyResponse)
	}

	// A reply already received is kept even if the deadline passed meanwhile.
	keep := context.WithoutCancel(ctx)
	if err := c.appendTurn(keep, res.Name, types.AuthorClaude, content); err != nil {
		return "", fmt.Errorf("record agent reply: %w", err)
	}
	res.Iterations = iteration
	res.Actions = append(res.Actions, resp.Actions...)
	if c.iterations != nil {
		c.iterations.Add(ctx, 1)
	}

	saved, err := c.savedReply(keep, res.Name)
	if err != nil {
		return "", fmt.Errorf("record agent reply: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("agent reply on iteration %d recorded after deadline: %w", iteration, err)
	}

	signal := conversation.ClassifySignal(saved.Content)
	span.SetAttributes(attribute.String("bueller.signal", string(signal)))
	c.logger.InfoContext(ctx, "agent turn",
		"signal", signal,
		"actions", len(resp.Actions),
		"duration", elapsed.Round(time.Millisecond))
	c.record(ctx, &audit.Entry{
		Kind:      audit.KindAgentTurn,
		Issue:     res.Name,
		Iteration: iteration,
		Signal:    string(signal),
		Duration:  elapsed.Milliseconds(),
		Actions:   len(resp.Actions),
	})
	return signal, nil
}

// appendTurn persists a turn to the open issue.
func (c *Controller) appendTurn(ctx context.Context, name string, author types.Author, content string) error {
	return c.store.Append(ctx, types.LifecycleOpen, name, author, content)
}

// savedReply reads back the agent turn just appended.
func (c *Controller) savedReply(ctx context.Context, name string) (types.Message, error) {
	issue, err := c.store.Load(ctx, types.LifecycleOpen, name)
	if err != nil {
		return types.Message{}, err
	}
	last, ok := conversation.LatestMessage(issue)
	if !ok || last.Author != types.AuthorClaude {
		return types.Message{}, fmt.Errorf("issue %s: appended reply did not read back as the latest turn", name)
	}
	return last, nil
}

// relocate performs the single move out of open for a terminal state.
func (c *Controller) relocate(ctx context.Context, res *Result) {
	dest, ok := res.State.Destination()
	if !ok {
		return
	}
	if err := c.store.Move(ctx, res.Name, types.LifecycleOpen, dest); err != nil {
		c.fail(ctx, res, fmt.Errorf("move to %s: %w", dest, err))
		return
	}
	res.To = dest
	c.record(ctx, &audit.Entry{
		Kind:      audit.KindTransition,
		Issue:     res.Name,
		Iteration: res.Iterations,
		State:     string(res.State),
		From:      string(types.LifecycleOpen),
		To:        string(dest),
	})
}

// fail ends the run without a move. A passed deadline is a timeout; any
// other error, including cancellation, is a failure.
func (c *Controller) fail(ctx context.Context, res *Result, err error) {
	res.State = types.StateFailed
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.State = types.StateTimedOut
		if !errors.Is(err, ErrTimeout) {
			err = fmt.Errorf("%w: %w", ErrTimeout, err)
		}
	}
	res.Err = err
	c.record(context.WithoutCancel(ctx), &audit.Entry{
		Kind:      audit.KindFailure,
		Issue:     res.Name,
		Iteration: res.Iterations,
		State:     string(res.State),
		Error:     err.Error(),
	})
}

// record appends to the audit log. Failures are logged and ignored.
func (c *Controller) record(ctx context.Context, e *audit.Entry) {
	if c.audit == nil {
		return
	}
	e.RunID = c.runID
	if _, err := c.audit.Append(e); err != nil {
		c.logger.WarnContext(ctx, "audit append failed", "error", err)
	}
}
