package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bueller/bueller/internal/config"
	"github.com/bueller/bueller/internal/ui"
)

// CLI runs an agent command line tool, by default the claude CLI, with the
// rendered prompt on stdin.
type CLI struct {
	command string
	args    []string
	model   string
	runner  CommandRunner
	logger  *slog.Logger
}

var _ Gateway = (*CLI)(nil)

// NewCLI returns a CLI gateway.
func NewCLI(cfg config.AgentConfig, logger *slog.Logger) *CLI {
	command := cfg.Command
	if command == "" {
		command = config.DefaultCommand
	}
	args := cfg.Args
	if args == nil {
		args = config.DefaultArgs
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CLI{
		command: command,
		args:    append([]string(nil), args...),
		model:   cfg.Model,
		runner:  RunCommand,
		logger:  logger,
	}
}

// Respond runs the command once. The process is killed when ctx is done.
func (c *CLI) Respond(ctx context.Context, req Request) (*Response, error) {
	prompt, err := CLIPrompt(req)
	if err != nil {
		return nil, err
	}

	args := append([]string(nil), c.args...)
	if c.model != "" {
		args = append(args, "--model", c.model)
	}

	start := time.Now()
	stdout, stderr, err := c.runner(ctx, req.WorkDir, c.command, args, prompt)
	c.logger.DebugContext(ctx, "agent command finished",
		"command", c.command,
		"duration_ms", time.Since(start).Milliseconds(),
		"stdout_bytes", len(stdout),
		"error", err)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s interrupted: %w", c.command, ctxErr)
		}
		return nil, fmt.Errorf("%s failed: %w: %s", c.command, err, ui.FirstLine(strings.TrimSpace(stderr), 500))
	}

	content, err := parseCLIOutput(stdout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.command, err)
	}
	return &Response{Content: content, Model: c.model}, nil
}

// cliResult is the result record printed by `claude --output-format json`.
type cliResult struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	Result  string `json:"result"`
	IsError bool   `json:"is_error"`
}

// parseCLIOutput extracts the reply from the CLI's output. JSON output is
// either one result object or, with --verbose, an array of events ending in
// one. Anything that is not JSON is taken as the reply itself.
func parseCLIOutput(stdout string) (string, error) {
	out := strings.TrimSpace(stdout)
	if out == "" {
		return "", ErrEmptyResponse
	}

	var res *cliResult
	switch out[0] {
	case '{':
		var r cliResult
		if err := json.Unmarshal([]byte(out), &r); err == nil {
			res = &r
		}
	case '[':
		var events []cliResult
		if err := json.Unmarshal([]byte(out), &events); err == nil {
			for i := len(events) - 1; i >= 0; i-- {
				if events[i].Type == "result" {
					res = &events[i]
					break
				}
			}
			if res == nil {
				return "", errors.New("no result event in agent output")
			}
		}
	}
	if res == nil {
		return out, nil
	}

	if res.IsError {
		msg := strings.TrimSpace(res.Result)
		if msg == "" {
			msg = res.Subtype
		}
		return "", fmt.Errorf("agent reported an error: %s", msg)
	}
	content := strings.TrimSpace(res.Result)
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}
