// Package agent submits issue conversations to a reasoning agent and returns
// its reply.
//
// Three backends implement Gateway: the claude CLI (default), the Anthropic
// Messages API and any OpenAI-compatible chat completions endpoint. The API
// backends drive a tool loop whose tools are confined to the request's
// working directory.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bueller/bueller/internal/config"
	"github.com/bueller/bueller/internal/logging"
	"github.com/bueller/bueller/internal/types"
)

// ErrAPIKeyRequired is returned when an API backend has no key.
var ErrAPIKeyRequired = errors.New("API key required")

// ErrEmptyResponse is returned when the agent replied with nothing.
var ErrEmptyResponse = errors.New("agent returned an empty response")

// ErrToolRoundsExceeded is returned when the agent keeps calling tools past
// the configured limit.
var ErrToolRoundsExceeded = errors.New("tool round limit exceeded")

// Action kinds
const (
	ActionWriteFile  = "write_file"
	ActionRunCommand = "run_command"
)

// Action is a side effect the agent performed while producing a reply.
type Action struct {
	Kind   string `json:"kind"`
	Path   string `json:"path,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Request is one agent invocation.
type Request struct {
	IssueName string
	Messages  []types.Message
	WorkDir   string
	Iteration int // 1-based
}

// Response is the agent's reply for one invocation.
type Response struct {
	Content      string
	Actions      []Action
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// Gateway submits a conversation to an agent. Respond blocks until the agent
// replies or ctx is done; cancellation aborts the in-flight call.
type Gateway interface {
	Respond(ctx context.Context, req Request) (*Response, error)
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, req Request) (*Response, error)

// Respond calls f.
func (f GatewayFunc) Respond(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// New builds the backend selected by cfg.Backend.
func New(cfg config.AgentConfig, logger *slog.Logger) (Gateway, error) {
	logger = logging.OrDefault(logger)
	switch cfg.Backend {
	case "", config.BackendCLI:
		return NewCLI(cfg, logger), nil
	case config.BackendAnthropic:
		return NewAnthropic(cfg, logger)
	case config.BackendOpenAI:
		return NewOpenAI(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: unknown agent backend %q", config.ErrInvalidConfig, cfg.Backend)
	}
}
