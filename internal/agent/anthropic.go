package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bueller/bueller/internal/config"
	"github.com/bueller/bueller/internal/telemetry"
)

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = "claude-sonnet-4-5"

// Anthropic drives the Messages API with a tool loop.
type Anthropic struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	maxRounds int
	retry     retryPolicy
	runner    CommandRunner
	logger    *slog.Logger
}

var _ Gateway = (*Anthropic)(nil)

// NewAnthropic returns an Anthropic gateway. ANTHROPIC_API_KEY is used when
// the config carries no key.
func NewAnthropic(cfg config.AgentConfig, logger *slog.Logger) (*Anthropic, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or agent.api_key", ErrAPIKeyRequired)
	}

	// Retries are handled here so they show up in logs and spans.
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultAnthropicModel
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		model:     anthropic.Model(model),
		maxTokens: int64(orDefault(cfg.MaxTokens, config.DefaultMaxTokens)),
		maxRounds: orDefault(cfg.MaxToolRounds, config.DefaultMaxToolRounds),
		retry:     retryPolicy{retries: cfg.Retries, retryable: isAnthropicRetryable},
		runner:    RunCommand,
		logger:    logger,
	}, nil
}

// Respond runs the tool loop until the model stops asking for tools.
func (a *Anthropic) Respond(ctx context.Context, req Request) (*Response, error) {
	tracer := telemetry.Tracer(instrumentationScope)
	ctx, span := tracer.Start(ctx, "anthropic.respond")
	defer span.End()
	span.SetAttributes(
		attribute.String("bueller.agent.model", string(a.model)),
		attribute.String("bueller.issue", req.IssueName),
		attribute.Int("bueller.iteration", req.Iteration),
	)

	resp, err := a.respond(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int64("bueller.agent.input_tokens", resp.InputTokens),
		attribute.Int64("bueller.agent.output_tokens", resp.OutputTokens),
		attribute.Int("bueller.agent.actions", len(resp.Actions)),
	)
	return resp, nil
}

func (a *Anthropic) respond(ctx context.Context, req Request) (*Response, error) {
	toolbox, err := NewToolbox(req.WorkDir, a.runner, a.logger)
	if err != nil {
		return nil, err
	}
	system, err := SystemPrompt(req)
	if err != nil {
		return nil, err
	}

	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    []anthropic.TextBlockParam{{Type: "text", Text: system}},
		Messages:  anthropicMessages(chatTurns(req)),
		Tools:     anthropicTools(toolbox.Specs()),
	}

	result := &Response{Model: string(a.model)}
	var text []string
	for round := 1; ; round++ {
		if round > a.maxRounds {
			return nil, fmt.Errorf("%w: %d rounds", ErrToolRoundsExceeded, a.maxRounds)
		}

		message, err := a.call(ctx, params)
		if err != nil {
			return nil, err
		}
		result.InputTokens += message.Usage.InputTokens
		result.OutputTokens += message.Usage.OutputTokens

		var results []anthropic.ContentBlockParamUnion
		for _, block := range message.Content {
			switch block.Type {
			case "text":
				if s := strings.TrimSpace(block.Text); s != "" {
					text = append(text, s)
				}
			case "tool_use":
				out, isErr := toolbox.Execute(ctx, block.Name, string(block.Input))
				a.logger.DebugContext(ctx, "tool executed", "tool", block.Name, "is_error", isErr, "round", round)
				results = append(results, anthropic.NewToolResultBlock(block.ID, out, isErr))
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if len(results) == 0 || message.StopReason != anthropic.StopReasonToolUse {
			break
		}
		params.Messages = append(params.Messages, message.ToParam(), anthropic.NewUserMessage(results...))
	}

	result.Actions = toolbox.Actions()
	result.Content = strings.Join(text, "\n\n")
	if result.Content == "" {
		return nil, ErrEmptyResponse
	}
	return result, nil
}

func (a *Anthropic) call(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	var message *anthropic.Message
	attempts, err := a.retry.do(ctx, func() error {
		t0 := time.Now()
		m, err := a.client.Messages.New(ctx, params)
		if err != nil {
			a.logger.DebugContext(ctx, "anthropic request failed", "error", err)
			return err
		}
		recordUsage(ctx, config.BackendAnthropic, string(a.model), m.Usage.InputTokens, m.Usage.OutputTokens, time.Since(t0))
		message = m
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("anthropic request failed after %d attempt(s): %w", attempts, err)
	}
	return message, nil
}

func anthropicMessages(turns []turn) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		block := anthropic.NewTextBlock(t.Content)
		if t.Role == roleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
			continue
		}
		messages = append(messages, anthropic.NewUserMessage(block))
	}
	return messages
}

func anthropicTools(specs []ToolSpec) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, len(specs))
	for i, s := range specs {
		tools[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        s.Name,
				Description: anthropic.String(s.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: s.Schema.Properties,
					Required:   s.Schema.Required,
				},
			},
		}
	}
	return tools
}

func isAnthropicRetryable(err error) bool {
	if isTransient(err) {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.StatusCode)
	}
	return false
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
